/*
 * Copyright 2026 FleetCmd Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package eventlog

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid event log path")

// CommandsPath is where the console appends command records for a device.
func CommandsPath(principal, device string) string {
	return principal + "/devices/" + device + "/commands"
}

// ResultsPath is where an agent appends result records for a device.
func ResultsPath(principal, device string) string {
	return principal + "/devices/" + device + "/results"
}

// PresencePrefix scopes the keyed presence space for a principal's devices.
func PresencePrefix(principal string) string {
	return principal + "/devices"
}

// PresenceKey is the presence entry for one device.
func PresenceKey(principal, device string) string {
	return principal + "/devices/" + device
}

// DeviceFromPresenceKey extracts the device id from a key under
// PresencePrefix(principal).
func DeviceFromPresenceKey(prefix, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}

	return rest, true
}

// ValidPath reports whether every segment of the path is non-empty and free
// of characters that collide with the underlying subject grammar.
func ValidPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}

		if strings.ContainsAny(seg, ".*> \t") {
			return fmt.Errorf("%w: segment %q contains reserved characters", ErrInvalidPath, seg)
		}
	}

	return nil
}
