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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPaths(t *testing.T) {
	assert.Equal(t, "u1/devices/d1/commands", CommandsPath("u1", "d1"))
	assert.Equal(t, "u1/devices/d1/results", ResultsPath("u1", "d1"))
	assert.Equal(t, "u1/devices", PresencePrefix("u1"))
	assert.Equal(t, "u1/devices/d1", PresenceKey("u1", "d1"))
}

func TestDeviceFromPresenceKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		device string
		ok     bool
	}{
		{name: "device key", key: "u1/devices/d1", device: "d1", ok: true},
		{name: "wrong prefix", key: "u2/devices/d1"},
		{name: "nested key", key: "u1/devices/d1/commands"},
		{name: "prefix itself", key: "u1/devices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device, ok := DeviceFromPresenceKey("u1/devices", tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.device, device)
		})
	}
}

func TestValidPath(t *testing.T) {
	require.NoError(t, ValidPath("u1/devices/d1/commands"))
	require.NoError(t, ValidPath("u1"))

	for _, path := range []string{
		"",
		"u1//commands",
		"/u1",
		"u1/",
		"u1/dev.ice",
		"u1/dev ice",
		"u1/*",
		"u1/>",
	} {
		assert.ErrorIs(t, ValidPath(path), ErrInvalidPath, "path %q", path)
	}
}

func TestPathSubjectMapping(t *testing.T) {
	assert.Equal(t, "log.u1.devices.d1.commands", pathSubject("u1/devices/d1/commands"))
	assert.Equal(t, "u1.devices.d1", pathKey("u1/devices/d1"))
	assert.Equal(t, "u1/devices/d1", keyPath("u1.devices.d1"))
}
