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

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Known result payload shapes. Which shape a command produces is purely a
// rendering concern; the dispatch core hands payloads through opaquely and
// anything unrecognized falls back to pretty-printed JSON.

type deviceInfoPayload struct {
	Model     string `json:"model"`
	Platform  string `json:"platform"`
	OSVersion string `json:"os_version"`
	MemoryMB  uint64 `json:"memory_mb"`
	UptimeS   uint64 `json:"uptime_s"`
}

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

func renderPayload(command string, payload json.RawMessage) string {
	if len(payload) == 0 {
		return "  (no payload)"
	}

	switch command {
	case "get_info":
		var info deviceInfoPayload
		if err := json.Unmarshal(payload, &info); err == nil {
			return fmt.Sprintf("  device: %s\n  os: %s %s\n  memory: %d MB\n  uptime: %ds",
				info.Model, info.Platform, info.OSVersion, info.MemoryMB, info.UptimeS)
		}
	case "get_location":
		var loc locationPayload
		if err := json.Unmarshal(payload, &loc); err == nil && (loc.Latitude != 0 || loc.Longitude != 0) {
			return fmt.Sprintf("  lat: %f\n  lon: %f\n  address: %s", loc.Latitude, loc.Longitude, loc.Address)
		}
	}

	return indentJSON(payload)
}

func indentJSON(payload json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "  ", "  "); err != nil {
		return "  " + strings.TrimSpace(string(payload))
	}

	return "  " + buf.String()
}
