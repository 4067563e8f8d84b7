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

package models

import "sort"

// Presence is the metadata blob an agent writes for its device. The core
// observes presence records, it never writes them.
type Presence struct {
	Hostname   string `json:"hostname,omitempty"`
	Platform   string `json:"platform,omitempty"`
	OSVersion  string `json:"os_version,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	MemoryMB   uint64 `json:"memory_mb,omitempty"`
	CPUCount   int    `json:"cpu_count,omitempty"`
	LastSeenMS int64  `json:"last_seen_ms,omitempty"`
}

// DeviceSet is a full snapshot of the devices currently present under a
// principal, keyed by device id. Each registry update replaces the previous
// snapshot wholesale.
type DeviceSet map[string]Presence

// Has reports whether the device id is present in the snapshot.
func (s DeviceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the device ids in lexicographic order. Map iteration order is
// meaningless, so every deterministic choice in the system goes through this.
func (s DeviceSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Clone returns an independent copy of the snapshot.
func (s DeviceSet) Clone() DeviceSet {
	out := make(DeviceSet, len(s))
	for id, p := range s {
		out[id] = p
	}

	return out
}
