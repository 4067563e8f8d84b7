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

// Package models defines the record shapes exchanged over the shared event
// log between the operator console and remote agents.
package models

import "encoding/json"

// Command status values. A command record is immutable once appended, so the
// only status it ever carries is pending; later state lives in the result
// record written by the agent.
const (
	CommandStatusPending = "pending"
)

// Result status values reported by agents.
const (
	ResultStatusSuccess = "success"
	ResultStatusFailure = "failure"
)

// CommandRecord is appended to <principal>/devices/<device>/commands. Field
// names follow the wire shape already spoken by deployed agents.
type CommandRecord struct {
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
	Timestamp int64          `json:"timestamp"` // unix millis at submission
	Status    string         `json:"status"`
	UserID    string         `json:"user_id"`
}

// ResultRecord is appended by an agent to <principal>/devices/<device>/results.
// CommandID echoes the log-assigned id of the command record being answered;
// agents predating id echo leave it empty.
type ResultRecord struct {
	Command   string          `json:"command"`
	CommandID string          `json:"command_id,omitempty"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Succeeded reports whether the agent completed the command.
func (r *ResultRecord) Succeeded() bool {
	return r.Status == ResultStatusSuccess
}
