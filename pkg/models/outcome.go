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

import "encoding/json"

// OutcomeKind enumerates the terminal states of a dispatched command.
type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeTimedOut  OutcomeKind = "timed_out"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Outcome is the single terminal value produced for every RunCommand call.
// Payload is opaque to the core; decoding it into a command-specific shape is
// the presentation layer's business.
type Outcome struct {
	Kind    OutcomeKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Delivered wraps a successful result payload.
func Delivered(payload json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeDelivered, Payload: payload}
}

// Failed wraps a dispatch-time error or an agent-reported failure.
func Failed(message string) Outcome {
	return Outcome{Kind: OutcomeFailed, Message: message}
}

// TimedOut reports that no matching result arrived within the wait window.
func TimedOut() Outcome {
	return Outcome{Kind: OutcomeTimedOut, Message: "no result before deadline"}
}

// Rejected reports that the command never reached the log.
func Rejected(reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Message: reason}
}
