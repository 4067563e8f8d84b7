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

// Package eventlog is the client for the shared, append-only, path-scoped
// event log that is the sole transport between the operator console and
// remote agents. The log guarantees per-path FIFO delivery to subscribers,
// at-least-once delivery, and eventual visibility of writes; everything built
// on top assumes exactly those guarantees and nothing more.
package eventlog

import "context"

// Record is one appended entry as seen by a subscriber. ID is the
// server-assigned id returned by the Append that produced it.
type Record struct {
	ID   string
	Data []byte
}

// Subscription is a handle to an open subscription. Unsubscribe is
// idempotent; the first call tears the subscription down, later calls are
// no-ops.
type Subscription interface {
	Unsubscribe() error
}

// EventLog is the transport contract. Paths are slash-separated strings such
// as "u1/devices/d1/commands"; segments must be subject-safe (see ValidPath).
//
// Append/SubscribeNew operate on append-only record streams. PutValue,
// DeleteValue and WatchValues operate on the keyed presence space, where the
// latest value per key is what matters and deletion removes the key.
type EventLog interface {
	// Append marshals value as JSON, appends it to path and returns the
	// server-assigned record id.
	Append(ctx context.Context, path string, value any) (string, error)

	// SubscribeNew delivers each record appended to path after the
	// subscription is established, once, in append order. Records that
	// existed beforehand are not replayed. onError receives asynchronous
	// subscription failures and is advisory; the subscription stays up
	// until Unsubscribe.
	SubscribeNew(ctx context.Context, path string, onRecord func(Record), onError func(error)) (Subscription, error)

	// PutValue sets the latest value for key. DeleteValue removes it.
	PutValue(ctx context.Context, key string, value any) error
	DeleteValue(ctx context.Context, key string) error

	// WatchValues emits the full current key→value map under prefix: once
	// at subscription time (possibly empty; an absent prefix is not an
	// error), then again after every change. Each snapshot replaces the
	// previous one.
	WatchValues(ctx context.Context, prefix string, onSnapshot func(map[string][]byte), onError func(error)) (Subscription, error)

	Close() error
}
