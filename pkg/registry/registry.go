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

// Package registry tracks which devices currently have a live presence
// record under the authenticated principal, and owns the "selected device"
// the dispatcher targets.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
	"github.com/fleetcmd/fleetcmd/pkg/notify"
	"github.com/rs/zerolog"
)

// Registry maintains the device set for one principal from the presence
// space of the event log. Its subscription is long-lived: opened at Start
// (sign-in) and closed only at Stop (sign-out). A monitoring error is
// non-fatal; the device set is treated as unknown until the next successful
// snapshot.
type Registry struct {
	log      eventlog.EventLog
	notifier notify.Notifier
	logger   zerolog.Logger

	mu        sync.Mutex
	principal string
	sub       eventlog.Subscription
	devices   models.DeviceSet
	known     bool
	selection string
	onUpdate  []func(models.DeviceSet)
}

// New creates a registry. Start must be called before any reads are
// meaningful.
func New(log eventlog.EventLog, notifier notify.Notifier, lg logger.Logger) *Registry {
	return &Registry{
		log:      log,
		notifier: notifier,
		logger:   lg.WithComponent("registry"),
		devices:  models.DeviceSet{},
	}
}

// Start opens the presence watch for principal. Calling Start on a running
// registry is an error; Stop first.
func (r *Registry) Start(ctx context.Context, principal string) error {
	if principal == "" {
		return ErrNoPrincipal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return ErrAlreadyStarted
	}

	sub, err := r.log.WatchValues(ctx, eventlog.PresencePrefix(principal), r.handleSnapshot, r.handleError)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMonitoringFailed, err)
	}

	r.principal = principal
	r.sub = sub
	r.known = false

	return nil
}

// Stop closes the presence watch and clears all derived state, including the
// selection. Idempotent.
func (r *Registry) Stop() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.principal = ""
	r.devices = models.DeviceSet{}
	r.known = false
	r.selection = ""
	r.mu.Unlock()

	if sub == nil {
		return nil
	}

	return sub.Unsubscribe()
}

// Snapshot returns the current device set and whether it is known. After a
// monitoring failure known is false and the returned set is the last one
// observed, which may be stale.
func (r *Registry) Snapshot() (set models.DeviceSet, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.devices.Clone(), r.known
}

// Selection returns the selected device id, or "" when none is selected.
func (r *Registry) Selection() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.selection
}

// Select sets the selection explicitly. The device must be present in the
// current set.
func (r *Registry) Select(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.devices.Has(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	r.selection = deviceID

	return nil
}

// OnUpdate registers a callback invoked with each new device set snapshot.
func (r *Registry) OnUpdate(cb func(models.DeviceSet)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onUpdate = append(r.onUpdate, cb)
}

func (r *Registry) handleSnapshot(raw map[string][]byte) {
	r.mu.Lock()

	prefix := eventlog.PresencePrefix(r.principal)
	set := make(models.DeviceSet, len(raw))

	for key, payload := range raw {
		deviceID, ok := eventlog.DeviceFromPresenceKey(prefix, key)
		if !ok {
			continue
		}

		var p models.Presence
		if err := json.Unmarshal(payload, &p); err != nil {
			r.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Unreadable presence payload")
		}

		set[deviceID] = p
	}

	r.devices = set
	r.known = true

	// Auto-select on the transition "no selection, set becomes non-empty".
	// The lexicographically smallest id is a usability default only; nothing
	// downstream may depend on which device gets picked. An existing
	// selection is never changed here, even if its device left the set.
	var connected string

	if r.selection == "" && len(set) > 0 {
		r.selection = set.IDs()[0]
		connected = r.selection
	}

	callbacks := append([]func(models.DeviceSet){}, r.onUpdate...)
	snap := set.Clone()
	r.mu.Unlock()

	if connected != "" {
		r.logger.Info().Str("device_id", connected).Msg("Auto-selected device")
		r.notifier.DeviceConnected(connected)
	}

	for _, cb := range callbacks {
		cb(snap)
	}
}

func (r *Registry) handleError(err error) {
	r.mu.Lock()
	r.known = false
	r.mu.Unlock()

	r.logger.Warn().Err(err).Msg("Presence monitoring failed; device set unknown until next snapshot")
	r.notifier.MonitoringFailed(fmt.Errorf("%w: %w", ErrMonitoringFailed, err))
}
