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

// Package dispatch implements the command dispatch and result correlation
// protocol: appending command records to the event log, matching incoming
// result records to outstanding waits, bounding each wait with a deadline,
// and orchestrating the whole round trip per command.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

// Dispatcher appends command records. It never waits for results and never
// retries; retry policy belongs to the caller, which must obtain a fresh
// command id per attempt.
type Dispatcher struct {
	log    eventlog.EventLog
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher on the given event log.
func NewDispatcher(log eventlog.EventLog, lg logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:    log,
		logger: lg.WithComponent("dispatcher"),
	}
}

// Dispatch builds a pending command record and appends it to the device's
// command path, returning the log-assigned command id. The call does nothing
// beyond the append round trip.
func (d *Dispatcher) Dispatch(ctx context.Context, principal, device, name string, params map[string]any) (string, error) {
	if principal == "" {
		return "", ErrNotAuthenticated
	}

	if device == "" {
		return "", ErrNoDeviceSelected
	}

	if name == "" {
		return "", ErrEmptyCommand
	}

	record := models.CommandRecord{
		Command:   name,
		Params:    params,
		Timestamp: time.Now().UnixMilli(),
		Status:    models.CommandStatusPending,
		UserID:    principal,
	}

	id, err := d.log.Append(ctx, eventlog.CommandsPath(principal, device), record)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	d.logger.Debug().
		Str("command", name).
		Str("command_id", id).
		Str("device_id", device).
		Msg("Appended command record")

	return id, nil
}
