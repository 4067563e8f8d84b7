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

// Package agent is the device-side runtime: it maintains the device's
// presence record, consumes the device's command stream and appends result
// records. It is a protocol harness for remote management commands an
// embedder explicitly registers, nothing runs that was not installed into
// the mux.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

const defaultRefreshInterval = 30 * time.Second

// Config describes one agent instance.
type Config struct {
	// DeviceID identifies this device under the principal. Defaults to a
	// random id, which is only useful for throwaway runs.
	DeviceID string `json:"device_id"`

	// RefreshInterval is how often the presence record is rewritten so a
	// TTL'd presence bucket keeps the device visible.
	RefreshInterval models.Duration `json:"refresh_interval,omitempty"`

	// HandlerTimeout bounds each command handler execution.
	HandlerTimeout models.Duration `json:"handler_timeout,omitempty"`
}

// Agent implements lifecycle.Service.
type Agent struct {
	log       eventlog.EventLog
	mux       *Mux
	logger    zerolog.Logger
	principal string
	config    Config

	mu     sync.Mutex
	sub    eventlog.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an agent for the given principal. The principal must be the
// identity the event log connection authenticates as; the agent only ever
// touches paths under it.
func New(log eventlog.EventLog, principal string, mux *Mux, cfg *Config, lg logger.Logger) *Agent {
	config := *cfg
	if config.DeviceID == "" {
		config.DeviceID = "device-" + uuid.NewString()[:8]
	}

	return &Agent{
		log:       log,
		mux:       mux,
		logger:    lg.WithComponent("agent"),
		principal: principal,
		config:    config,
	}
}

// DeviceID returns the effective device id.
func (a *Agent) DeviceID() string {
	return a.config.DeviceID
}

// Start writes the presence record, subscribes to the command stream and
// begins refreshing presence on an interval.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sub != nil {
		return fmt.Errorf("agent %s already started", a.config.DeviceID)
	}

	if err := a.writePresence(ctx); err != nil {
		return err
	}

	sub, err := a.log.SubscribeNew(ctx, eventlog.CommandsPath(a.principal, a.config.DeviceID),
		func(rec eventlog.Record) { a.handleCommand(ctx, rec) },
		func(err error) {
			a.logger.Warn().Err(err).Msg("Command stream error")
		})
	if err != nil {
		return fmt.Errorf("failed to subscribe to command stream: %w", err)
	}

	a.sub = sub

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.wg.Add(1)
	go a.refreshLoop(refreshCtx)

	a.logger.Info().Str("device_id", a.config.DeviceID).Msg("Agent online")

	return nil
}

// Stop unsubscribes, halts the refresh loop and removes the presence record
// so the device disappears from registries promptly instead of waiting out
// the bucket TTL.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	sub := a.sub
	cancel := a.cancel
	a.sub = nil
	a.cancel = nil
	a.mu.Unlock()

	if sub == nil {
		return nil
	}

	cancel()
	a.wg.Wait()

	if err := sub.Unsubscribe(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close command subscription")
	}

	if err := a.log.DeleteValue(ctx, eventlog.PresenceKey(a.principal, a.config.DeviceID)); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}

	a.logger.Info().Str("device_id", a.config.DeviceID).Msg("Agent offline")

	return nil
}

func (a *Agent) refreshLoop(ctx context.Context) {
	defer a.wg.Done()

	interval := time.Duration(a.config.RefreshInterval)
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.writePresence(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to refresh presence")
			}
		}
	}
}

func (a *Agent) writePresence(ctx context.Context) error {
	presence := models.Presence{
		AgentID:    a.config.DeviceID,
		LastSeenMS: time.Now().UnixMilli(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		presence.Hostname = info.Hostname
		presence.Platform = info.Platform
		presence.OSVersion = info.PlatformVersion
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		presence.MemoryMB = vm.Total / (1 << 20)
	}

	key := eventlog.PresenceKey(a.principal, a.config.DeviceID)

	if err := a.log.PutValue(ctx, key, presence); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}

	return nil
}

// handleCommand answers one command record. Every readable command gets
// exactly one result record with the command id echoed back; the operator
// side correlates on it.
func (a *Agent) handleCommand(ctx context.Context, rec eventlog.Record) {
	var cmd models.CommandRecord
	if err := json.Unmarshal(rec.Data, &cmd); err != nil {
		a.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Unreadable command record")

		return
	}

	a.logger.Info().Str("command", cmd.Command).Str("command_id", rec.ID).Msg("Handling command")

	handlerCtx := ctx

	if timeout := time.Duration(a.config.HandlerTimeout); timeout > 0 {
		var cancel context.CancelFunc

		handlerCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := a.mux.Handle(handlerCtx, cmd.Command, cmd.Params)

	result := models.ResultRecord{
		Command:   cmd.Command,
		CommandID: rec.ID,
	}

	if err != nil {
		result.Status = models.ResultStatusFailure
		result.Error = err.Error()
	} else {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			result.Status = models.ResultStatusFailure
			result.Error = marshalErr.Error()
		} else {
			result.Status = models.ResultStatusSuccess
			result.Data = data
		}
	}

	path := eventlog.ResultsPath(a.principal, a.config.DeviceID)

	if _, err := a.log.Append(ctx, path, result); err != nil {
		a.logger.Error().Err(err).Str("command_id", rec.ID).Msg("Failed to append result record")
	}
}
