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

// Package notify carries dispatch lifecycle events to the presentation
// layer. The core guarantees exactly one DispatchOutcome per RunCommand and
// exactly one DeviceConnected per auto-selection.
package notify

import (
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

// Notifier receives user-visible events. Implementations must be fast and
// non-blocking; they are called from dispatch goroutines.
type Notifier interface {
	DeviceConnected(deviceID string)
	DispatchStarted(command string)
	DispatchOutcome(command string, outcome models.Outcome)
	MonitoringFailed(err error)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) DeviceConnected(string) {}
func (Nop) DispatchStarted(string) {}
func (Nop) DispatchOutcome(string, models.Outcome) {}
func (Nop) MonitoringFailed(error) {}

// Log writes every notification to the structured log. Useful headless, and
// as a fallback when no UI is attached.
type Log struct {
	Logger logger.Logger
}

func (l Log) DeviceConnected(deviceID string) {
	l.Logger.Info().Str("device_id", deviceID).Msg("Connected to device")
}

func (l Log) DispatchStarted(command string) {
	l.Logger.Info().Str("command", command).Msg("Command dispatched")
}

func (l Log) DispatchOutcome(command string, outcome models.Outcome) {
	evt := l.Logger.Info()
	if outcome.Kind != models.OutcomeDelivered {
		evt = l.Logger.Warn()
	}

	evt.Str("command", command).
		Str("outcome", string(outcome.Kind)).
		Str("message", outcome.Message).
		Msg("Command completed")
}

func (l Log) MonitoringFailed(err error) {
	l.Logger.Warn().Err(err).Msg("Device monitoring failed")
}
