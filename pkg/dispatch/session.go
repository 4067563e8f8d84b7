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

package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/fleetcmd/fleetcmd/pkg/identity"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
	"github.com/fleetcmd/fleetcmd/pkg/notify"
	"github.com/fleetcmd/fleetcmd/pkg/registry"
)

// Session ties identity, registry, dispatcher and correlator into the one
// externally visible operation: run a command against the currently selected
// device and deliver its outcome. There is no global state; everything the
// session needs is injected.
type Session struct {
	identity   identity.Provider
	registry   *registry.Registry
	dispatcher *Dispatcher
	correlator *Correlator
	notifier   notify.Notifier
	logger     zerolog.Logger
	config     Config
}

// NewSession wires a dispatch session from its collaborators.
func NewSession(
	id identity.Provider,
	reg *registry.Registry,
	dispatcher *Dispatcher,
	correlator *Correlator,
	notifier notify.Notifier,
	cfg *Config,
	lg logger.Logger,
) *Session {
	return &Session{
		identity:   id,
		registry:   reg,
		dispatcher: dispatcher,
		correlator: correlator,
		notifier:   notifier,
		logger:     lg.WithComponent("session"),
		config:     *cfg,
	}
}

// RunCommand dispatches name with params to the selected device and blocks
// until a terminal outcome. Every call produces exactly one outcome and
// exactly one DispatchOutcome notification, never zero, never more.
// Canceling ctx resolves the call early with a failed outcome.
func (s *Session) RunCommand(ctx context.Context, name string, params map[string]any) models.Outcome {
	outcome := s.run(ctx, name, params)

	s.logger.Info().
		Str("command", name).
		Str("outcome", string(outcome.Kind)).
		Msg("Command resolved")

	s.notifier.DispatchOutcome(name, outcome)

	return outcome
}

func (s *Session) run(ctx context.Context, name string, params map[string]any) models.Outcome {
	principal := s.identity.CurrentPrincipal()
	if principal == "" {
		return models.Rejected("not authenticated")
	}

	device := s.registry.Selection()
	if device == "" {
		return models.Rejected("no device")
	}

	s.notifier.DispatchStarted(name)

	// The result subscription opens before the command is appended, so an
	// agent that answers immediately cannot slip its result past the wait.
	pending, err := s.correlator.Reserve(ctx, principal, device, name)
	if err != nil {
		return models.Failed(err.Error())
	}
	defer pending.Cancel()

	commandID, err := s.dispatcher.Dispatch(ctx, principal, device, name, params)
	if err != nil {
		return models.Failed(err.Error())
	}

	if err := pending.Bind(commandID); err != nil {
		return models.Failed(err.Error())
	}

	record, err := pending.Wait(ctx, s.config.resultTimeout())

	switch {
	case errors.Is(err, ErrTimedOut):
		return models.TimedOut()
	case errors.Is(err, ErrCanceled):
		return models.Failed("command canceled")
	case err != nil:
		return models.Failed(err.Error())
	}

	if record.Succeeded() {
		return models.Delivered(record.Data)
	}

	message := record.Error
	if message == "" {
		message = "unknown error"
	}

	return models.Failed(message)
}
