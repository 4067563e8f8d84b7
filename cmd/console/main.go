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

// The console is the operator-facing dashboard: it signs in with NATS
// credentials, watches device presence and dispatches commands to the
// selected device, rendering each outcome as it resolves.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fleetcmd/fleetcmd/pkg/config"
	"github.com/fleetcmd/fleetcmd/pkg/dispatch"
	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/identity"
	"github.com/fleetcmd/fleetcmd/pkg/lifecycle"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
	"github.com/fleetcmd/fleetcmd/pkg/natsutil"
	"github.com/fleetcmd/fleetcmd/pkg/registry"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

// ConsoleConfig is the on-disk configuration for the console binary.
type ConsoleConfig struct {
	NATS      eventlog.NATSConfig      `json:"nats"`
	Dispatch  dispatch.Config          `json:"dispatch"`
	Principal string                   `json:"principal,omitempty"`
	Security  *natsutil.SecurityConfig `json:"security,omitempty"`
	Logging   *logger.Config           `json:"logging,omitempty"`
}

// Validate implements config.Validator.
func (c *ConsoleConfig) Validate() error {
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetcmd/console.json", "Path to console config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg ConsoleConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	// The TUI owns stdout, so logs go to stderr.
	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	logConfig.Output = "stderr"

	consoleLogger, err := lifecycle.CreateComponentLogger("console", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	principal := cfg.Principal

	if cfg.NATS.CredsFile != "" {
		principal, err = identity.PrincipalFromCredsFile(cfg.NATS.CredsFile)
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
	}

	provider := identity.NewStaticProvider(principal)
	if provider.CurrentPrincipal() == "" {
		return errors.New("sign-in failed: set nats.creds_file or principal in the config")
	}

	opts, err := natsutil.ConnectOptions(cfg.Security)
	if err != nil {
		return fmt.Errorf("failed to build TLS options: %w", err)
	}

	cfg.NATS.ConnectName = "fleetcmd-console"

	elog, err := eventlog.NewNATSLog(ctx, &cfg.NATS, consoleLogger, opts...)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = elog.Close() }()

	notifier := &teaNotifier{}

	reg := registry.New(elog, notifier, consoleLogger)

	session := dispatch.NewSession(
		provider,
		reg,
		dispatch.NewDispatcher(elog, consoleLogger),
		dispatch.NewCorrelator(elog, &cfg.Dispatch, consoleLogger),
		notifier,
		&cfg.Dispatch,
		consoleLogger,
	)

	program := tea.NewProgram(newModel(provider.CurrentPrincipal(), session, reg), tea.WithAltScreen())
	notifier.attach(program)

	reg.OnUpdate(func(set models.DeviceSet) {
		program.Send(deviceSetMsg{devices: set, selection: reg.Selection()})
	})

	if err := reg.Start(ctx, provider.CurrentPrincipal()); err != nil {
		return fmt.Errorf("failed to start device monitoring: %w", err)
	}
	defer func() { _ = reg.Stop() }()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("console exited with error: %w", err)
	}

	return nil
}
