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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/fleetcmd/fleetcmd/pkg/agent"
	"github.com/fleetcmd/fleetcmd/pkg/config"
	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/identity"
	"github.com/fleetcmd/fleetcmd/pkg/lifecycle"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/natsutil"
)

var (
	errFailedToLoadConfig = fmt.Errorf("failed to load config")
	errNoPrincipal        = errors.New("no principal: set nats.creds_file or principal in the config")
)

// AgentConfig is the on-disk configuration for the agent binary.
type AgentConfig struct {
	NATS      eventlog.NATSConfig      `json:"nats"`
	Agent     agent.Config             `json:"agent"`
	Principal string                   `json:"principal,omitempty"`
	Security  *natsutil.SecurityConfig `json:"security,omitempty"`
	Logging   *logger.Config           `json:"logging,omitempty"`
}

// Validate implements config.Validator.
func (c *AgentConfig) Validate() error {
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
	configPath := flag.String("config", "/etc/fleetcmd/agent.json", "Path to agent config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg AgentConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	agentLogger, err := lifecycle.CreateComponentLogger("agent", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// The principal comes from the credentials the connection authenticates
	// with; a bare principal in the config only makes sense against an
	// unauthenticated development server.
	principal := cfg.Principal

	if cfg.NATS.CredsFile != "" {
		principal, err = identity.PrincipalFromCredsFile(cfg.NATS.CredsFile)
		if err != nil {
			return fmt.Errorf("failed to derive principal: %w", err)
		}
	}

	if principal == "" {
		return errNoPrincipal
	}

	opts, err := natsutil.ConnectOptions(cfg.Security)
	if err != nil {
		return fmt.Errorf("failed to build TLS options: %w", err)
	}

	cfg.NATS.ConnectName = "fleetcmd-agent"

	elog, err := eventlog.NewNATSLog(ctx, &cfg.NATS, agentLogger, opts...)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = elog.Close() }()

	a := agent.New(elog, principal, agent.DefaultMux(), &cfg.Agent, agentLogger)

	return lifecycle.Run(ctx, a, agentLogger)
}
