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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fleetcmd/fleetcmd/pkg/logger"
)

var errNoEnvConfig = errors.New("environment variable with JSON config not set")

// EnvLoader loads a complete JSON config document from an environment
// variable. The variable name is <prefix>CONFIG_JSON.
type EnvLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvLoader creates a new environment variable config loader.
func NewEnvLoader(log logger.Logger, prefix string) *EnvLoader {
	return &EnvLoader{logger: log, prefix: prefix}
}

// Load implements Loader. The path argument is ignored; the environment is
// the source of truth when CONFIG_SOURCE=env.
func (e *EnvLoader) Load(_ context.Context, _ string, dst interface{}) error {
	key := e.prefix + "CONFIG_JSON"

	jsonConfig := os.Getenv(key)
	if jsonConfig == "" {
		return fmt.Errorf("%w: %s", errNoEnvConfig, key)
	}

	if err := json.Unmarshal([]byte(jsonConfig), dst); err != nil {
		e.logger.Error().Err(err).Str("env", key).Msg("Failed to unmarshal JSON config from environment")

		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	e.logger.Debug().Str("env", key).Msg("Loaded configuration from environment")

	return nil
}
