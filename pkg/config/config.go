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

// Package config loads JSON configuration from files or the environment into
// typed structs and validates them.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fleetcmd/fleetcmd/pkg/logger"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"
)

// Loader reads configuration from some source into dst.
type Loader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by config structs that can check themselves.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	logger logger.Logger
}

// NewConfig initializes a new Config instance. A nil logger gets replaced
// with a no-op logger so config loading can run before logging is set up.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{logger: log}
}

// LoadAndValidate loads configuration from the source selected by
// CONFIG_SOURCE (file by default) and validates it if it implements Validator.
func (c *Config) LoadAndValidate(ctx context.Context, path string, dst interface{}) error {
	loader, err := c.selectLoader()
	if err != nil {
		return err
	}

	if err := loader.Load(ctx, path, dst); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) selectLoader() (Loader, error) {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	switch source {
	case configSourceEnv:
		return NewEnvLoader(c.logger, os.Getenv("CONFIG_ENV_PREFIX")), nil
	case configSourceFile, "":
		return &FileLoader{logger: c.logger}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errInvalidConfigSource, source)
	}
}
