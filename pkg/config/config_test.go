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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

var errBadConfig = errors.New("bad config")

func (c *testConfig) Validate() error {
	if c.Name == "" {
		return errBadConfig
	}

	return nil
}

func TestLoadAndValidateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"console","port":4222}`), 0o600))

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Name)
	assert.Equal(t, 4222, cfg.Port)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "nope.json"), &cfg)
	require.Error(t, err)
}

func TestLoadAndValidateRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":1}`), 0o600))

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.ErrorIs(t, err, errBadConfig)
}

func TestLoadAndValidateFromEnv(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FLEETCMD_CONFIG_JSON", `{"name":"agent","port":4223}`)
	t.Setenv("CONFIG_ENV_PREFIX", "FLEETCMD_")

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "ignored.json", &cfg)
	require.NoError(t, err)
	assert.Equal(t, "agent", cfg.Name)
}

func TestLoadAndValidateEnvMissingVariable(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "ABSENT_")

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "ignored.json", &cfg)
	require.Error(t, err)
}

func TestLoadAndValidateBadSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "ignored.json", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}
