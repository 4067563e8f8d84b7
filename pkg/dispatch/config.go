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
	"time"

	"github.com/fleetcmd/fleetcmd/pkg/models"
)

const defaultResultTimeout = 30 * time.Second

// Config tunes the dispatch session.
type Config struct {
	// ResultTimeout bounds each wait for a command result. Zero means the
	// 30 s default.
	ResultTimeout models.Duration `json:"result_timeout,omitempty"`

	// AllowNameMatch enables the legacy fallback for agents that do not
	// echo the command id: a result record carrying NO id may resolve the
	// oldest outstanding wait with the same command name. Two same-named
	// in-flight commands can then cross-deliver, which is exactly why this
	// is off by default. A record that does carry an id is never
	// name-matched.
	AllowNameMatch bool `json:"allow_name_match,omitempty"`
}

func (c *Config) resultTimeout() time.Duration {
	if d := time.Duration(c.ResultTimeout); d > 0 {
		return d
	}

	return defaultResultTimeout
}
