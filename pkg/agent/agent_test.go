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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

type resultCollector struct {
	mu      sync.Mutex
	results []models.ResultRecord
}

func (c *resultCollector) collect(rec eventlog.Record) {
	var result models.ResultRecord
	if err := json.Unmarshal(rec.Data, &result); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.results = append(c.results, result)
}

func (c *resultCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.results)
}

func (c *resultCollector) last() models.ResultRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.results[len(c.results)-1]
}

func startTestAgent(t *testing.T, log *eventlog.MemoryLog, mux *Mux) *Agent {
	t.Helper()

	a := New(log, "u1", mux, &Config{DeviceID: "d1"}, logger.NewTestLogger())

	require.NoError(t, a.Start(context.Background()))

	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return a
}

func sendCommand(t *testing.T, log *eventlog.MemoryLog, name string, params map[string]any) string {
	t.Helper()

	id, err := log.Append(context.Background(), eventlog.CommandsPath("u1", "d1"), models.CommandRecord{
		Command:   name,
		Params:    params,
		Timestamp: time.Now().UnixMilli(),
		Status:    models.CommandStatusPending,
		UserID:    "u1",
	})
	require.NoError(t, err)

	return id
}

func TestAgentPresenceLifecycle(t *testing.T) {
	log := eventlog.NewMemoryLog()
	a := New(log, "u1", NewMux(), &Config{DeviceID: "d1"}, logger.NewTestLogger())

	require.NoError(t, a.Start(context.Background()))

	raw, ok := log.Value(eventlog.PresenceKey("u1", "d1"))
	require.True(t, ok, "presence record missing after start")

	var presence models.Presence
	require.NoError(t, json.Unmarshal(raw, &presence))
	assert.Equal(t, "d1", presence.AgentID)
	assert.Positive(t, presence.LastSeenMS)

	require.NoError(t, a.Stop(context.Background()))

	_, ok = log.Value(eventlog.PresenceKey("u1", "d1"))
	assert.False(t, ok, "presence record must be removed on stop")

	assert.Zero(t, log.ActiveSubscriptions())
}

func TestAgentAnswersCommandWithEchoedID(t *testing.T) {
	log := eventlog.NewMemoryLog()
	startTestAgent(t, log, DefaultMux())

	collector := &resultCollector{}

	sub, err := log.SubscribeNew(context.Background(), eventlog.ResultsPath("u1", "d1"), collector.collect, nil)
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	commandID := sendCommand(t, log, "echo", map[string]any{"msg": "hi"})

	require.Eventually(t, func() bool {
		return collector.count() == 1
	}, time.Second, 5*time.Millisecond)

	result := collector.last()
	assert.Equal(t, "echo", result.Command)
	assert.Equal(t, commandID, result.CommandID)
	assert.Equal(t, models.ResultStatusSuccess, result.Status)
	assert.JSONEq(t, `{"msg":"hi"}`, string(result.Data))
}

func TestAgentUnsupportedCommandFails(t *testing.T) {
	log := eventlog.NewMemoryLog()
	startTestAgent(t, log, NewMux())

	collector := &resultCollector{}

	sub, err := log.SubscribeNew(context.Background(), eventlog.ResultsPath("u1", "d1"), collector.collect, nil)
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	commandID := sendCommand(t, log, "reboot", nil)

	require.Eventually(t, func() bool {
		return collector.count() == 1
	}, time.Second, 5*time.Millisecond)

	result := collector.last()
	assert.Equal(t, commandID, result.CommandID)
	assert.Equal(t, models.ResultStatusFailure, result.Status)
	assert.Contains(t, result.Error, "unsupported command")
}

func TestAgentHandlerError(t *testing.T) {
	log := eventlog.NewMemoryLog()
	mux := NewMux()
	mux.Register("boom", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("handler exploded")
	})

	startTestAgent(t, log, mux)

	collector := &resultCollector{}

	sub, err := log.SubscribeNew(context.Background(), eventlog.ResultsPath("u1", "d1"), collector.collect, nil)
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	sendCommand(t, log, "boom", nil)

	require.Eventually(t, func() bool {
		return collector.count() == 1
	}, time.Second, 5*time.Millisecond)

	result := collector.last()
	assert.Equal(t, models.ResultStatusFailure, result.Status)
	assert.Equal(t, "handler exploded", result.Error)
}

func TestAgentStartTwice(t *testing.T) {
	log := eventlog.NewMemoryLog()
	a := startTestAgent(t, log, NewMux())

	require.Error(t, a.Start(context.Background()))
}

func TestAgentStopIdempotent(t *testing.T) {
	log := eventlog.NewMemoryLog()
	a := New(log, "u1", NewMux(), &Config{DeviceID: "d1"}, logger.NewTestLogger())

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
}

func TestMuxHandle(t *testing.T) {
	mux := NewMux()
	mux.Register("double", func(_ context.Context, params map[string]any) (any, error) {
		n, _ := params["n"].(float64)
		return map[string]any{"n": n * 2}, nil
	})

	out, err := mux.Handle(context.Background(), "double", map[string]any{"n": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(4)}, out)

	_, err = mux.Handle(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestDefaultMuxBuiltins(t *testing.T) {
	mux := DefaultMux()

	out, err := mux.Handle(context.Background(), "get_time", nil)
	require.NoError(t, err)

	payload, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload, "unix_ms")

	echoed, err := mux.Handle(context.Background(), "echo", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, echoed)
}
