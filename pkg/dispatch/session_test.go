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
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/identity"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
	"github.com/fleetcmd/fleetcmd/pkg/registry"
)

// recordingNotifier counts notifications so tests can assert the
// exactly-one-outcome contract.
type recordingNotifier struct {
	mu        sync.Mutex
	started   []string
	outcomes  []models.Outcome
	connected []string
}

func (n *recordingNotifier) DeviceConnected(deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.connected = append(n.connected, deviceID)
}

func (n *recordingNotifier) DispatchStarted(command string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.started = append(n.started, command)
}

func (n *recordingNotifier) DispatchOutcome(_ string, outcome models.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.outcomes = append(n.outcomes, outcome)
}

func (n *recordingNotifier) MonitoringFailed(error) {}

func (n *recordingNotifier) outcomeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.outcomes)
}

type sessionFixture struct {
	log      *eventlog.MemoryLog
	identity *identity.StaticProvider
	registry *registry.Registry
	notifier *recordingNotifier
	session  *Session
}

func newSessionFixture(t *testing.T, cfg *Config) *sessionFixture {
	t.Helper()

	log := eventlog.NewMemoryLog()
	lg := logger.NewTestLogger()
	notifier := &recordingNotifier{}
	id := identity.NewStaticProvider("u1")
	reg := registry.New(log, notifier, lg)

	session := NewSession(id, reg,
		NewDispatcher(log, lg),
		NewCorrelator(log, cfg, lg),
		notifier, cfg, lg)

	t.Cleanup(func() { _ = reg.Stop() })

	return &sessionFixture{
		log:      log,
		identity: id,
		registry: reg,
		notifier: notifier,
		session:  session,
	}
}

// startWithDevice signs the fixture's registry in and waits for the device
// to be auto-selected from its presence record.
func (f *sessionFixture) startWithDevice(t *testing.T, device string) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, f.log.PutValue(ctx, eventlog.PresenceKey("u1", device), models.Presence{Hostname: device}))
	require.NoError(t, f.registry.Start(ctx, "u1"))

	require.Eventually(t, func() bool {
		return f.registry.Selection() == device
	}, time.Second, 5*time.Millisecond)
}

// respond answers each command on the device's command path with fn's
// result, echoing the command id like a live agent.
func (f *sessionFixture) respond(t *testing.T, device string, fn func(models.CommandRecord) models.ResultRecord) {
	t.Helper()

	ctx := context.Background()

	sub, err := f.log.SubscribeNew(ctx, eventlog.CommandsPath("u1", device), func(rec eventlog.Record) {
		var cmd models.CommandRecord
		require.NoError(t, json.Unmarshal(rec.Data, &cmd))

		result := fn(cmd)
		result.Command = cmd.Command
		result.CommandID = rec.ID

		_, err := f.log.Append(ctx, eventlog.ResultsPath("u1", device), result)
		require.NoError(t, err)
	}, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sub.Unsubscribe() })
}

func TestRunCommandDelivered(t *testing.T) {
	f := newSessionFixture(t, &Config{})
	f.startWithDevice(t, "d1")

	f.respond(t, "d1", func(models.CommandRecord) models.ResultRecord {
		return models.ResultRecord{
			Status: models.ResultStatusSuccess,
			Data:   json.RawMessage(`{"hostname":"h1"}`),
		}
	})

	outcome := f.session.RunCommand(context.Background(), "get_info", nil)

	assert.Equal(t, models.OutcomeDelivered, outcome.Kind)
	assert.JSONEq(t, `{"hostname":"h1"}`, string(outcome.Payload))
	assert.Equal(t, 1, f.notifier.outcomeCount())
	assert.Equal(t, []string{"get_info"}, f.notifier.started)
}

func TestRunCommandFailedResult(t *testing.T) {
	f := newSessionFixture(t, &Config{})
	f.startWithDevice(t, "d1")

	f.respond(t, "d1", func(models.CommandRecord) models.ResultRecord {
		return models.ResultRecord{
			Status: models.ResultStatusFailure,
			Error:  "unsupported command",
		}
	})

	outcome := f.session.RunCommand(context.Background(), "reboot", nil)

	assert.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "unsupported command", outcome.Message)
	assert.Equal(t, 1, f.notifier.outcomeCount())
}

func TestRunCommandTimedOut(t *testing.T) {
	f := newSessionFixture(t, &Config{ResultTimeout: models.Duration(50 * time.Millisecond)})
	f.startWithDevice(t, "d1")

	// No responder: the wait must expire.
	outcome := f.session.RunCommand(context.Background(), "get_info", nil)

	assert.Equal(t, models.OutcomeTimedOut, outcome.Kind)
	assert.Equal(t, 1, f.notifier.outcomeCount())

	require.Eventually(t, func() bool {
		return f.log.ActiveSubscriptions() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunCommandCanceled(t *testing.T) {
	f := newSessionFixture(t, &Config{ResultTimeout: models.Duration(time.Minute)})
	f.startWithDevice(t, "d1")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan models.Outcome, 1)

	go func() {
		done <- f.session.RunCommand(ctx, "get_info", nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, models.OutcomeFailed, outcome.Kind)
		assert.Equal(t, "command canceled", outcome.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCommand did not resolve after cancel")
	}

	assert.Equal(t, 1, f.notifier.outcomeCount())
}

func TestRunCommandRejectedWithoutIdentity(t *testing.T) {
	f := newSessionFixture(t, &Config{})
	f.identity.Set("")

	outcome := f.session.RunCommand(context.Background(), "get_info", nil)

	assert.Equal(t, models.OutcomeRejected, outcome.Kind)
	assert.Equal(t, "not authenticated", outcome.Message)
	assert.Equal(t, 1, f.notifier.outcomeCount())
	assert.Empty(t, f.notifier.started, "rejected commands never report a dispatch start")
}

func TestRunCommandRejectedWithoutSelection(t *testing.T) {
	f := newSessionFixture(t, &Config{})

	outcome := f.session.RunCommand(context.Background(), "get_info", nil)

	assert.Equal(t, models.OutcomeRejected, outcome.Kind)
	assert.Equal(t, "no device", outcome.Message)
	assert.Equal(t, 1, f.notifier.outcomeCount())
}

func TestRunCommandDispatchFailure(t *testing.T) {
	f := newSessionFixture(t, &Config{})
	f.startWithDevice(t, "d1")

	// Closing the log makes the append fail after the prechecks pass.
	require.NoError(t, f.log.Close())

	outcome := f.session.RunCommand(context.Background(), "get_info", nil)

	assert.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Message, "event log is closed")
	assert.Equal(t, 1, f.notifier.outcomeCount())
}
