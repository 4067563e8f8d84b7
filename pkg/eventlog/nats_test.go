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

package eventlog

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	return srv
}

func newTestNATSLog(t *testing.T) *NATSLog {
	t.Helper()

	srv := runJetStreamServer(t)
	t.Cleanup(srv.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log, err := NewNATSLog(ctx, &NATSConfig{
		URL:         srv.ClientURL(),
		PresenceTTL: models.Duration(time.Minute),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestNATSLogAppendAndSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx := context.Background()
	log := newTestNATSLog(t)

	// Pre-subscription record must not be replayed.
	_, err := log.Append(ctx, "u1/devices/d1/results", map[string]any{"n": 0})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		records []Record
	)

	sub, err := log.SubscribeNew(ctx, "u1/devices/d1/results", func(rec Record) {
		mu.Lock()
		defer mu.Unlock()

		records = append(records, rec)
	}, nil)
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	id1, err := log.Append(ctx, "u1/devices/d1/results", map[string]any{"n": 1})
	require.NoError(t, err)

	id2, err := log.Append(ctx, "u1/devices/d1/results", map[string]any{"n": 2})
	require.NoError(t, err)

	// Other paths share the stream but must be filtered out.
	_, err = log.Append(ctx, "u1/devices/d2/results", map[string]any{"n": 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(records) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, id1, records[0].ID)
	assert.Equal(t, id2, records[1].ID)

	// Stream sequences are the record ids, so they are strictly increasing.
	n1, err := strconv.ParseUint(records[0].ID, 10, 64)
	require.NoError(t, err)

	n2, err := strconv.ParseUint(records[1].ID, 10, 64)
	require.NoError(t, err)

	assert.Less(t, n1, n2)
}

func TestNATSLogWatchValues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx := context.Background()
	log := newTestNATSLog(t)

	require.NoError(t, log.PutValue(ctx, "u1/devices/d1", models.Presence{Hostname: "h1"}))

	var (
		mu        sync.Mutex
		snapshots []map[string][]byte
	)

	sub, err := log.WatchValues(ctx, "u1/devices", func(snap map[string][]byte) {
		mu.Lock()
		defer mu.Unlock()

		snapshots = append(snapshots, snap)
	}, nil)
	require.NoError(t, err)

	defer func() { _ = sub.Unsubscribe() }()

	// The initial snapshot carries the pre-existing entry.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		if len(snapshots) == 0 {
			return false
		}

		_, ok := snapshots[0]["u1/devices/d1"]

		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, log.PutValue(ctx, "u1/devices/d2", models.Presence{Hostname: "h2"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(snapshots[len(snapshots)-1]) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, log.DeleteValue(ctx, "u1/devices/d1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		last := snapshots[len(snapshots)-1]
		_, gone := last["u1/devices/d1"]

		return !gone && len(last) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNATSLogDeleteMissingValue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	log := newTestNATSLog(t)

	require.NoError(t, log.DeleteValue(context.Background(), "u1/devices/never-seen"))
}
