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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

const (
	defaultStreamName     = "FLEETLOG"
	defaultPresenceBucket = "fleet-presence"
	subjectPrefix         = "log"
)

// NATSConfig configures the JetStream-backed event log.
type NATSConfig struct {
	URL            string          `json:"url"`
	CredsFile      string          `json:"creds_file,omitempty"`
	StreamName     string          `json:"stream_name,omitempty"`
	PresenceBucket string          `json:"presence_bucket,omitempty"`
	PresenceTTL    models.Duration `json:"presence_ttl,omitempty"`
	ConnectName    string          `json:"connect_name,omitempty"`
}

// NATSLog implements EventLog on NATS JetStream. Record streams live in one
// stream whose subjects mirror log paths; the keyed presence space is a KV
// bucket. The stream sequence is the server-assigned record id.
type NATSLog struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	stream string
	logger logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewNATSLog connects to NATS and ensures the log stream and presence bucket
// exist. Connection options (creds file, TLS) come from opts.
func NewNATSLog(ctx context.Context, config *NATSConfig, log logger.Logger, opts ...nats.Option) (*NATSLog, error) {
	name := config.ConnectName
	if name == "" {
		name = "fleetcmd-eventlog"
	}

	connOpts := append([]nats.Option{nats.Name(name)}, opts...)
	if config.CredsFile != "" {
		connOpts = append(connOpts, nats.UserCredentials(config.CredsFile))
	}

	nc, err := nats.Connect(config.URL, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamName := config.StreamName
	if streamName == "" {
		streamName = defaultStreamName
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to ensure log stream %q: %w", streamName, err)
	}

	bucket := config.PresenceBucket
	if bucket == "" {
		bucket = defaultPresenceBucket
	}

	kvConfig := jetstream.KeyValueConfig{Bucket: bucket}
	if ttl := time.Duration(config.PresenceTTL); ttl > 0 {
		kvConfig.TTL = ttl
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, kvConfig)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to ensure presence bucket %q: %w", bucket, err)
	}

	return &NATSLog{
		nc:     nc,
		js:     js,
		kv:     kv,
		stream: streamName,
		logger: log,
	}, nil
}

func (n *NATSLog) Append(ctx context.Context, path string, value any) (string, error) {
	if err := ValidPath(path); err != nil {
		return "", err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAppendFail, err)
	}

	ack, err := n.js.Publish(ctx, pathSubject(path), data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAppendFail, err)
	}

	return strconv.FormatUint(ack.Sequence, 10), nil
}

func (n *NATSLog) SubscribeNew(ctx context.Context, path string, onRecord func(Record), onError func(error)) (Subscription, error) {
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	cons, err := n.js.OrderedConsumer(ctx, n.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{pathSubject(path)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %q: %w", path, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		meta, metaErr := msg.Metadata()
		if metaErr != nil {
			if onError != nil {
				onError(metaErr)
			}

			return
		}

		onRecord(Record{
			ID:   strconv.FormatUint(meta.Sequence.Stream, 10),
			Data: msg.Data(),
		})
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, consumeErr error) {
		if onError != nil && !errors.Is(consumeErr, jetstream.ErrNoHeartbeat) {
			onError(consumeErr)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to consume %q: %w", path, err)
	}

	return newOnceSubscription(func() error {
		cc.Stop()
		return nil
	}), nil
}

func (n *NATSLog) PutValue(ctx context.Context, key string, value any) error {
	if err := ValidPath(key); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %q: %w", key, err)
	}

	if _, err := n.kv.Put(ctx, pathKey(key), data); err != nil {
		return fmt.Errorf("failed to put key %q: %w", key, err)
	}

	return nil
}

func (n *NATSLog) DeleteValue(ctx context.Context, key string) error {
	if err := ValidPath(key); err != nil {
		return err
	}

	if err := n.kv.Delete(ctx, pathKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}

	return nil
}

func (n *NATSLog) WatchValues(ctx context.Context, prefix string, onSnapshot func(map[string][]byte), onError func(error)) (Subscription, error) {
	if err := ValidPath(prefix); err != nil {
		return nil, err
	}

	watcher, err := n.kv.Watch(ctx, pathKey(prefix)+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to watch prefix %q: %w", prefix, err)
	}

	go n.runWatch(ctx, prefix, watcher, onSnapshot, onError)

	return newOnceSubscription(func() error {
		return watcher.Stop()
	}), nil
}

// runWatch folds the KV update stream into full snapshots. The watcher
// replays current entries first and marks the end of the replay with a nil
// update; only then does the first snapshot go out.
func (n *NATSLog) runWatch(ctx context.Context, prefix string, watcher jetstream.KeyWatcher, onSnapshot func(map[string][]byte), onError func(error)) {
	current := make(map[string][]byte)
	initialized := false

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-watcher.Updates():
			if !ok {
				if ctx.Err() == nil && onError != nil {
					onError(fmt.Errorf("watch on %q ended: %w", prefix, nats.ErrConnectionClosed))
				}

				return
			}

			if update == nil {
				initialized = true
				onSnapshot(cloneSnapshot(current))

				continue
			}

			switch update.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				delete(current, keyPath(update.Key()))
			default:
				current[keyPath(update.Key())] = update.Value()
			}

			if initialized {
				onSnapshot(cloneSnapshot(current))
			}
		}
	}
}

func (n *NATSLog) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.closed = true
	n.nc.Close()

	return nil
}

func cloneSnapshot(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// pathSubject maps "u1/devices/d1/commands" to "log.u1.devices.d1.commands".
func pathSubject(path string) string {
	return subjectPrefix + "." + strings.ReplaceAll(path, "/", ".")
}

// pathKey maps a slash path to a KV key; KV buckets have no subject prefix.
func pathKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func keyPath(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

// onceSubscription makes any teardown function an idempotent Subscription.
type onceSubscription struct {
	once sync.Once
	stop func() error
	err  error
}

func newOnceSubscription(stop func() error) *onceSubscription {
	return &onceSubscription{stop: stop}
}

func (s *onceSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.stop()
	})

	return s.err
}
