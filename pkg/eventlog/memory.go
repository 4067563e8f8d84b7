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
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const memoryQueueDepth = 64

// MemoryLog is an in-process EventLog with the same delivery contract as the
// JetStream implementation: per-path append order, new-records-only
// subscriptions, full-snapshot value watches. Callbacks run on a dedicated
// goroutine per subscription, never under the log's lock, so handlers may
// call back into the log.
type MemoryLog struct {
	mu       sync.Mutex
	seq      uint64
	subs     map[int]*memorySub
	watchers map[int]*memoryWatch
	values   map[string][]byte
	nextID   int
	closed   bool
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		subs:     make(map[int]*memorySub),
		watchers: make(map[int]*memoryWatch),
		values:   make(map[string][]byte),
	}
}

type memorySub struct {
	path     string
	ch       chan Record
	onRecord func(Record)
	onError  func(error)
	done     chan struct{}
}

type memoryWatch struct {
	prefix     string
	ch         chan map[string][]byte
	errCh      chan error
	onSnapshot func(map[string][]byte)
	onError    func(error)
	done       chan struct{}
}

func (m *MemoryLog) Append(_ context.Context, path string, value any) (string, error) {
	if err := ValidPath(path); err != nil {
		return "", err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAppendFail, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrLogClosed
	}

	m.seq++
	rec := Record{ID: strconv.FormatUint(m.seq, 10), Data: data}

	for _, sub := range m.subs {
		if sub.path == path {
			sub.ch <- rec
		}
	}

	return rec.ID, nil
}

func (m *MemoryLog) SubscribeNew(_ context.Context, path string, onRecord func(Record), onError func(error)) (Subscription, error) {
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrLogClosed
	}

	sub := &memorySub{
		path:     path,
		ch:       make(chan Record, memoryQueueDepth),
		onRecord: onRecord,
		onError:  onError,
		done:     make(chan struct{}),
	}

	id := m.nextID
	m.nextID++
	m.subs[id] = sub

	go sub.run()

	return newOnceSubscription(func() error {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()

		close(sub.done)

		return nil
	}), nil
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case rec := <-s.ch:
			s.onRecord(rec)
		}
	}
}

func (m *MemoryLog) PutValue(_ context.Context, key string, value any) error {
	if err := ValidPath(key); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLogClosed
	}

	m.values[key] = data
	m.notifyWatchersLocked(key)

	return nil
}

func (m *MemoryLog) DeleteValue(_ context.Context, key string) error {
	if err := ValidPath(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLogClosed
	}

	delete(m.values, key)
	m.notifyWatchersLocked(key)

	return nil
}

func (m *MemoryLog) WatchValues(_ context.Context, prefix string, onSnapshot func(map[string][]byte), onError func(error)) (Subscription, error) {
	if err := ValidPath(prefix); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrLogClosed
	}

	w := &memoryWatch{
		prefix:     prefix,
		ch:         make(chan map[string][]byte, memoryQueueDepth),
		errCh:      make(chan error, 1),
		onSnapshot: onSnapshot,
		onError:    onError,
		done:       make(chan struct{}),
	}

	id := m.nextID
	m.nextID++
	m.watchers[id] = w

	// Initial snapshot; an empty prefix is a valid, empty set.
	w.ch <- m.snapshotLocked(prefix)

	go w.run()

	return newOnceSubscription(func() error {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()

		close(w.done)

		return nil
	}), nil
}

func (w *memoryWatch) run() {
	for {
		select {
		case <-w.done:
			return
		case snap := <-w.ch:
			w.onSnapshot(snap)
		case err := <-w.errCh:
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// ActiveSubscriptions reports how many record subscriptions are open.
// Test hook.
func (m *MemoryLog) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.subs)
}

// Value returns the current value for key. Test hook.
func (m *MemoryLog) Value(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]

	return v, ok
}

// InjectWatchError delivers err to every watcher under prefix, simulating a
// transport failure on the presence subscription. Test hook.
func (m *MemoryLog) InjectWatchError(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.watchers {
		if w.prefix == prefix {
			select {
			case w.errCh <- err:
			default:
			}
		}
	}
}

func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	for _, sub := range m.subs {
		close(sub.done)
	}

	for _, w := range m.watchers {
		close(w.done)
	}

	m.subs = make(map[int]*memorySub)
	m.watchers = make(map[int]*memoryWatch)

	return nil
}

func (m *MemoryLog) snapshotLocked(prefix string) map[string][]byte {
	snap := make(map[string][]byte)

	for k, v := range m.values {
		if strings.HasPrefix(k, prefix+"/") {
			snap[k] = v
		}
	}

	return snap
}

func (m *MemoryLog) notifyWatchersLocked(key string) {
	for _, w := range m.watchers {
		if strings.HasPrefix(key, w.prefix+"/") {
			w.ch <- m.snapshotLocked(w.prefix)
		}
	}
}
