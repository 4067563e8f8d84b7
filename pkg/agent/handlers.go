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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrUnsupportedCommand = errors.New("unsupported command")

// HandlerFunc executes one command and returns its result payload.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Mux routes command names to handlers. Commands without a handler get a
// failure result, not silence; the operator side is waiting on a deadline.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Register installs a handler for name, replacing any previous one.
func (m *Mux) Register(name string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[name] = h
}

// Handle runs the handler for name, or fails with ErrUnsupportedCommand.
func (m *Mux) Handle(ctx context.Context, name string, params map[string]any) (any, error) {
	m.mu.RLock()
	h, ok := m.handlers[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, name)
	}

	return h(ctx, params)
}

// DefaultMux returns a mux with the built-in handlers: get_info, get_time
// and echo. Device-specific commands are the embedder's to register.
func DefaultMux() *Mux {
	m := NewMux()
	m.Register("get_info", handleGetInfo)
	m.Register("get_time", handleGetTime)
	m.Register("echo", handleEcho)

	return m
}

func handleGetInfo(ctx context.Context, _ map[string]any) (any, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host info: %w", err)
	}

	payload := map[string]any{
		"model":      info.Hostname,
		"platform":   info.Platform,
		"os_version": info.PlatformVersion,
		"uptime_s":   info.Uptime,
	}

	if vm, memErr := mem.VirtualMemoryWithContext(ctx); memErr == nil {
		payload["memory_mb"] = vm.Total / (1 << 20)
	}

	return payload, nil
}

func handleGetTime(_ context.Context, _ map[string]any) (any, error) {
	return map[string]any{"unix_ms": time.Now().UnixMilli()}, nil
}

func handleEcho(_ context.Context, params map[string]any) (any, error) {
	return params, nil
}
