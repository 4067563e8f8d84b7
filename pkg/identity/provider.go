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

// Package identity supplies the authenticated principal that scopes every
// path on the event log. The principal is opaque to the rest of the system;
// an empty principal means "not signed in".
package identity

import "sync"

// Provider exposes the current principal and change notification.
type Provider interface {
	// CurrentPrincipal returns the authenticated principal id, or "" if no
	// identity is established.
	CurrentPrincipal() string

	// OnChange registers a callback invoked with the new principal ("" on
	// sign-out) whenever the identity changes.
	OnChange(func(principal string))
}

// StaticProvider holds a settable principal. It backs tests and any caller
// that resolves identity out of band.
type StaticProvider struct {
	mu        sync.Mutex
	principal string
	callbacks []func(string)
}

// NewStaticProvider creates a provider with an initial principal (may be "").
func NewStaticProvider(principal string) *StaticProvider {
	return &StaticProvider{principal: principal}
}

func (s *StaticProvider) CurrentPrincipal() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.principal
}

func (s *StaticProvider) OnChange(cb func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callbacks = append(s.callbacks, cb)
}

// Set changes the principal and notifies registered callbacks. Setting ""
// models sign-out.
func (s *StaticProvider) Set(principal string) {
	s.mu.Lock()
	s.principal = principal
	callbacks := append([]func(string){}, s.callbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(principal)
	}
}
