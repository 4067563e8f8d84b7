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
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetcmd/fleetcmd/pkg/eventlog"
	"github.com/fleetcmd/fleetcmd/pkg/logger"
	"github.com/fleetcmd/fleetcmd/pkg/models"
)

// unclaimedBuffer bounds how many id-bearing records a stream holds for
// reservations that have not been bound to their command id yet.
const unclaimedBuffer = 16

// Correlator matches result records arriving on a device's result stream to
// outstanding waits. It multiplexes one event log subscription per device
// across all waits for that device: the subscription opens when the first
// wait registers and closes when the last wait resolves, and every incoming
// record is delivered to at most one waiter.
//
// Matching is id-priority: a record carrying a command id resolves only the
// wait with that id. Records without an id are unmatchable unless the legacy
// name fallback is enabled (Config.AllowNameMatch).
//
// The command id is assigned by the log at append time, so a wait cannot
// know its id before the command is sent. Reserve opens the subscription
// first; the append happens next; Bind then attaches the returned id. Any
// id-bearing record arriving in that window is buffered and claimed at Bind,
// which closes the race against agents that answer faster than the operator
// side can turn around.
type Correlator struct {
	log            eventlog.EventLog
	logger         zerolog.Logger
	allowNameMatch bool

	mu      sync.Mutex
	streams map[string]*resultStream
}

type resultStream struct {
	sub       eventlog.Subscription
	waits     map[string]*wait // bound waits by command id
	order     []*wait          // registration order, bound and unbound
	unclaimed []models.ResultRecord
}

type wait struct {
	commandID   string // empty until bound
	commandName string
	ch          chan models.ResultRecord
}

// Pending is a reserved claim on a device's result stream. Bind it to the
// log-assigned command id, then Wait; Cancel releases an unresolved claim.
type Pending struct {
	c    *Correlator
	path string
	w    *wait
}

// NewCorrelator creates a correlator on the given event log.
func NewCorrelator(log eventlog.EventLog, cfg *Config, lg logger.Logger) *Correlator {
	return &Correlator{
		log:            log,
		logger:         lg.WithComponent("correlator"),
		allowNameMatch: cfg.AllowNameMatch,
		streams:        make(map[string]*resultStream),
	}
}

// Reserve registers a wait on the device's result stream before its command
// id is known, opening the shared subscription if this is the first
// outstanding wait for the device. The caller must Bind or Cancel.
func (c *Correlator) Reserve(ctx context.Context, principal, device, commandName string) (*Pending, error) {
	path := eventlog.ResultsPath(principal, device)

	w := &wait{
		commandName: commandName,
		ch:          make(chan models.ResultRecord, 1),
	}

	if err := c.register(ctx, path, w); err != nil {
		return nil, err
	}

	return &Pending{c: c, path: path, w: w}, nil
}

// Bind attaches the log-assigned command id to the reservation. A record
// carrying that id buffered since Reserve resolves the wait immediately.
func (p *Pending) Bind(commandID string) error {
	if commandID == "" {
		return ErrMissingCommandID
	}

	c := p.c

	c.mu.Lock()

	stream, ok := c.streams[p.path]
	if !ok || !registered(stream, p.w) {
		// The wait already resolved or was released.
		c.mu.Unlock()

		return nil
	}

	p.w.commandID = commandID
	stream.waits[commandID] = p.w

	for i, record := range stream.unclaimed {
		if record.CommandID == commandID {
			stream.unclaimed = append(stream.unclaimed[:i], stream.unclaimed[i+1:]...)
			sub := c.resolveLocked(p.path, stream, p.w)
			c.mu.Unlock()

			p.w.ch <- record
			c.closeStream(p.path, sub)

			return nil
		}
	}

	c.mu.Unlock()

	return nil
}

// Wait blocks until a matching result record arrives, the timeout elapses
// (ErrTimedOut), or ctx is canceled by the caller (ErrCanceled). Whichever
// way it resolves, the claim on the stream is released exactly once.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (*models.ResultRecord, error) {
	waitCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case record := <-p.w.ch:
		return &record, nil
	case <-waitCtx.Done():
		p.Cancel()

		// A matching record may have been delivered between the deadline
		// firing and the release; prefer the result over the timeout.
		select {
		case record := <-p.w.ch:
			return &record, nil
		default:
		}

		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrTimedOut
		}

		return nil, ErrCanceled
	}
}

// Cancel releases the claim without waiting. Releasing a wait that already
// resolved is a no-op, so Cancel is safe to defer alongside Wait.
func (p *Pending) Cancel() {
	c := p.c

	c.mu.Lock()
	sub := c.removeLocked(p.path, p.w)
	c.mu.Unlock()

	c.closeStream(p.path, sub)
}

// Await is Reserve+Bind+Wait for callers that already hold the command id.
// Only records appended after the wait registers are considered.
func (c *Correlator) Await(ctx context.Context, principal, device, commandID, commandName string, timeout time.Duration) (*models.ResultRecord, error) {
	if commandID == "" {
		return nil, ErrMissingCommandID
	}

	pending, err := c.Reserve(ctx, principal, device, commandName)
	if err != nil {
		return nil, err
	}

	if err := pending.Bind(commandID); err != nil {
		pending.Cancel()

		return nil, err
	}

	return pending.Wait(ctx, timeout)
}

// register adds the wait to the device's stream, opening the shared
// subscription if this is the first outstanding wait for the device.
func (c *Correlator) register(ctx context.Context, path string, w *wait) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stream, ok := c.streams[path]
	if !ok {
		stream = &resultStream{waits: make(map[string]*wait)}

		sub, err := c.log.SubscribeNew(ctx, path,
			func(rec eventlog.Record) { c.handleRecord(path, rec) },
			func(err error) {
				c.logger.Warn().Err(err).Str("path", path).Msg("Result stream error")
			})
		if err != nil {
			return err
		}

		stream.sub = sub
		c.streams[path] = stream
	}

	stream.order = append(stream.order, w)

	return nil
}

// removeLocked unregisters w and returns the stream's subscription when w
// was the last outstanding wait, nil otherwise. A wait that is no longer
// registered is left alone.
func (c *Correlator) removeLocked(path string, w *wait) eventlog.Subscription {
	stream, ok := c.streams[path]
	if !ok {
		return nil
	}

	for i, other := range stream.order {
		if other == w {
			stream.order = append(stream.order[:i], stream.order[i+1:]...)

			return c.finishRemoveLocked(path, stream, w)
		}
	}

	return nil
}

// resolveLocked is removeLocked for a wait known to be registered, skipping
// the search when the caller already holds it.
func (c *Correlator) resolveLocked(path string, stream *resultStream, w *wait) eventlog.Subscription {
	for i, other := range stream.order {
		if other == w {
			stream.order = append(stream.order[:i], stream.order[i+1:]...)
			break
		}
	}

	return c.finishRemoveLocked(path, stream, w)
}

func (c *Correlator) finishRemoveLocked(path string, stream *resultStream, w *wait) eventlog.Subscription {
	if w.commandID != "" {
		delete(stream.waits, w.commandID)
	}

	if len(stream.order) > 0 {
		return nil
	}

	delete(c.streams, path)

	return stream.sub
}

func (c *Correlator) closeStream(path string, sub eventlog.Subscription) {
	if sub == nil {
		return
	}

	if err := sub.Unsubscribe(); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Failed to close result subscription")
	}
}

func (c *Correlator) handleRecord(path string, rec eventlog.Record) {
	var record models.ResultRecord
	if err := json.Unmarshal(rec.Data, &record); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Str("record_id", rec.ID).Msg("Unreadable result record")

		return
	}

	c.mu.Lock()

	stream, ok := c.streams[path]
	if !ok {
		c.mu.Unlock()

		return
	}

	w := matchWait(stream, &record, c.allowNameMatch)
	if w == nil {
		if record.CommandID != "" && hasUnbound(stream) {
			if len(stream.unclaimed) == unclaimedBuffer {
				stream.unclaimed = stream.unclaimed[1:]
			}

			stream.unclaimed = append(stream.unclaimed, record)
		}

		c.mu.Unlock()
		c.logger.Debug().
			Str("path", path).
			Str("command", record.Command).
			Str("command_id", record.CommandID).
			Msg("Result record matched no outstanding wait")

		return
	}

	sub := c.resolveLocked(path, stream, w)
	c.mu.Unlock()

	// The channel is buffered and the wait was removed under the lock, so
	// this send cannot block and cannot happen twice.
	w.ch <- record

	c.closeStream(path, sub)
}

// matchWait picks at most one waiter for the record: the id match when the
// record carries an id, else the oldest wait sharing the command name, and
// that only under the legacy fallback.
func matchWait(stream *resultStream, record *models.ResultRecord, allowNameMatch bool) *wait {
	if record.CommandID != "" {
		return stream.waits[record.CommandID]
	}

	if !allowNameMatch {
		return nil
	}

	for _, w := range stream.order {
		if w.commandName == record.Command {
			return w
		}
	}

	return nil
}

func registered(stream *resultStream, w *wait) bool {
	for _, other := range stream.order {
		if other == w {
			return true
		}
	}

	return false
}

func hasUnbound(stream *resultStream) bool {
	for _, w := range stream.order {
		if w.commandID == "" {
			return true
		}
	}

	return false
}
