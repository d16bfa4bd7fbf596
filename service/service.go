/*
Copyright (C) 2026  EventStore Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package service is the service facade: a long-lived owner
// goroutine with a mailbox of pending actions and a periodic wake-up,
// wrapping a *wrapper.Wrapper so external callers never touch the
// single-threaded coordinator directly.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dc0d/onexit"

	"github.com/carli2/eventstore/eslog"
	"github.com/carli2/eventstore/wrapper"
)

// ErrStreamNotReady is returned by ReadLocal and ReadLive before the
// initial catch-up has completed, and by any call that tries to enqueue
// an action after Stop. Writes issued before the initial catch-up do not
// fail with it; they wait in the mailbox.
var ErrStreamNotReady = errors.New("service: stream not ready")

// DefaultWakeInterval is the default periodic wake-up cadence.
const DefaultWakeInterval = 30 * time.Second

// initRetryBase/initRetryMax bound the exponential backoff used to
// retry a failed initial catch-up.
const (
	initRetryBase = 5 * time.Second
	initRetryMax  = 5 * time.Minute
)

// Service owns a *wrapper.Wrapper[E, S] and serializes every external
// action (append, live read, transaction) through a single mailbox
// goroutine. Reads of the locally-cached state (ReadLocal) bypass the
// mailbox entirely: current is a single-writer (the owner goroutine),
// multi-reader atomic slot.
type Service[E, S any] struct {
	w            *wrapper.Wrapper[E, S]
	wakeInterval time.Duration
	flushOnExit  bool

	mailbox chan func()
	stopCh  chan struct{}
	doneCh  chan struct{}

	ready       atomic.Bool
	lastInitErr atomic.Pointer[error]
	current     atomic.Pointer[S]

	stopOnce sync.Once
}

// Option configures a Service at construction time.
type Option[E, S any] func(*Service[E, S])

// WithWakeInterval overrides DefaultWakeInterval.
func WithWakeInterval[E, S any](d time.Duration) Option[E, S] {
	return func(s *Service[E, S]) {
		if d > 0 {
			s.wakeInterval = d
		}
	}
}

// WithMailboxCapacity sets the buffered mailbox channel size (default 64).
func WithMailboxCapacity[E, S any](n int) Option[E, S] {
	return func(s *Service[E, S]) {
		if n > 0 {
			s.mailbox = make(chan func(), n)
		}
	}
}

// WithFlushOnExit registers a best-effort onexit.Register hook that
// calls the wrapper's TrySave when the host process exits.
func WithFlushOnExit[E, S any]() Option[E, S] {
	return func(s *Service[E, S]) { s.flushOnExit = true }
}

// New starts the owner goroutine: an initial catch-up (retried with
// bounded exponential backoff on failure), then a loop alternating the
// periodic wake-up with draining the mailbox. ctx governs the whole
// service's lifetime; cancelling it is equivalent to calling Stop.
func New[E, S any](ctx context.Context, w *wrapper.Wrapper[E, S], opts ...Option[E, S]) *Service[E, S] {
	s := &Service[E, S]{
		w:            w,
		wakeInterval: DefaultWakeInterval,
		mailbox:      make(chan func(), 64),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.flushOnExit {
		onexit.Register(func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.w.TrySave(flushCtx); err != nil {
				eslog.Warnf("service: flush on exit: %v", err)
			}
		})
	}
	go s.run(ctx)
	return s
}

// IsReady reports whether the initial catch-up has completed. Before
// that, it also returns the most recent initialization error (kept
// until the next retry succeeds).
func (s *Service[E, S]) IsReady() (bool, error) {
	if s.ready.Load() {
		return true, nil
	}
	if p := s.lastInitErr.Load(); p != nil {
		return false, *p
	}
	return false, nil
}

// ReadLocal returns the last published state without going through the
// mailbox. Fails with ErrStreamNotReady before the initial catch-up.
func (s *Service[E, S]) ReadLocal() (S, error) {
	var zero S
	if !s.ready.Load() {
		return zero, ErrStreamNotReady
	}
	if p := s.current.Load(); p != nil {
		return *p, nil
	}
	return zero, ErrStreamNotReady
}

// ReadLive enqueues a catch-up-then-read action on the mailbox and
// waits for it to run, so the returned state reflects everything
// durably written up to the moment the action executes.
func (s *Service[E, S]) ReadLive(ctx context.Context) (S, error) {
	var zero S
	if !s.ready.Load() {
		return zero, ErrStreamNotReady
	}
	type result struct {
		state S
		err   error
	}
	resCh := make(chan result, 1)
	err := s.enqueue(ctx, func() {
		err := s.w.CatchUpFull(ctx)
		s.publish()
		var st S
		if err == nil {
			st = s.w.Current()
		}
		resCh <- result{st, err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-resCh:
		return r.state, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Append enqueues a state-dependent append (wrapper.Append) on the
// mailbox and waits for its result. Writes always enqueue regardless
// of readiness: the mailbox simply isn't drained until the
// initial catch-up completes, so the call blocks rather than failing
// fast. A package-level function, not a method, because Go methods
// cannot introduce the extra Aux type parameter.
func Append[E, S, Aux any](ctx context.Context, s *Service[E, S], builder func(current S) ([]E, Aux)) (wrapper.AppendResult[Aux], error) {
	var zero wrapper.AppendResult[Aux]
	type result struct {
		res wrapper.AppendResult[Aux]
		err error
	}
	resCh := make(chan result, 1)
	err := s.enqueue(ctx, func() {
		res, err := wrapper.Append(ctx, s.w, builder)
		s.publish()
		resCh <- result{res, err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-resCh:
		return r.res, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// BlindAppend enqueues wrapper.BlindAppend on the mailbox and waits for
// its result. Always enqueues, regardless of readiness.
func BlindAppend[E, S any](ctx context.Context, s *Service[E, S], events []E) (wrapper.AppendResult[struct{}], error) {
	var zero wrapper.AppendResult[struct{}]
	type result struct {
		res wrapper.AppendResult[struct{}]
		err error
	}
	resCh := make(chan result, 1)
	err := s.enqueue(ctx, func() {
		res, err := wrapper.BlindAppend(ctx, s.w, events)
		s.publish()
		resCh <- result{res, err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-resCh:
		return r.res, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// RunTransaction enqueues an optimistic transaction on the mailbox: fn
// is called against a fresh wrapper.Transaction on every attempt; when
// the commit reports a conflict (needsRetry), the owner goroutine runs
// a full catch-up and calls fn again against the refreshed state. fn
// must be safe to call more than once. Always enqueues, regardless of
// readiness.
func RunTransaction[E, S any](ctx context.Context, s *Service[E, S], fn func(tx *wrapper.Transaction[E, S]) error) error {
	resCh := make(chan error, 1)
	err := s.enqueue(ctx, func() {
		for {
			tx := s.w.BeginTransaction()
			if err := fn(tx); err != nil {
				resCh <- err
				return
			}
			needsRetry, err := tx.Commit(ctx)
			if err != nil {
				resCh <- err
				return
			}
			if !needsRetry {
				s.publish()
				resCh <- nil
				return
			}
			if err := s.w.CatchUpFull(ctx); err != nil {
				resCh <- err
				return
			}
			s.publish()
		}
	})
	if err != nil {
		return err
	}
	select {
	case err := <-resCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the owner goroutine to exit and waits for it. Safe to
// call more than once and safe to call even if ctx passed to New was
// already cancelled.
func (s *Service[E, S]) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Service[E, S]) enqueue(ctx context.Context, action func()) error {
	// checked first: once stopped, a mailbox with free buffer space would
	// otherwise accept an action that no goroutine will ever run.
	select {
	case <-s.stopCh:
		return ErrStreamNotReady
	default:
	}
	select {
	case s.mailbox <- action:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrStreamNotReady
	}
}

func (s *Service[E, S]) publish() {
	cur := s.w.Current()
	s.current.Store(&cur)
}

// run is the owner goroutine: initial catch-up, then a loop alternating
// the periodic wake-up with mailbox drains. Only this goroutine ever
// touches s.w directly.
func (s *Service[E, S]) run(ctx context.Context) {
	defer close(s.doneCh)

	if !s.initLoop(ctx) {
		return
	}

	ticker := time.NewTicker(s.wakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.w.CatchUpFull(ctx); err != nil {
				eslog.Warnf("service: periodic catch-up: %v", err)
				continue
			}
			s.publish()
		case action := <-s.mailbox:
			action()
		}
	}
}

// initLoop retries the initial CatchUpFull with bounded exponential
// backoff until it succeeds or ctx/stopCh fires. Returns false if the
// service was torn down before succeeding.
func (s *Service[E, S]) initLoop(ctx context.Context) bool {
	delay := initRetryBase
	for {
		if err := s.w.CatchUpFull(ctx); err == nil {
			s.publish()
			s.ready.Store(true)
			s.lastInitErr.Store(nil)
			return true
		} else {
			eslog.Errorf("service: initial catch-up failed, retrying in %s: %v", delay, err)
			s.lastInitErr.Store(&err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-s.stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}

		delay *= 2
		if delay > initRetryMax {
			delay = initRetryMax
		}
	}
}
