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

// Package wrapper is the stream wrapper: one EventStream plus one
// reified projection group, with catch-up loops, state-dependent and
// blind append, and optimistic transactions that retry against
// refreshed state on a write conflict.
package wrapper

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carli2/eventstore/eslog"
	"github.com/carli2/eventstore/eventstream"
	"github.com/carli2/eventstore/quarantine"
	"github.com/carli2/eventstore/record"
)

// DefaultEventsBetweenUpkeep is how many applied events pass between
// upkeep opportunities during the initial catch-up.
const DefaultEventsBetweenUpkeep = 1000

// Group is the subset of projection.Group[S] the wrapper drives. Kept as
// an interface (rather than importing the concrete generic type) so the
// wrapper compiles against any state-typed group.
type Group[S any] interface {
	Sequence() uint32
	Apply(seq uint32, e any) error
	Current() S
	TryLoad(ctx context.Context) bool
	TrySave(ctx context.Context) error
	Reset() error
	Commit(seq uint32)
	Upkeep()
	UpkeepOrSaveLoad(ctx context.Context, seq uint32) error
	MarkInconsistent()
	Simulate(events []any) (S, error)
}

// Wrapper owns one EventStream and one projection Group[S], decoding raw
// record.Event payloads into domain events of type E via Decode and
// re-encoding them via Encode on append.
type Wrapper[E, S any] struct {
	stream *eventstream.Stream
	group  Group[S]

	// Decode turns a raw record payload into a domain event; Encode is
	// its inverse, used when appending. Both must be set before the
	// wrapper is used.
	Decode func(payload []byte) (E, error)
	Encode func(e E) ([]byte, error)

	Quarantine *quarantine.Bag

	EventsBetweenUpkeep uint32

	commitInFlight atomic.Bool
	initialDone    bool

	mu        sync.Mutex
	refreshCh chan struct{}
}

// New constructs a Wrapper over stream and group. Decode/Encode must be
// assigned on the result before it is used.
func New[E, S any](stream *eventstream.Stream, group Group[S]) *Wrapper[E, S] {
	return &Wrapper[E, S]{
		stream:              stream,
		group:               group,
		Quarantine:          quarantine.New(),
		EventsBetweenUpkeep: DefaultEventsBetweenUpkeep,
		refreshCh:           make(chan struct{}),
	}
}

// Current is the group's current product state.
func (w *Wrapper[E, S]) Current() S { return w.group.Current() }

// TrySave forwards to the projection group's TrySave, used by the
// service facade for a best-effort flush on shutdown.
func (w *Wrapper[E, S]) TrySave(ctx context.Context) error { return w.group.TrySave(ctx) }

// notifyRefresh releases every goroutine blocked in WaitForRefresh.
func (w *Wrapper[E, S]) notifyRefresh() {
	w.mu.Lock()
	close(w.refreshCh)
	w.refreshCh = make(chan struct{})
	w.mu.Unlock()
}

// WaitForRefresh blocks until the next catch-up full loop terminates or
// the next successful Append, BlindAppend or transaction Commit, or until
// ctx is cancelled.
func (w *Wrapper[E, S]) WaitForRefresh(ctx context.Context) error {
	w.mu.Lock()
	ch := w.refreshCh
	w.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maybeCommit runs group.Commit(seq) in the background, but only if the
// previous opportunistic commit has already completed.
func (w *Wrapper[E, S]) maybeCommit(seq uint32) {
	if !w.commitInFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer w.commitInFlight.Store(false)
		w.group.Commit(seq)
	}()
}

// CatchUpLocal drains every event currently buffered in the stream's
// ready queue, applying each to the group. Deserialization and
// application failures are logged, mark the group inconsistent, and are
// pushed to the quarantine bag; the loop continues past them rather than
// stopping. Returns the number of events successfully applied.
func (w *Wrapper[E, S]) CatchUpLocal(ctx context.Context) int {
	applied := 0
	for {
		raw, ok := w.stream.TryGetNext()
		if !ok {
			return applied
		}
		if raw.Sequence <= w.group.Sequence() {
			// already folded (re-read after a loose seek hint)
			continue
		}
		e, err := w.Decode(raw.Payload)
		if err != nil {
			eslog.Errorf("wrapper: decode seq=%d: %v", raw.Sequence, err)
			w.group.MarkInconsistent()
			w.Quarantine.Add(raw.Sequence, &raw, err)
			continue
		}
		if err := w.group.Apply(raw.Sequence, e); err != nil {
			eslog.Errorf("wrapper: apply seq=%d: %v", raw.Sequence, err)
			w.Quarantine.Add(raw.Sequence, &raw, err)
			continue
		}
		applied++
		w.maybeCommit(raw.Sequence)
	}
}

// CatchUpFull alternates BackgroundFetch starts with CatchUpLocal
// drains until a fetch produces no events. During the initial catch-up
// only, every EventsBetweenUpkeep applied events trigger
// group.UpkeepOrSaveLoad, and a final group.Upkeep runs once it
// terminates. Every WaitForRefresh waiter is released at the end of any
// full loop.
func (w *Wrapper[E, S]) CatchUpFull(ctx context.Context) error {
	initial := !w.initialDone
	if initial {
		// a cache load may have put the group well past the stream's
		// cursor; skip ahead instead of re-reading already-folded events
		if target := w.group.Sequence(); target > 0 {
			if _, err := w.stream.DiscardUpTo(ctx, target+1); err != nil {
				return err
			}
		}
	}
	var sinceUpkeep uint32
	for {
		commit := w.stream.BackgroundFetch(ctx)
		more, err := commit()
		if err != nil {
			return err
		}
		n := w.CatchUpLocal(ctx)
		if initial {
			sinceUpkeep += uint32(n)
			if sinceUpkeep >= w.EventsBetweenUpkeep {
				if err := w.group.UpkeepOrSaveLoad(ctx, w.group.Sequence()); err != nil {
					eslog.Warnf("wrapper: upkeep_or_save_load: %v", err)
				}
				sinceUpkeep = 0
			}
		}
		if !more && n == 0 {
			break
		}
	}
	if initial {
		w.group.Upkeep()
		w.initialDone = true
	}
	w.notifyRefresh()
	return nil
}

// AppendResult is what Append/BlindAppend report.
type AppendResult[Aux any] struct {
	Count    int
	FirstSeq uint32
	Aux      Aux
}

// Append calls builder(current) to get a batch of events plus caller
// metadata. If builder produces no events, returns Count=0 without
// writing. Otherwise the batch is validated against group.Simulate
// before being written; on an optimistic write conflict, a full catch-up
// runs and the whole cycle (including a fresh builder call against the
// refreshed state) repeats, bounded only by ctx cancellation.
func Append[E, S, Aux any](ctx context.Context, w *Wrapper[E, S], builder func(current S) ([]E, Aux)) (AppendResult[Aux], error) {
	var zero AppendResult[Aux]
	for {
		events, aux := builder(w.Current())
		if len(events) == 0 {
			return AppendResult[Aux]{Count: 0, Aux: aux}, nil
		}

		anyEvents := make([]any, len(events))
		for i, e := range events {
			anyEvents[i] = e
		}
		if _, err := w.group.Simulate(anyEvents); err != nil {
			return zero, err
		}

		records, err := w.encodeBatch(events)
		if err != nil {
			return zero, err
		}

		firstSeq := w.group.Sequence() + 1
		_, ok, err := w.stream.Write(ctx, records)
		if err != nil {
			return zero, err
		}
		if !ok {
			if err := w.CatchUpFull(ctx); err != nil {
				return zero, err
			}
			continue
		}

		w.CatchUpLocal(ctx)
		w.notifyRefresh()
		return AppendResult[Aux]{Count: len(events), FirstSeq: firstSeq, Aux: aux}, nil
	}
}

// BlindAppend is Append without the builder indirection or the
// pre-validation Simulate pass — the caller accepts the risk of writing
// events that the group might fail to apply.
func BlindAppend[E, S any](ctx context.Context, w *Wrapper[E, S], events []E) (AppendResult[struct{}], error) {
	var zero AppendResult[struct{}]
	if len(events) == 0 {
		return AppendResult[struct{}]{}, nil
	}
	records, err := w.encodeBatch(events)
	if err != nil {
		return zero, err
	}
	firstSeq := w.group.Sequence() + 1
	for {
		_, ok, err := w.stream.Write(ctx, records)
		if err != nil {
			return zero, err
		}
		if !ok {
			if err := w.CatchUpFull(ctx); err != nil {
				return zero, err
			}
			continue
		}
		w.CatchUpLocal(ctx)
		w.notifyRefresh()
		return AppendResult[struct{}]{Count: len(events), FirstSeq: firstSeq}, nil
	}
}

func (w *Wrapper[E, S]) encodeBatch(events []E) ([]record.Event, error) {
	seq := w.group.Sequence()
	out := make([]record.Event, len(events))
	for i, e := range events {
		seq++
		payload, err := w.Encode(e)
		if err != nil {
			return nil, err
		}
		out[i] = record.Event{Sequence: seq, Payload: payload}
	}
	return out, nil
}
