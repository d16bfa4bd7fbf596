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

// Package eventstream is the single-owner cursor over a driver.Driver:
// a position/sequence pair, a ready queue of parsed events, and at most
// one background fetch in flight at a time.
package eventstream

import (
	"context"
	"fmt"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// DefaultFetchBufferSize is the byte budget handed to the driver on each
// background fetch.
const DefaultFetchBufferSize = 256 * 1024

// Stream is not safe for concurrent use beyond the owner task calling
// TryGetNext/DiscardUpTo/Reset/Write and reading the commit closure
// returned by BackgroundFetch — exactly the single-owner contract the
// stream wrapper enforces.
type Stream struct {
	d driver.Driver

	fetchBufferSize int
	position        int64
	sequence        uint32
	ready           []record.Event
	fetchInFlight   bool
}

// New constructs a Stream reading from d, starting at position 0.
func New(d driver.Driver) *Stream {
	return &Stream{d: d, fetchBufferSize: DefaultFetchBufferSize}
}

// Position is the stream's current byte offset (already-delivered
// events plus whatever is still buffered in ready).
func (s *Stream) Position() int64 { return s.position }

// Sequence is the sequence of the last event TryGetNext returned.
func (s *Stream) Sequence() uint32 { return s.sequence }

// TryGetNext pops the head of ready, if any, advancing Sequence to its
// sequence.
func (s *Stream) TryGetNext() (record.Event, bool) {
	if len(s.ready) == 0 {
		return record.Event{}, false
	}
	e := s.ready[0]
	s.ready = s.ready[1:]
	s.sequence = e.Sequence
	return e, true
}

// fetchResult is what a background fetch produced, handed back through
// the commit closure BackgroundFetch returns.
type fetchResult struct {
	events   []record.Event
	nextPos  int64
	startPos int64
	err      error
}

// BackgroundFetch spawns a fetch into a fresh buffer at the current
// position and returns a commit closure. Calling the closure applies
// the fetch's result to the stream (never concurrently with any other
// Stream method) and reports whether it produced events.
//
// Only one fetch may be in flight; callers must call the returned
// closure before starting another. Until it is called, every further
// BackgroundFetch returns a closure that only reports an error.
func (s *Stream) BackgroundFetch(ctx context.Context) func() (bool, error) {
	if s.fetchInFlight {
		return func() (bool, error) { return false, fmt.Errorf("eventstream: a background fetch is already in flight") }
	}
	s.fetchInFlight = true

	startPos := s.position
	resultCh := make(chan fetchResult, 1)
	go func() {
		buf := make([]byte, s.fetchBufferSize)
		res, err := s.d.Read(ctx, startPos, buf)
		if err != nil {
			resultCh <- fetchResult{startPos: startPos, err: err}
			return
		}
		resultCh <- fetchResult{events: res.Events, nextPos: res.NextPosition, startPos: startPos}
	}()

	return func() (bool, error) {
		r := <-resultCh
		s.fetchInFlight = false
		if r.err != nil {
			// corruption or another fatal parse error: resync by
			// skipping one byte and let the caller quarantine.
			s.position = r.startPos + 1
			return false, r.err
		}
		if len(r.events) == 0 {
			return false, nil
		}
		s.ready = append(s.ready, r.events...)
		s.position = r.nextPos
		return true, nil
	}
}

// DiscardUpTo consults driver.Seek for a position hint, then reads
// forward discarding events until either Sequence >= seq-1 or the
// stream ends. Returns the sequence reached.
func (s *Stream) DiscardUpTo(ctx context.Context, seq uint32) (uint32, error) {
	hint, err := s.d.Seek(ctx, seq, s.position)
	if err != nil {
		return s.sequence, err
	}
	if hint > s.position {
		s.position = hint
		s.ready = nil
	}

	for seq == 0 || s.sequence < seq-1 {
		if len(s.ready) > 0 {
			// sequences need not be contiguous: an event at or past the
			// target stays buffered for the caller to apply.
			if seq > 0 && s.ready[0].Sequence >= seq {
				break
			}
			s.TryGetNext()
			continue
		}
		commit := s.BackgroundFetch(ctx)
		more, err := commit()
		if err != nil {
			return s.sequence, err
		}
		if !more {
			return s.sequence, nil
		}
	}
	return s.sequence, nil
}

// Reset rewinds the stream to the beginning, clearing all buffered
// state.
func (s *Stream) Reset() {
	s.position = 0
	s.sequence = 0
	s.ready = nil
}

// Write batch-formats events through the codec and calls the driver's
// Write at the current position. On success, the new position is
// returned and the written events are enqueued directly into ready
// (avoiding a re-read).
//
// On optimistic failure, ok is false and s.position is left unchanged:
// res.NextPosition is only a length hint (driver.WriteResult's "actual
// current end"), not a position this stream has read from. The bytes
// between s.position and that end belong to whichever writer won, and
// the caller must fetch and apply them through a full catch-up before
// retrying its own append, or the retry would stamp a new batch with a
// sequence number that collides with the winner's.
func (s *Stream) Write(ctx context.Context, events []record.Event) (pos int64, ok bool, err error) {
	res, err := s.d.Write(ctx, s.position, events)
	if err != nil {
		return 0, false, err
	}
	if !res.Success {
		return res.NextPosition, false, nil
	}
	s.ready = append(s.ready, events...)
	s.position = res.NextPosition
	return s.position, true, nil
}
