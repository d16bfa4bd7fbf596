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

// Package driver defines the storage driver contract: a
// position/key-indexed sequence of events with optimistic
// compare-and-append, range reads, last-key lookup and seek-by-key.
// A driver is owned exclusively by one caller at a time; it is never
// re-entrant across concurrent callers.
package driver

import (
	"context"
	"errors"

	"github.com/carli2/eventstore/record"
)

// ErrReadOnly is returned by Write on a driver opened in read-only mode.
var ErrReadOnly = errors.New("driver: read-only")

// ErrBlobFull is returned by the mono-blob driver when its single append
// blob has reached the backend's append-count cap. The multi-blob driver
// never returns this: it absorbs capacity exhaustion internally by
// rolling to a new shard.
var ErrBlobFull = errors.New("driver: blob is full")

// WriteResult is the outcome of an optimistic compare-and-append.
type WriteResult struct {
	// NextPosition is the refreshed end-of-stream position: on success,
	// position+bytes written; on failure, the actual current end.
	NextPosition int64
	Success      bool
}

// ReadResult is the outcome of a range read.
type ReadResult struct {
	NextPosition int64
	Events       []record.Event
}

// Driver is the abstract contract every storage backend implements.
// Implementations are not safe for concurrent use by multiple callers;
// the stream that owns a Driver serializes all calls to it itself.
type Driver interface {
	// GetPosition returns the latest known end-of-stream position. It
	// always consults the backend, since another writer may have grown
	// the stream.
	GetPosition(ctx context.Context) (int64, error)

	// Write appends events at position iff the current end-of-stream
	// equals position. On failure, WriteResult.NextPosition is the refreshed
	// end and no bytes were written.
	Write(ctx context.Context, position int64, events []record.Event) (WriteResult, error)

	// Read fills buf from position forward and parses as many complete
	// events as fit. It returns an empty event list iff at end of
	// stream, and always returns at least one event if the first one
	// starting at position fits in buf.
	Read(ctx context.Context, position int64, buf []byte) (ReadResult, error)

	// GetLastKey returns the sequence of the last event, or 0 if empty.
	GetLastKey(ctx context.Context) (uint32, error)

	// Seek returns a lower bound on the position at which an event with
	// sequence >= key may appear. Returning floorPosition is always
	// legal.
	Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error)
}
