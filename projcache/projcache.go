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

// Package projcache is the projection cache provider contract: a
// priority-ordered, lazily-opened iterator over saved snapshots of a
// named projection, plus an exclusive, last-write-wins writer.
package projcache

import (
	"context"
	"io"
)

// ErrWriteBusy is returned by TryWrite when another writer already
// holds the named slot; the caller's f is never invoked.
var ErrWriteBusy = errCachePkg("projcache: a write for this name is already in progress")

type errCachePkg string

func (e errCachePkg) Error() string { return string(e) }

// Candidates lazily iterates a name's saved snapshots, most recent
// first. Next must not be called again until the previous candidate
// (if any) has been closed.
type Candidates interface {
	// Next opens the next candidate, or returns ok=false once
	// exhausted. The caller owns the returned ReadCloser and must
	// close it before calling Next again.
	Next(ctx context.Context) (candidate io.ReadCloser, ok bool, err error)
}

// Provider is the projection cache backend contract.
type Provider interface {
	// OpenRead returns a lazy, priority-ordered (most recent first)
	// iterator over name's saved candidates.
	OpenRead(ctx context.Context, name string) Candidates

	// TryWrite acquires an exclusive lock on name, allocates a fresh
	// slot, and invokes f with a sink to write into. If f returns nil,
	// the slot is committed and becomes the newest candidate; if f
	// returns an error, the slot is discarded and that error is
	// returned. Under contention, a concurrent writer for the same
	// name observes ErrWriteBusy without f ever running.
	TryWrite(ctx context.Context, name string, f func(sink io.Writer) error) error
}
