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

// Package quarantine is the thread-safe bag of events that failed to
// apply, so an operator can inspect and replay them later.
package quarantine

import (
	"sync"
	"time"

	"github.com/carli2/eventstore/record"
)

// Entry is one quarantined (sequence, event, error) triple. Event is the
// raw, undecoded record that failed, both when its payload could not be
// deserialized and when the decoded event failed to apply.
type Entry struct {
	Sequence uint32
	Event    *record.Event
	Err      error
	At       time.Time
}

// Bag is an append-only, thread-safe collection of Entry.
type Bag struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty bag.
func New() *Bag { return &Bag{} }

// Add appends one entry.
func (b *Bag) Add(seq uint32, e *record.Event, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, Entry{Sequence: seq, Event: e, Err: err, At: time.Now()})
}

// Len returns the number of quarantined entries.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns a defensive copy of every entry collected so far.
func (b *Bag) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
