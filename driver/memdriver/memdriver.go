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

// Package memdriver is the in-process development driver. Position
// is the event index, not a byte count; contents are defensively copied
// in and out so callers never observe internal mutability.
package memdriver

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// seqIndexItem is a btree.Item pairing a sequence with the event index
// that carries it, used by Seek to binary-search first_key-by-position.
type seqIndexItem struct {
	seq uint32
	idx int
}

func (a seqIndexItem) Less(than btree.Item) bool {
	return a.seq < than.(seqIndexItem).seq
}

// Driver is a memory-backed driver.Driver.
type Driver struct {
	mu     sync.Mutex
	events []record.Event
	index  *btree.BTree // seqIndexItem ordered by sequence, for Seek
}

// New returns an empty memory driver.
func New() *Driver {
	return &Driver{index: btree.New(8)}
}

func cloneEvent(e record.Event) record.Event {
	if e.Payload == nil {
		return record.Event{Sequence: e.Sequence}
	}
	p := make([]byte, len(e.Payload))
	copy(p, e.Payload)
	return record.Event{Sequence: e.Sequence, Payload: p}
}

func (d *Driver) GetPosition(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.events)), nil
}

func (d *Driver) Write(ctx context.Context, position int64, events []record.Event) (driver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := int64(len(d.events))
	if position != cur {
		return driver.WriteResult{NextPosition: cur, Success: false}, nil
	}
	for _, e := range events {
		idx := len(d.events)
		d.events = append(d.events, cloneEvent(e))
		d.index.ReplaceOrInsert(seqIndexItem{seq: e.Sequence, idx: idx})
	}
	return driver.WriteResult{NextPosition: int64(len(d.events)), Success: true}, nil
}

func (d *Driver) Read(ctx context.Context, position int64, buf []byte) (driver.ReadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if position < 0 || position > int64(len(d.events)) {
		return driver.ReadResult{NextPosition: position}, nil
	}

	// budget is measured in on-wire bytes, matching other drivers' Read
	// contract, even though position here is an index.
	budget := len(buf)
	out := make([]record.Event, 0)
	i := position
	for i < int64(len(d.events)) {
		e := d.events[i]
		cost := record.HeaderSize + len(e.Payload) + record.TrailerSize
		if len(out) > 0 && cost > budget {
			break
		}
		out = append(out, cloneEvent(e))
		budget -= cost
		i++
	}
	return driver.ReadResult{NextPosition: i, Events: out}, nil
}

func (d *Driver) GetLastKey(ctx context.Context) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return 0, nil
	}
	return d.events[len(d.events)-1].Sequence, nil
}

func (d *Driver) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var found *seqIndexItem
	d.index.AscendGreaterOrEqual(seqIndexItem{seq: key}, func(item btree.Item) bool {
		it := item.(seqIndexItem)
		found = &it
		return false
	})
	if found == nil {
		return floorPosition, nil
	}
	if int64(found.idx) > floorPosition {
		return int64(found.idx), nil
	}
	return floorPosition, nil
}
