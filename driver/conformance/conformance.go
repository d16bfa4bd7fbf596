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

// Package conformance is a driver.Driver contract suite shared across
// memdriver, filedriver, and the blob drivers, so every backend is
// checked against the same contract instead of duplicating these
// cases per package.
package conformance

import (
	"context"
	"testing"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// Run exercises factory() (a fresh, empty driver.Driver) against the
// universal properties every driver must satisfy.
func Run(t *testing.T, factory func() driver.Driver) {
	t.Helper()
	t.Run("EmptyStream", func(t *testing.T) { testEmptyStream(t, factory()) })
	t.Run("WriteReadRoundTrip", func(t *testing.T) { testWriteReadRoundTrip(t, factory()) })
	t.Run("OptimisticCollision", func(t *testing.T) { testOptimisticCollision(t, factory()) })
	t.Run("SeekNeverOvershoots", func(t *testing.T) { testSeekNeverOvershoots(t, factory()) })
}

func testEmptyStream(t *testing.T, d driver.Driver) {
	ctx := context.Background()
	pos, err := d.GetPosition(ctx)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != 0 {
		t.Fatalf("GetPosition = %d, want 0", pos)
	}
	key, err := d.GetLastKey(ctx)
	if err != nil {
		t.Fatalf("GetLastKey: %v", err)
	}
	if key != 0 {
		t.Fatalf("GetLastKey = %d, want 0", key)
	}
	res, err := d.Read(ctx, 0, make([]byte, 4096))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.NextPosition != 0 || len(res.Events) != 0 {
		t.Fatalf("Read on empty stream = %+v, want {0, []}", res)
	}
}

func testWriteReadRoundTrip(t *testing.T, d driver.Driver) {
	ctx := context.Background()
	events := []record.Event{
		{Sequence: 1, Payload: []byte{0, 1, 2, 3, 4, 5, 6, 7}},
		{Sequence: 2, Payload: []byte{8, 9, 10, 11, 12, 13, 14, 15}},
	}
	res, err := d.Write(ctx, 0, events)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !res.Success {
		t.Fatalf("Write rejected: %+v", res)
	}

	buf := make([]byte, 4096)
	var got []record.Event
	pos := int64(0)
	for pos < res.NextPosition {
		rr, err := d.Read(ctx, pos, buf)
		if err != nil {
			t.Fatalf("Read at %d: %v", pos, err)
		}
		if rr.NextPosition == pos {
			break
		}
		got = append(got, rr.Events...)
		pos = rr.NextPosition
	}
	if pos != res.NextPosition {
		t.Fatalf("read advanced to %d, want %d", pos, res.NextPosition)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].Sequence != events[i].Sequence {
			t.Errorf("event %d: sequence = %d, want %d", i, got[i].Sequence, events[i].Sequence)
		}
	}

	lastKey, err := d.GetLastKey(ctx)
	if err != nil {
		t.Fatalf("GetLastKey: %v", err)
	}
	if lastKey != events[len(events)-1].Sequence {
		t.Fatalf("GetLastKey = %d, want %d", lastKey, events[len(events)-1].Sequence)
	}
}

func testOptimisticCollision(t *testing.T, d driver.Driver) {
	ctx := context.Background()
	a, err := d.Write(ctx, 0, []record.Event{{Sequence: 1, Payload: make([]byte, 8)}})
	if err != nil || !a.Success {
		t.Fatalf("writer A: res=%+v err=%v", a, err)
	}

	b, err := d.Write(ctx, 0, []record.Event{{Sequence: 2, Payload: make([]byte, 8)}})
	if err != nil {
		t.Fatalf("writer B: %v", err)
	}
	if b.Success {
		t.Fatal("writer B should have lost the race")
	}
	if b.NextPosition != a.NextPosition {
		t.Fatalf("writer B's refreshed position = %d, want %d", b.NextPosition, a.NextPosition)
	}

	retry, err := d.Write(ctx, b.NextPosition, []record.Event{{Sequence: 2, Payload: make([]byte, 8)}})
	if err != nil || !retry.Success {
		t.Fatalf("writer B retry: res=%+v err=%v", retry, err)
	}
}

func testSeekNeverOvershoots(t *testing.T, d driver.Driver) {
	ctx := context.Background()
	pos, err := d.Write(ctx, 0, []record.Event{{Sequence: 5, Payload: make([]byte, 8)}})
	if err != nil || !pos.Success {
		t.Fatalf("Write: res=%+v err=%v", pos, err)
	}
	got, err := d.Seek(ctx, 5, 0)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got > 0 {
		t.Fatalf("Seek(5) = %d, the only event with seq=5 is at position 0", got)
	}
}
