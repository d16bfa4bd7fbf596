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

package cachedriver

import (
	"context"
	"testing"

	"github.com/carli2/eventstore/driver/filedriver"
	"github.com/carli2/eventstore/record"
)

func TestCacheDriverMirrorsOnMiss(t *testing.T) {
	ctx := context.Background()
	inner, err := filedriver.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open inner: %v", err)
	}
	defer inner.Close()
	cache, err := filedriver.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	d := New(inner, cache)

	res, err := d.Write(ctx, 0, []record.Event{{Sequence: 1, Payload: []byte{0, 0, 0, 0, 0, 0, 0, 0}}})
	if err != nil || !res.Success {
		t.Fatalf("write: res=%+v err=%v", res, err)
	}

	buf := make([]byte, 64)
	first, err := d.Read(ctx, 0, buf)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if len(first.Events) != 1 || first.Events[0].Sequence != 1 {
		t.Fatalf("unexpected first read: %+v", first)
	}

	cachePos, err := cache.GetPosition(ctx)
	if err != nil {
		t.Fatalf("cache position: %v", err)
	}
	if cachePos != first.NextPosition {
		t.Fatalf("cache position = %d, want mirror to have advanced to %d", cachePos, first.NextPosition)
	}

	second, err := d.Read(ctx, 0, buf)
	if err != nil {
		t.Fatalf("second (cache-hit) read: %v", err)
	}
	if len(second.Events) != 1 || second.Events[0].Sequence != 1 {
		t.Fatalf("unexpected cache-hit read: %+v", second)
	}
}

func TestCacheDriverExtendsToRequestedPosition(t *testing.T) {
	ctx := context.Background()
	inner, err := filedriver.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open inner: %v", err)
	}
	defer inner.Close()
	cache, err := filedriver.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	res, err := inner.Write(ctx, 0, []record.Event{
		{Sequence: 1, Payload: make([]byte, 8)},
		{Sequence: 2, Payload: make([]byte, 8)},
	})
	if err != nil || !res.Success {
		t.Fatalf("seed write: res=%+v err=%v", res, err)
	}

	d := New(inner, cache)

	// position 20 is the start of the second event; the cold cache must
	// be extended through it before serving the read.
	buf := make([]byte, 64)
	got, err := d.Read(ctx, 20, buf)
	if err != nil {
		t.Fatalf("Read at 20: %v", err)
	}
	if len(got.Events) != 1 || got.Events[0].Sequence != 2 {
		t.Fatalf("unexpected read at 20: %+v", got)
	}

	cachePos, err := cache.GetPosition(ctx)
	if err != nil {
		t.Fatalf("cache position: %v", err)
	}
	if cachePos != res.NextPosition {
		t.Fatalf("cache position = %d, want %d", cachePos, res.NextPosition)
	}
}
