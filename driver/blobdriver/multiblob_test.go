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

package blobdriver

import (
	"context"
	"testing"
	"time"

	"github.com/carli2/eventstore/record"
)

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		ShortDeadline: time.Second,
		LongDeadline:  time.Second,
		isRetryable:   IsRetryableBackendError,
	}
}

func writeOne(t *testing.T, ctx context.Context, d *MultiBlobDriver, pos int64, seq uint32, payload []byte) int64 {
	t.Helper()
	res, err := d.Write(ctx, pos, []record.Event{{Sequence: seq, Payload: payload}})
	if err != nil {
		t.Fatalf("write at %d: %v", pos, err)
	}
	if !res.Success {
		t.Fatalf("write at %d rejected, next=%d", pos, res.NextPosition)
	}
	return res.NextPosition
}

func TestMultiBlobRolloverAndReadBack(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.maxAppends = 3 // force rollover quickly
	d := New(backend, WithRetryPolicy(testRetryPolicy()), WithSliceSize(1<<20))

	var pos int64
	var seqs []uint32
	for i := 0; i < 10; i++ {
		seq := uint32(i + 1)
		payload := make([]byte, 8)
		payload[0] = byte(i)
		pos = writeOne(t, ctx, d, pos, seq, payload)
		seqs = append(seqs, seq)
	}

	got, err := d.GetLastKey(ctx)
	if err != nil {
		t.Fatalf("GetLastKey: %v", err)
	}
	if got != seqs[len(seqs)-1] {
		t.Fatalf("GetLastKey = %d, want %d", got, seqs[len(seqs)-1])
	}

	buf := make([]byte, pos)
	var all []record.Event
	readPos := int64(0)
	for readPos < pos {
		res, err := d.Read(ctx, readPos, buf)
		if err != nil {
			t.Fatalf("Read at %d: %v", readPos, err)
		}
		if res.NextPosition == readPos {
			break
		}
		all = append(all, res.Events...)
		readPos = res.NextPosition
	}
	if len(all) != len(seqs) {
		t.Fatalf("got %d events, want %d", len(all), len(seqs))
	}
	for i, e := range all {
		if e.Sequence != seqs[i] {
			t.Errorf("event %d: sequence = %d, want %d", i, e.Sequence, seqs[i])
		}
	}
}

func TestMultiBlobWriteRejectsStalePosition(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	d := New(backend, WithRetryPolicy(testRetryPolicy()))

	pos := writeOne(t, ctx, d, 0, 1, []byte{0, 0, 0, 0, 0, 0, 0, 0})

	res, err := d.Write(ctx, 0, []record.Event{{Sequence: 2, Payload: []byte{1, 0, 0, 0, 0, 0, 0, 0}}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection on stale position")
	}
	if res.NextPosition != pos {
		t.Fatalf("NextPosition = %d, want %d", res.NextPosition, pos)
	}
}

func TestMultiBlobSeek(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.maxAppends = 2
	d := New(backend, WithRetryPolicy(testRetryPolicy()))

	var pos int64
	positions := map[uint32]int64{}
	for i := 0; i < 6; i++ {
		seq := uint32((i + 1) * 10)
		positions[seq] = pos
		pos = writeOne(t, ctx, d, pos, seq, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	}

	for seq, want := range positions {
		got, err := d.Seek(ctx, seq, 0)
		if err != nil {
			t.Fatalf("Seek(%d): %v", seq, err)
		}
		if got > want {
			t.Errorf("Seek(%d) = %d, want <= %d", seq, got, want)
		}
	}
}

func TestMultiBlobCompaction(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.maxAppends = 2
	d := New(backend, WithRetryPolicy(testRetryPolicy()))

	var pos int64
	for i := 0; i < 8; i++ {
		pos = writeOne(t, ctx, d, pos, uint32(i+1), []byte{0, 0, 0, 0, 0, 0, 0, 0})
	}
	d.maybeCompact(ctx)

	buf := make([]byte, pos)
	var total int
	readPos := int64(0)
	for readPos < pos {
		res, err := d.Read(ctx, readPos, buf)
		if err != nil {
			t.Fatalf("Read after compaction at %d: %v", readPos, err)
		}
		if res.NextPosition == readPos {
			break
		}
		total += len(res.Events)
		readPos = res.NextPosition
	}
	if total != 8 {
		t.Fatalf("got %d events after compaction, want 8", total)
	}
}
