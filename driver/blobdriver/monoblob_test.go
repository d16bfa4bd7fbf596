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
	"errors"
	"testing"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

func TestMonoBlobWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.maxAppends = 1000
	d := NewMono(backend, WithMonoRetryPolicy(testRetryPolicy()))

	pos, err := d.GetPosition(ctx)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != 0 {
		t.Fatalf("initial position = %d, want 0", pos)
	}

	res, err := d.Write(ctx, 0, []record.Event{
		{Sequence: 1, Payload: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{Sequence: 2, Payload: []byte{1, 0, 0, 0, 0, 0, 0, 0}},
	})
	if err != nil || !res.Success {
		t.Fatalf("Write: res=%+v err=%v", res, err)
	}

	buf := make([]byte, res.NextPosition)
	read, err := d.Read(ctx, 0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(read.Events) != 2 || read.Events[0].Sequence != 1 || read.Events[1].Sequence != 2 {
		t.Fatalf("unexpected events: %+v", read.Events)
	}

	last, err := d.GetLastKey(ctx)
	if err != nil {
		t.Fatalf("GetLastKey: %v", err)
	}
	if last != 2 {
		t.Fatalf("GetLastKey = %d, want 2", last)
	}
}

func TestMonoBlobSurfacesBlobFull(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.maxAppends = 1
	d := NewMono(backend, WithMonoRetryPolicy(testRetryPolicy()))

	res, err := d.Write(ctx, 0, []record.Event{{Sequence: 1, Payload: []byte{0, 0, 0, 0, 0, 0, 0, 0}}})
	if err != nil || !res.Success {
		t.Fatalf("first write: res=%+v err=%v", res, err)
	}

	_, err = d.Write(ctx, res.NextPosition, []record.Event{{Sequence: 2, Payload: []byte{1, 0, 0, 0, 0, 0, 0, 0}}})
	if !errors.Is(err, driver.ErrBlobFull) {
		t.Fatalf("err = %v, want driver.ErrBlobFull", err)
	}
}
