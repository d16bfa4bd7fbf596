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

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/carli2/eventstore/driver/memdriver"
	"github.com/carli2/eventstore/eventstream"
	"github.com/carli2/eventstore/projection"
	"github.com/carli2/eventstore/wrapper"
)

// sumProjection folds int events into a running total string; the same
// fixture shape as wrapper's own tests.
type sumProjection struct {
	projection.NoRestore[string]
}

func (sumProjection) FullName() string                           { return "sum" }
func (sumProjection) Initial(projection.Context) (string, error) { return "0", nil }
func (sumProjection) TryLoad(io.Reader) (string, bool)           { return "", false }
func (sumProjection) TrySave(io.Writer, string) bool             { return true }
func (sumProjection) Commit(string, uint32)                      {}
func (sumProjection) Upkeep(projection.Context, string) (string, bool) {
	return "", false
}

func (sumProjection) Apply(seq uint32, e int, prev string) (string, error) {
	return fmt.Sprintf("%s+%d", prev, e), nil
}

func newTestService(t *testing.T, ctx context.Context, opts ...Option[int, string]) *Service[int, string] {
	t.Helper()
	r, err := projection.New[int, string](sumProjection{}, projection.Context{})
	if err != nil {
		t.Fatalf("projection.New: %v", err)
	}
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	g, err := projection.NewGroup[string]([]projection.Member{r}, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	d := memdriver.New()
	es := eventstream.New(d)
	w := wrapper.New[int, string](es, g)
	w.Decode = func(payload []byte) (int, error) {
		if len(payload) == 0 {
			return 0, errors.New("empty payload")
		}
		return int(payload[0]), nil
	}
	w.Encode = func(e int) ([]byte, error) { return []byte{byte(e)}, nil }

	allOpts := append([]Option[int, string]{WithWakeInterval[int, string](time.Hour)}, opts...)
	s := New(ctx, w, allOpts...)
	t.Cleanup(s.Stop)
	return s
}

func waitReady(t *testing.T, s *Service[int, string]) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if ready, err := s.IsReady(); ready {
			return
		} else if err != nil {
			t.Fatalf("IsReady: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("service never became ready")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestServiceBecomesReadyOnEmptyStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestService(t, ctx)
	waitReady(t, s)

	cur, err := s.ReadLocal()
	if err != nil {
		t.Fatalf("ReadLocal: %v", err)
	}
	if cur != "0" {
		t.Fatalf("ReadLocal() = %q, want %q", cur, "0")
	}
}

func TestReadLocalBeforeReadyFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := projection.New[int, string](sumProjection{}, projection.Context{})
	if err != nil {
		t.Fatalf("projection.New: %v", err)
	}
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	g, err := projection.NewGroup[string]([]projection.Member{r}, nil)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	d := memdriver.New()
	es := eventstream.New(d)
	w := wrapper.New[int, string](es, g)
	w.Decode = func(payload []byte) (int, error) { return int(payload[0]), nil }
	w.Encode = func(e int) ([]byte, error) { return []byte{byte(e)}, nil }

	s := New[int, string](ctx, w)
	defer s.Stop()
	if _, err := s.ReadLocal(); !errors.Is(err, ErrStreamNotReady) {
		t.Fatalf("ReadLocal before ready = %v, want ErrStreamNotReady", err)
	}
}

func TestServiceAppendAndReadLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestService(t, ctx)
	waitReady(t, s)

	res, err := Append[int, string, struct{}](ctx, s, func(current string) ([]int, struct{}) {
		return []int{1, 2, 3}, struct{}{}
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Count != 3 || res.FirstSeq != 1 {
		t.Fatalf("res = %+v, want count=3 firstSeq=1", res)
	}

	live, err := s.ReadLive(ctx)
	if err != nil {
		t.Fatalf("ReadLive: %v", err)
	}
	if live != "0+1+2+3" {
		t.Fatalf("ReadLive() = %q, want 0+1+2+3", live)
	}

	local, err := s.ReadLocal()
	if err != nil {
		t.Fatalf("ReadLocal: %v", err)
	}
	if local != "0+1+2+3" {
		t.Fatalf("ReadLocal() = %q, want 0+1+2+3", local)
	}
}

func TestServiceBlindAppend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestService(t, ctx)
	waitReady(t, s)

	res, err := BlindAppend[int, string](ctx, s, []int{5, 6})
	if err != nil {
		t.Fatalf("BlindAppend: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("res = %+v, want count=2", res)
	}
	cur, err := s.ReadLocal()
	if err != nil {
		t.Fatalf("ReadLocal: %v", err)
	}
	if cur != "0+5+6" {
		t.Fatalf("ReadLocal() = %q, want 0+5+6", cur)
	}
}

func TestServiceRunTransaction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestService(t, ctx)
	waitReady(t, s)

	err := RunTransaction[int, string](ctx, s, func(tx *wrapper.Transaction[int, string]) error {
		if err := tx.Add(7); err != nil {
			return err
		}
		return tx.Add(8)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	cur, err := s.ReadLocal()
	if err != nil {
		t.Fatalf("ReadLocal: %v", err)
	}
	if cur != "0+7+8" {
		t.Fatalf("ReadLocal() = %q, want 0+7+8", cur)
	}
}

func TestServiceStopIsIdempotentAndUnblocksPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestService(t, ctx)
	waitReady(t, s)

	s.Stop()
	s.Stop() // must not panic or deadlock

	if _, err := Append[int, string, struct{}](ctx, s, func(current string) ([]int, struct{}) {
		return []int{1}, struct{}{}
	}); err == nil {
		t.Fatal("Append after Stop should fail")
	}
}
