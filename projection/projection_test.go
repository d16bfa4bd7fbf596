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

package projection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/carli2/eventstore/projcache"
)

// adderProjection folds ints into a trace string recording each applied
// (event:sequence) pair.
type adderProjection struct {
	NoRestore[string]
	fail bool
}

func (adderProjection) FullName() string { return "test" }

func (adderProjection) Initial(ctx Context) (string, error) { return "", nil }

func (p adderProjection) Apply(seq uint32, e int, prev string) (string, error) {
	if p.fail {
		return "", errors.New("adderProjection: forced failure")
	}
	return fmt.Sprintf("%s(%d:%d)", prev, e, seq), nil
}

func (adderProjection) TryLoad(source io.Reader) (string, bool) {
	data, err := io.ReadAll(source)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (adderProjection) TrySave(sink io.Writer, s string) bool {
	_, err := sink.Write([]byte(s))
	return err == nil
}

func (adderProjection) Commit(s string, seq uint32) {}

func (adderProjection) Upkeep(ctx Context, s string) (string, bool) { return s, false }

func newTestReified(t *testing.T, cache projcache.Provider, fail bool) *Reified[int, string] {
	t.Helper()
	r, err := New[int, string](adderProjection{fail: fail}, Context{Cache: cache})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestApplyRequiresIncreasingSequence(t *testing.T) {
	r := newTestReified(t, nil, false)
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := r.Apply(1, 5); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := r.Apply(1, 5); err == nil {
		t.Fatal("expected error re-applying the same sequence")
	}
}

func TestProjectionLoadThenApply(t *testing.T) {
	ctx := context.Background()
	cache := projcache.NewFileProvider(t.TempDir())

	// Seed a slot "02 00 00 00 | 0000 | 02 00 00 00" directly.
	if err := cache.TryWrite(ctx, "test", func(sink io.Writer) error {
		w := bufio.NewWriter(sink)
		w.Write([]byte{2, 0, 0, 0})
		w.Write([]byte("0000"))
		w.Write([]byte{2, 0, 0, 0})
		return w.Flush()
	}); err != nil {
		t.Fatalf("seed TryWrite: %v", err)
	}

	r := newTestReified(t, cache, false)
	if err := r.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Sequence() != 2 || r.Current() != "0000" {
		t.Fatalf("after Create: sequence=%d current=%q, want 2, 0000", r.Sequence(), r.Current())
	}

	if err := r.Apply(4, 14); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.Sequence() != 4 || r.Current() != "0000(14:4)" {
		t.Fatalf("after Apply: sequence=%d current=%q, want 4, 0000(14:4)", r.Sequence(), r.Current())
	}
}

func TestInconsistentSaveSkippedUntilReset(t *testing.T) {
	ctx := context.Background()
	cache := projcache.NewFileProvider(t.TempDir())
	r := newTestReified(t, cache, true)
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if err := r.Apply(1, 0); err == nil {
		t.Fatal("expected Apply to fail")
	}
	if r.Sequence() != 1 {
		t.Fatalf("Sequence() = %d, want 1 (advances even on failure)", r.Sequence())
	}
	if !r.Inconsistent() {
		t.Fatal("expected inconsistency flag set")
	}

	if err := r.TrySave(ctx); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("TrySave err = %v, want ErrInconsistent", err)
	}
	if _, ok, _ := cache.OpenRead(ctx, "test").Next(ctx); ok {
		t.Fatal("no slot should have been written while inconsistent")
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	nonFailing := newTestReified(t, cache, false)
	nonFailing.current = r.current
	nonFailing.sequence = r.sequence
	if err := nonFailing.TrySave(ctx); err != nil {
		t.Fatalf("TrySave after reset: %v", err)
	}
	rc, ok, err := cache.OpenRead(ctx, "test").Next(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a slot after reset+save, ok=%v err=%v", ok, err)
	}
	rc.Close()
}

func TestTryApplyDoesNotMutate(t *testing.T) {
	r := newTestReified(t, nil, false)
	r.Reset()
	r.Apply(1, 10)

	sim, err := r.TryApply([]int{20, 30})
	if err != nil {
		t.Fatalf("TryApply: %v", err)
	}
	if sim == r.Current() {
		t.Fatal("TryApply's result should differ from the unmutated current state")
	}
	if r.Sequence() != 1 || r.Current() != "(10:1)" {
		t.Fatalf("TryApply must not mutate r: sequence=%d current=%q", r.Sequence(), r.Current())
	}
}
