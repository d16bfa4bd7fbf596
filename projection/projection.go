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

// Package projection is the reified projection and projection group: a
// user projection's state/sequence pair, wrapped with
// load/save against a projcache.Provider and an inconsistency flag that
// once set blocks further saves until reset.
package projection

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"

	"github.com/carli2/eventstore/eslog"
	"github.com/carli2/eventstore/projcache"
)

var nameRE = regexp.MustCompile(`^[-a-zA-Z0-9_]{1,16}$`)

// ErrInconsistent is returned by TrySave while the inconsistency flag is
// set; it clears only on Reset.
var ErrInconsistent = fmt.Errorf("projection: inconsistent, save skipped")

// Context is what a user projection's Initial/Upkeep/TryRestore see: the
// projection cache provider (nil if none configured) and an optional
// memory-mapped folder path (empty if unused).
type Context struct {
	Cache  projcache.Provider
	Folder string
}

// RestoredState is what TryRestore hands back for projections backed by
// a memory-mapped folder.
type RestoredState[S any] struct {
	State    S
	Sequence uint32
}

// UserProjection is the contract user projections implement. Those with no
// folder-backed restore path embed NoRestore[S] to satisfy TryRestore
// trivially.
type UserProjection[E, S any] interface {
	FullName() string
	Initial(ctx Context) (S, error)
	Apply(seq uint32, e E, prev S) (S, error)
	TryLoad(source io.Reader) (S, bool)
	TrySave(sink io.Writer, s S) bool
	Commit(s S, seq uint32)
	Upkeep(ctx Context, s S) (S, bool)
	TryRestore(ctx Context) (RestoredState[S], bool)
}

// NoRestore is embedded by user projections with no memory-mapped
// folder; TryRestore always reports "not restored".
type NoRestore[S any] struct{}

func (NoRestore[S]) TryRestore(ctx Context) (RestoredState[S], bool) {
	var zero RestoredState[S]
	return zero, false
}

// Reified owns one user projection's current state and sequence, and the
// cache round-trip machinery around it. Not safe for concurrent use; the
// stream wrapper serializes access to it.
type Reified[E, S any] struct {
	proj UserProjection[E, S]
	ctx  Context
	name string

	current      S
	sequence     uint32
	inconsistent bool
	unsaved      bool
}

// New validates the projection name and constructs a Reified
// wrapping proj.
func New[E, S any](proj UserProjection[E, S], ctx Context) (*Reified[E, S], error) {
	name := proj.FullName()
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("projection: invalid name %q, must match [-a-zA-Z0-9_]{1,16}", name)
	}
	return &Reified[E, S]{proj: proj, ctx: ctx, name: name}, nil
}

// Current is the projection's current state.
func (r *Reified[E, S]) Current() S { return r.current }

// Sequence is the sequence of the last event folded into Current.
func (r *Reified[E, S]) Sequence() uint32 { return r.sequence }

// Name is the validated projection name.
func (r *Reified[E, S]) Name() string { return r.name }

// Inconsistent reports whether a failed Apply has blocked further saves.
func (r *Reified[E, S]) Inconsistent() bool { return r.inconsistent }

// Create tries TryRestore, then TryLoad, falling back to Reset.
func (r *Reified[E, S]) Create(ctx context.Context) error {
	if rs, ok := r.proj.TryRestore(r.ctx); ok {
		r.current = rs.State
		r.sequence = rs.Sequence
		r.inconsistent = false
		r.unsaved = false
		return nil
	}
	if r.TryLoad(ctx) {
		return nil
	}
	return r.Reset()
}

// Reset discards all state and reinitializes from P.Initial.
func (r *Reified[E, S]) Reset() error {
	initial, err := r.proj.Initial(r.ctx)
	if err != nil {
		return fmt.Errorf("projection %s: initial: %w", r.name, err)
	}
	r.current = initial
	r.sequence = 0
	r.inconsistent = false
	r.unsaved = false
	return nil
}

// Apply requires seq > Sequence. Sequence always advances; on the user
// projection failing, the inconsistency flag is set and the error is
// returned without replacing Current.
func (r *Reified[E, S]) Apply(seq uint32, e E) error {
	if seq <= r.sequence {
		return fmt.Errorf("projection %s: apply(%d) not after current sequence %d", r.name, seq, r.sequence)
	}
	r.sequence = seq
	next, err := r.proj.Apply(seq, e, r.current)
	if err != nil {
		r.inconsistent = true
		return err
	}
	r.current = next
	r.unsaved = true
	return nil
}

// TryApply simulates applying events (sequences r.Sequence()+1 ..
// r.Sequence()+len(events)) on a detached copy of Current, never
// mutating r, returning the resulting state.
func (r *Reified[E, S]) TryApply(events []E) (S, error) {
	sim := r.current
	s := r.sequence + 1
	for _, e := range events {
		var err error
		sim, err = r.proj.Apply(s, e, sim)
		if err != nil {
			var zero S
			return zero, err
		}
		s++
	}
	return sim, nil
}

// TryLoad enumerates cache candidates most-recent-first, accepting the
// first whose seq_head/seq_tail sanity bytes match and whose middle
// range P.TryLoad accepts. Never returns an error; logs and continues
// past corrupt candidates.
func (r *Reified[E, S]) TryLoad(ctx context.Context) bool {
	if r.ctx.Cache == nil {
		return false
	}
	candidates := r.ctx.Cache.OpenRead(ctx, r.name)
	for {
		rc, ok, err := candidates.Next(ctx)
		if err != nil {
			eslog.Warnf("projection %s: candidate enumeration: %v", r.name, err)
			return false
		}
		if !ok {
			return false
		}
		state, seq, accepted := r.parseCandidate(rc)
		rc.Close()
		if !accepted {
			continue
		}
		r.current = state
		r.sequence = seq
		r.unsaved = false
		return true
	}
}

func (r *Reified[E, S]) parseCandidate(rc io.Reader) (state S, seq uint32, ok bool) {
	data, err := io.ReadAll(rc)
	if err != nil {
		eslog.Warnf("projection %s: reading candidate: %v", r.name, err)
		return state, 0, false
	}
	if len(data) < 8 {
		eslog.Warnf("projection %s: candidate too short (%d bytes)", r.name, len(data))
		return state, 0, false
	}
	seqHead := binary.LittleEndian.Uint32(data[:4])
	seqTail := binary.LittleEndian.Uint32(data[len(data)-4:])
	if seqHead != seqTail {
		eslog.Warnf("projection %s: candidate sanity mismatch head=%d tail=%d", r.name, seqHead, seqTail)
		return state, 0, false
	}
	middle := data[4 : len(data)-4]
	s, ok := r.proj.TryLoad(bytes.NewReader(middle))
	if !ok {
		return state, 0, false
	}
	return s, seqHead, true
}

// TrySave writes a fresh cache slot unless the projection is inconsistent
// or no cache provider is configured. The slot is discarded (never
// committed) if P.TrySave returns false.
func (r *Reified[E, S]) TrySave(ctx context.Context) error {
	if r.inconsistent {
		return ErrInconsistent
	}
	if r.ctx.Cache == nil {
		return nil
	}
	err := r.ctx.Cache.TryWrite(ctx, r.name, func(sink io.Writer) error {
		var header [4]byte
		binary.LittleEndian.PutUint32(header[:], r.sequence)
		var body bytes.Buffer
		if !r.proj.TrySave(&body, r.current) {
			return fmt.Errorf("projection %s: try_save declined", r.name)
		}
		if _, err := sink.Write(header[:]); err != nil {
			return err
		}
		if _, err := sink.Write(body.Bytes()); err != nil {
			return err
		}
		_, err := sink.Write(header[:])
		return err
	})
	if err == nil {
		r.unsaved = false
	}
	return err
}

// Commit forwards to P.Commit(current, seq).
func (r *Reified[E, S]) Commit(seq uint32) { r.proj.Commit(r.current, seq) }

// Upkeep forwards to P.Upkeep, adopting the returned state if any.
func (r *Reified[E, S]) Upkeep() {
	if next, ok := r.proj.Upkeep(r.ctx, r.current); ok {
		r.current = next
	}
}

// UpkeepOrSaveLoad chooses between a save-then-reset-then-load cycle
// (projections with no memory-mapped side storage) and plain Upkeep,
// skipping entirely if nothing has changed since the last persist.
func (r *Reified[E, S]) UpkeepOrSaveLoad(ctx context.Context, seq uint32) error {
	if r.ctx.Folder != "" {
		// folder-backed projections compact through their own side
		// storage instead of cycling the cache
		r.Upkeep()
		return nil
	}
	if r.ctx.Cache == nil || !r.unsaved || r.inconsistent {
		return nil
	}
	if err := r.TrySave(ctx); err != nil {
		return err
	}
	if err := r.Reset(); err != nil {
		return err
	}
	r.TryLoad(ctx)
	return nil
}

// SetPossiblyInconsistent lets a caller outside Apply (e.g. a
// transaction abort that cannot undo a partial side effect) mark the
// projection unsafe to save until Reset.
func (r *Reified[E, S]) SetPossiblyInconsistent() { r.inconsistent = true }

// Clone returns a detached copy sharing no mutable state with r.
func (r *Reified[E, S]) Clone() *Reified[E, S] {
	c := *r
	return &c
}
