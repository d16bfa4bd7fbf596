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
	"context"
	"errors"
	"fmt"
)

// Member is the type-erased view of a *Reified[E, S] a Group needs:
// Go generics can't hold heterogeneous Reified instances in one slice,
// so each sub-projection is adapted to this interface instead.
type Member interface {
	Sequence() uint32
	ApplyAny(seq uint32, e any) error
	TryLoad(ctx context.Context) bool
	TrySave(ctx context.Context) error
	Reset() error
	SetPossiblyInconsistent()
	StateAny() any
	CommitAny(seq uint32)
	UpkeepOrSaveLoad(ctx context.Context, seq uint32) error
	UpkeepAny()
	CloneAny() Member
}

// CommitAny forwards to P.Commit(current, seq).
func (r *Reified[E, S]) CommitAny(seq uint32) { r.Commit(seq) }

// UpkeepAny forwards to Upkeep.
func (r *Reified[E, S]) UpkeepAny() { r.Upkeep() }

// CloneAny returns a detached clone as a Member, for Group.Simulate.
func (r *Reified[E, S]) CloneAny() Member { return r.Clone() }

// ApplyAny lets Group drive a *Reified[E, S] without knowing E; e must
// be assignable to E or ApplyAny reports an error instead of panicking.
func (r *Reified[E, S]) ApplyAny(seq uint32, e any) error {
	typed, ok := e.(E)
	if !ok {
		return fmt.Errorf("projection %s: event %T does not match expected type", r.name, e)
	}
	return r.Apply(seq, typed)
}

// StateAny returns Current boxed as any, for Group's product-state
// builder.
func (r *Reified[E, S]) StateAny() any { return r.current }

// Group combines a set of sub-projections behind one target state type
// S. If constructed with a nil build closure it is a passthrough
// over its single member; otherwise build assembles S from the members'
// states, in the order members was given, and the result is cached until
// the next Apply invalidates it.
type Group[S any] struct {
	members  []Member
	build    func(subStates []any) S
	sequence uint32
	cached   *S
}

// NewGroup constructs a Group. build may be nil only when len(members)==1,
// in which case Current performs a direct type assertion (the
// passthrough case).
func NewGroup[S any](members []Member, build func(subStates []any) S) (*Group[S], error) {
	if build == nil && len(members) != 1 {
		return nil, fmt.Errorf("projection: group needs a build closure unless it has exactly one member")
	}
	return &Group[S]{members: members, build: build}, nil
}

// Sequence is the group's own monotonic counter, advanced unconditionally
// on every Apply regardless of which members actually changed.
func (g *Group[S]) Sequence() uint32 { return g.sequence }

// Current builds (or returns the cached) product state.
func (g *Group[S]) Current() S {
	if g.cached != nil {
		return *g.cached
	}
	var s S
	if g.build == nil {
		s = g.members[0].StateAny().(S)
	} else {
		states := make([]any, len(g.members))
		for i, m := range g.members {
			states[i] = m.StateAny()
		}
		s = g.build(states)
	}
	g.cached = &s
	return s
}

// Apply applies e to every member whose sequence is behind seq,
// collecting errors across all of them before returning. A failure in
// any member marks every member inconsistent. The group's own Sequence
// always advances.
func (g *Group[S]) Apply(seq uint32, e any) error {
	if seq > g.sequence {
		g.sequence = seq
	}
	g.cached = nil

	var errs []error
	for _, m := range g.members {
		if seq > m.Sequence() {
			if err := m.ApplyAny(seq, e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		for _, m := range g.members {
			m.SetPossiblyInconsistent()
		}
		return errors.Join(errs...)
	}
	return nil
}

// TryLoad succeeds only if every member's TryLoad succeeds; it is still
// called on every member so each one's own cache state is refreshed.
func (g *Group[S]) TryLoad(ctx context.Context) bool {
	g.cached = nil
	ok := true
	for _, m := range g.members {
		if !m.TryLoad(ctx) {
			ok = false
		}
	}
	return ok
}

// TrySave saves every member, joining any errors.
func (g *Group[S]) TrySave(ctx context.Context) error {
	var errs []error
	for _, m := range g.members {
		if err := m.TrySave(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Commit forwards to every member.
func (g *Group[S]) Commit(seq uint32) {
	for _, m := range g.members {
		m.CommitAny(seq)
	}
}

// UpkeepOrSaveLoad forwards to every member.
func (g *Group[S]) UpkeepOrSaveLoad(ctx context.Context, seq uint32) error {
	var errs []error
	for _, m := range g.members {
		if err := m.UpkeepOrSaveLoad(ctx, seq); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Simulate applies events (sequences Sequence()+1 ..) to detached clones
// of every member and returns the resulting product state, without
// mutating g or any of its members. Used by transactions to validate a
// batch of candidate events before writing them.
func (g *Group[S]) Simulate(events []any) (S, error) {
	clones := make([]Member, len(g.members))
	for i, m := range g.members {
		clones[i] = m.CloneAny()
	}

	seq := g.sequence
	for _, e := range events {
		seq++
		for _, c := range clones {
			if seq > c.Sequence() {
				if err := c.ApplyAny(seq, e); err != nil {
					var zero S
					return zero, err
				}
			}
		}
	}

	if g.build == nil {
		return clones[0].StateAny().(S), nil
	}
	states := make([]any, len(clones))
	for i, c := range clones {
		states[i] = c.StateAny()
	}
	return g.build(states), nil
}

// Upkeep forwards to every member's Upkeep.
func (g *Group[S]) Upkeep() {
	g.cached = nil
	for _, m := range g.members {
		m.UpkeepAny()
	}
}

// MarkInconsistent marks every member inconsistent without applying
// anything — used when a caller (e.g. a catch-up loop hitting a
// deserialization failure) cannot even attempt Apply.
func (g *Group[S]) MarkInconsistent() {
	for _, m := range g.members {
		m.SetPossiblyInconsistent()
	}
}

// Reset propagates to every member.
func (g *Group[S]) Reset() error {
	g.cached = nil
	var errs []error
	for _, m := range g.members {
		if err := m.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
