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

package wrapper

import (
	"context"
	"errors"
)

// ErrTransactionAborted is returned by Add/Commit once Abort has been
// called.
var ErrTransactionAborted = errors.New("wrapper: transaction aborted")

// Transaction buffers candidate events against a snapshot of the
// sequence the group was at when the transaction began. Each Add
// simulates applying the whole buffered batch via Group.Simulate without
// touching live state; a failing simulation leaves the buffer unchanged.
// Commit only succeeds if the group's sequence has not moved since
// BeginTransaction; otherwise it reports needsRetry so the caller can
// rebuild the transaction against the refreshed state.
type Transaction[E, S any] struct {
	w           *Wrapper[E, S]
	capturedSeq uint32
	buffered    []E
	aborted     bool
}

// BeginTransaction snapshots the group's current sequence and starts an
// empty buffer.
func (w *Wrapper[E, S]) BeginTransaction() *Transaction[E, S] {
	return &Transaction[E, S]{w: w, capturedSeq: w.group.Sequence()}
}

// Add validates e against the buffered batch so far (plus e) by
// simulating on detached clones of every sub-projection; on success e is
// appended to the buffer.
func (tx *Transaction[E, S]) Add(e E) error {
	if tx.aborted {
		return ErrTransactionAborted
	}
	candidate := make([]E, len(tx.buffered)+1)
	copy(candidate, tx.buffered)
	candidate[len(tx.buffered)] = e

	anyEvents := make([]any, len(candidate))
	for i, c := range candidate {
		anyEvents[i] = c
	}
	if _, err := tx.w.group.Simulate(anyEvents); err != nil {
		return err
	}
	tx.buffered = candidate
	return nil
}

// Abort discards the buffer; Add and Commit fail afterward.
func (tx *Transaction[E, S]) Abort() { tx.aborted = true }

// Commit writes the buffered batch iff the group's sequence still
// matches what was captured at BeginTransaction. needsRetry is true on
// an optimistic mismatch or write conflict; the caller should build a
// fresh Transaction against the now-current state and replay its adds.
func (tx *Transaction[E, S]) Commit(ctx context.Context) (needsRetry bool, err error) {
	if tx.aborted {
		return false, ErrTransactionAborted
	}
	if tx.w.group.Sequence() != tx.capturedSeq {
		return true, nil
	}
	if len(tx.buffered) == 0 {
		return false, nil
	}

	records, err := tx.w.encodeBatch(tx.buffered)
	if err != nil {
		return false, err
	}
	_, ok, err := tx.w.stream.Write(ctx, records)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	tx.w.CatchUpLocal(ctx)
	tx.w.notifyRefresh()
	return false, nil
}
