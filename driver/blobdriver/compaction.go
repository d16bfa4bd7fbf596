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

	"github.com/google/uuid"
)

// compactionSlabSize is the block size staged into the block blob during
// background compaction.
const compactionSlabSize = 4 * 1024 * 1024

// maybeCompact runs a background compaction pass if at least one sealed
// (non-last) shard is not yet covered by the most recent .compact blob.
// At most one compaction runs at a time per driver instance.
func (d *MultiBlobDriver) maybeCompact(ctx context.Context) {
	if !d.compacting.CompareAndSwap(false, true) {
		return
	}
	defer d.compacting.Store(false)

	d.mu.Lock()
	shards := sortedShards(&d.shards)
	d.mu.Unlock()
	if len(shards) < 2 {
		return
	}
	// the currently open (last) shard is still being appended to and is
	// never part of a compaction run.
	sealed := shards[:len(shards)-1]

	highestCompact := -1
	for i, s := range sealed {
		if s.DataName == compactName(len(sealed)-1) {
			highestCompact = i
		}
	}
	if highestCompact == len(sealed)-1 {
		return // already fully compacted
	}

	targetIdx := len(sealed) - 1
	if err := d.compactUpTo(ctx, sealed, targetIdx); err != nil {
		return
	}
	d.mu.Lock()
	_ = d.refreshCache(ctx)
	d.mu.Unlock()
}

// compactUpTo streams shards[0..targetIdx] into a single block blob
// events.<targetIdx>.compact, staging compactionSlabSize blocks and
// committing the block list at the end.
func (d *MultiBlobDriver) compactUpTo(ctx context.Context, sealed []Shard, targetIdx int) error {
	name := compactName(targetIdx)
	var blockIDs []string

	var carry []byte
	flush := func(force bool) error {
		for len(carry) >= compactionSlabSize || (force && len(carry) > 0) {
			n := compactionSlabSize
			if n > len(carry) {
				n = len(carry)
			}
			id := uuid.NewString()
			if _, err := retry(ctx, d.retry, false, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, d.backend.StageBlock(ctx, name, id, carry[:n])
			}); err != nil {
				return err
			}
			blockIDs = append(blockIDs, id)
			carry = carry[n:]
		}
		return nil
	}

	for i := 0; i <= targetIdx; i++ {
		s := sealed[i]
		remaining := s.ByteLength
		var off int64
		for remaining > 0 {
			chunk := int64(compactionSlabSize)
			if chunk > remaining {
				chunk = remaining
			}
			data, err := retry(ctx, d.retry, false, func(ctx context.Context) ([]byte, error) {
				return d.backend.DownloadRange(ctx, s.DataName, s.DataOffset+off, chunk)
			})
			if err != nil {
				return err
			}
			carry = append(carry, data...)
			off += chunk
			remaining -= chunk
			if err := flush(false); err != nil {
				return err
			}
		}
	}
	if err := flush(true); err != nil {
		return err
	}

	_, err := retry(ctx, d.retry, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.backend.CommitBlockList(ctx, name, blockIDs)
	})
	return err
}
