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
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// DefaultSliceSize is the per-slice download size: reads whose
// filled range is at least twice this trigger parallel sub-range
// downloads.
const DefaultSliceSize = 512 * 1024

// MultiBlobDriver shards the logical stream across capped append blobs,
// transparently compacting full shards into block blobs and reading
// slices in parallel. It implements driver.Driver.
type MultiBlobDriver struct {
	backend   Backend
	retry     RetryPolicy
	sliceSize int64
	readOnly  bool

	mu                sync.Mutex // guards lastKnownPosition and the refresh/write protocol
	shards            shardList
	lastKnownPosition int64
	cacheLoaded       bool

	compacting atomic.Bool
}

// Option configures a MultiBlobDriver.
type Option func(*MultiBlobDriver)

// WithSliceSize overrides DefaultSliceSize.
func WithSliceSize(n int64) Option { return func(d *MultiBlobDriver) { d.sliceSize = n } }

// WithRetryPolicy overrides DefaultRetryPolicy().
func WithRetryPolicy(p RetryPolicy) Option { return func(d *MultiBlobDriver) { d.retry = p } }

// ReadOnly rejects Write with driver.ErrReadOnly.
func ReadOnly() Option { return func(d *MultiBlobDriver) { d.readOnly = true } }

// New constructs a multi-blob driver over backend. The local shard cache
// is populated lazily on first use.
func New(backend Backend, opts ...Option) *MultiBlobDriver {
	d := &MultiBlobDriver{
		backend:   backend,
		retry:     DefaultRetryPolicy(),
		sliceSize: DefaultSliceSize,
		shards:    newShardList(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// firstPositions returns, for the given ordered shard snapshot, the
// cumulative byte offset at which each shard begins, plus the
// end-of-stream position.
func firstPositions(shards []Shard) (starts []int64, end int64) {
	starts = make([]int64, len(shards))
	var acc int64
	for i, s := range shards {
		starts[i] = acc
		acc += s.ByteLength
	}
	return starts, acc
}

// refreshCache re-lists blobs from the backend and rebuilds the local
// shard index. Caller must hold d.mu.
func (d *MultiBlobDriver) refreshCache(ctx context.Context) error {
	infos, err := retry(ctx, d.retry, true, func(ctx context.Context) ([]BlobInfo, error) {
		return d.backend.ListBlobs(ctx, "events.")
	})
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	raw := map[int]BlobInfo{}
	compact := map[int]BlobInfo{}
	maxIdx := -1
	for _, info := range infos {
		idx, isCompact, ok := shardIndexFromName(info.Name)
		if !ok {
			continue
		}
		if isCompact {
			compact[idx] = info
		} else {
			raw[idx] = info
			if idx > maxIdx {
				maxIdx = idx
			}
		}
	}

	highestCompact := -1
	for idx := range compact {
		if idx > highestCompact {
			highestCompact = idx
		}
	}

	var rebuilt []Shard
	var offsetInCompact int64
	for idx := 0; idx <= maxIdx; idx++ {
		info, ok := raw[idx]
		if !ok {
			// a shard index with no raw blob is an anomaly (never
			// deleted by this driver); stop here rather than guess.
			break
		}
		var s Shard
		s.AppendName = shardName(idx)
		if idx <= highestCompact {
			s.DataName = compactName(highestCompact)
			s.DataOffset = offsetInCompact
			offsetInCompact += info.ByteLength
		} else {
			s.DataName = info.Name
			s.DataOffset = 0
		}
		s.ByteLength = info.ByteLength
		if prev, ok := getShard(&d.shards, idx); ok && prev.FirstKey != nil {
			s.FirstKey = prev.FirstKey
		}
		rebuilt = append(rebuilt, s)
	}

	for _, e := range d.shards.GetAll() {
		if e.idx >= len(rebuilt) {
			d.shards.Remove(e.idx)
		}
	}
	for idx, s := range rebuilt {
		setShard(&d.shards, idx, s)
	}
	d.cacheLoaded = true

	_, end := firstPositions(rebuilt)
	d.lastKnownPosition = end
	return nil
}

func (d *MultiBlobDriver) ensureCache(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cacheLoaded {
		return nil
	}
	return d.refreshCache(ctx)
}

func (d *MultiBlobDriver) GetPosition(ctx context.Context) (int64, error) {
	if err := d.ensureCache(ctx); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refreshCache(ctx); err != nil {
		return 0, err
	}
	return d.lastKnownPosition, nil
}

func (d *MultiBlobDriver) Write(ctx context.Context, position int64, events []record.Event) (driver.WriteResult, error) {
	if d.readOnly {
		return driver.WriteResult{}, driver.ErrReadOnly
	}
	if err := d.ensureCache(ctx); err != nil {
		return driver.WriteResult{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if position > d.lastKnownPosition {
		if err := d.refreshCache(ctx); err != nil {
			return driver.WriteResult{}, err
		}
		if position < d.lastKnownPosition {
			return driver.WriteResult{NextPosition: d.lastKnownPosition, Success: false}, nil
		}
	}

	if shardCount(&d.shards) == 0 {
		err := d.backend.CreateAppendBlob(ctx, shardName(0))
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return driver.WriteResult{}, err
		}
		setShard(&d.shards, 0, Shard{AppendName: shardName(0), DataName: shardName(0)})
	}

	var payload []byte
	for _, e := range events {
		var err error
		payload, err = record.Append(payload, e)
		if err != nil {
			return driver.WriteResult{}, err
		}
	}
	if len(payload) == 0 {
		if err := d.refreshCache(ctx); err != nil {
			return driver.WriteResult{}, err
		}
		return driver.WriteResult{NextPosition: d.lastKnownPosition, Success: d.lastKnownPosition == position}, nil
	}

	shards := sortedShards(&d.shards)
	lastIdx := len(shards) - 1
	starts, _ := firstPositions(shards)
	lastShard := shards[lastIdx]
	offset := position - starts[lastIdx]

	newLen, err := d.backend.AppendBlock(ctx, lastShard.AppendName, payload, offset)
	switch {
	case err == nil:
		lastShard.ByteLength = newLen
		setShard(&d.shards, lastIdx, lastShard)
		d.lastKnownPosition = position + int64(len(payload))
		go d.maybeCompact(context.Background())
		return driver.WriteResult{NextPosition: d.lastKnownPosition, Success: true}, nil

	case errors.Is(err, ErrCollision):
		if rerr := d.refreshCache(ctx); rerr != nil {
			return driver.WriteResult{}, rerr
		}
		return driver.WriteResult{NextPosition: d.lastKnownPosition, Success: false}, nil

	case errors.Is(err, ErrMaxReached):
		nextIdx := lastIdx + 1
		cerr := d.backend.CreateAppendBlob(ctx, shardName(nextIdx))
		if cerr != nil && !errors.Is(cerr, ErrAlreadyExists) {
			return driver.WriteResult{}, cerr
		}
		setShard(&d.shards, nextIdx, Shard{AppendName: shardName(nextIdx), DataName: shardName(nextIdx)})

		newLen2, err2 := d.backend.AppendBlock(ctx, shardName(nextIdx), payload, 0)
		if err2 == nil {
			ns, _ := getShard(&d.shards, nextIdx)
			ns.ByteLength = newLen2
			setShard(&d.shards, nextIdx, ns)
			d.lastKnownPosition = position + int64(len(payload))
			go d.maybeCompact(context.Background())
			return driver.WriteResult{NextPosition: d.lastKnownPosition, Success: true}, nil
		}
		if errors.Is(err2, ErrCollision) {
			// a concurrent writer rolled over first
			if rerr := d.refreshCache(ctx); rerr != nil {
				return driver.WriteResult{}, rerr
			}
			return driver.WriteResult{NextPosition: d.lastKnownPosition, Success: false}, nil
		}
		return driver.WriteResult{}, err2

	default:
		return driver.WriteResult{}, err
	}
}

func (d *MultiBlobDriver) Read(ctx context.Context, position int64, buf []byte) (driver.ReadResult, error) {
	if err := d.ensureCache(ctx); err != nil {
		return driver.ReadResult{}, err
	}

	d.mu.Lock()
	shards := sortedShards(&d.shards)
	d.mu.Unlock()

	starts, end := firstPositions(shards)
	if position >= end {
		return driver.ReadResult{NextPosition: position}, nil
	}

	i := sort.Search(len(starts), func(i int) bool {
		var next int64
		if i+1 < len(starts) {
			next = starts[i+1]
		} else {
			next = end
		}
		return position < next
	})
	shard := shards[i]
	startInBlob := position - starts[i]
	size := shard.ByteLength - startInBlob
	if int64(len(buf)) < size {
		size = int64(len(buf))
	}
	if size <= 0 {
		return driver.ReadResult{NextPosition: position}, nil
	}

	filled := buf[:size]
	if err := d.downloadInto(ctx, shard, startInBlob, filled); err != nil {
		return driver.ReadResult{}, err
	}

	return parseFilled(position, filled)
}

// downloadInto fills dst from shard starting at startInBlob, fanning out
// into parallel sub-range downloads when the filled range is at least
// twice the configured slice size.
func (d *MultiBlobDriver) downloadInto(ctx context.Context, shard Shard, startInBlob int64, dst []byte) error {
	size := int64(len(dst))
	if size < 2*d.sliceSize {
		data, err := retry(ctx, d.retry, false, func(ctx context.Context) ([]byte, error) {
			return d.backend.DownloadRange(ctx, shard.DataName, shard.DataOffset+startInBlob, size)
		})
		if err != nil {
			return err
		}
		copy(dst, data)
		return nil
	}

	sliceCount := (size + d.sliceSize - 1) / d.sliceSize
	g, gctx := errgroup.WithContext(ctx)
	for s := int64(0); s < sliceCount; s++ {
		s := s
		off := s * d.sliceSize
		length := d.sliceSize
		isLast := s == sliceCount-1
		if isLast {
			length = size - off
		}
		run := func(ctx context.Context) error {
			data, err := retry(ctx, d.retry, false, func(ctx context.Context) ([]byte, error) {
				return d.backend.DownloadRange(ctx, shard.DataName, shard.DataOffset+startInBlob+off, length)
			})
			if err != nil {
				return err
			}
			if !isLast && int64(len(data)) != d.sliceSize {
				return fmt.Errorf("blobdriver: short slice at offset %d: got %d, want %d", off, len(data), d.sliceSize)
			}
			copy(dst[off:off+int64(len(data))], data)
			return nil
		}
		if isLast {
			// the final (possibly short) slice runs in the caller task
			if err := run(gctx); err != nil {
				return err
			}
		} else {
			g.Go(func() error { return run(gctx) })
		}
	}
	return g.Wait()
}

func parseFilled(position int64, filled []byte) (driver.ReadResult, error) {
	var out []record.Event
	rest := filled
	p := position
	for {
		e, n, err := record.TryParse(rest)
		if err != nil {
			return driver.ReadResult{}, fmt.Errorf("blobdriver: %w at position %d", err, p)
		}
		if n == 0 {
			break
		}
		cp := make([]byte, len(e.Payload))
		copy(cp, e.Payload)
		out = append(out, record.Event{Sequence: e.Sequence, Payload: cp})
		rest = rest[n:]
		p += int64(n)
	}
	return driver.ReadResult{NextPosition: p, Events: out}, nil
}

func (d *MultiBlobDriver) GetLastKey(ctx context.Context) (uint32, error) {
	if err := d.ensureCache(ctx); err != nil {
		return 0, err
	}
	d.mu.Lock()
	shards := sortedShards(&d.shards)
	d.mu.Unlock()

	var last *Shard
	for i := len(shards) - 1; i >= 0; i-- {
		if shards[i].ByteLength > 0 {
			last = &shards[i]
			break
		}
	}
	if last == nil {
		return 0, nil
	}

	footprint := int64(record.MaxEventFootprint)
	if footprint > last.ByteLength {
		footprint = last.ByteLength
	}
	tailOffset := last.DataOffset + last.ByteLength - footprint
	data, err := retry(ctx, d.retry, false, func(ctx context.Context) ([]byte, error) {
		return d.backend.DownloadRange(ctx, last.DataName, tailOffset, footprint)
	})
	if err != nil {
		return 0, err
	}
	return record.GetLastSequence(sliceReaderAt(data), int64(len(data)))
}

func (d *MultiBlobDriver) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	if err := d.ensureCache(ctx); err != nil {
		return floorPosition, err
	}

	d.mu.Lock()
	shards := sortedShards(&d.shards)
	d.mu.Unlock()
	starts, _ := firstPositions(shards)

	for i := range shards {
		if shards[i].ByteLength == 0 {
			continue
		}
		if shards[i].FirstKey == nil {
			fk, err := d.fetchFirstKey(ctx, shards[i])
			if err != nil {
				return floorPosition, err
			}
			shards[i].FirstKey = &fk
			d.mu.Lock()
			setShard(&d.shards, i, shards[i])
			d.mu.Unlock()
		}
		var nextFirstKey *uint32
		if i+1 < len(shards) {
			if shards[i+1].FirstKey == nil {
				fk, err := d.fetchFirstKey(ctx, shards[i+1])
				if err != nil {
					return floorPosition, err
				}
				shards[i+1].FirstKey = &fk
				d.mu.Lock()
				setShard(&d.shards, i+1, shards[i+1])
				d.mu.Unlock()
			}
			nextFirstKey = shards[i+1].FirstKey
		}
		if nextFirstKey != nil && *nextFirstKey > key {
			if starts[i] > floorPosition {
				return starts[i], nil
			}
			return floorPosition, nil
		}
	}

	if len(shards) == 0 {
		return floorPosition, nil
	}
	lastStart := starts[len(starts)-1]
	if lastStart > floorPosition {
		return lastStart, nil
	}
	return floorPosition, nil
}

func (d *MultiBlobDriver) fetchFirstKey(ctx context.Context, s Shard) (uint32, error) {
	// the append blob's metadata caches the first sequence from earlier
	// runs; only fall back to reading the shard head when it is absent.
	if md, err := retry(ctx, d.retry, true, func(ctx context.Context) (map[string]string, error) {
		_, meta, err := d.backend.GetProperties(ctx, s.AppendName)
		return meta, err
	}); err == nil {
		if v, ok := md[firstKeyMetadataKey]; ok {
			if parsed, perr := strconv.ParseUint(v, 10, 32); perr == nil {
				return uint32(parsed), nil
			}
		}
	}

	data, err := retry(ctx, d.retry, true, func(ctx context.Context) ([]byte, error) {
		return d.backend.DownloadRange(ctx, s.DataName, s.DataOffset, 6)
	})
	if err != nil {
		return 0, err
	}
	if len(data) < 6 {
		return 0, nil
	}
	seq := uint32(data[2]) | uint32(data[3])<<8 | uint32(data[4])<<16 | uint32(data[5])<<24
	// metadata writes are a cache refill; permission failures are fine
	_, _ = retry(ctx, d.retry, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.backend.SetMetadata(ctx, s.AppendName, map[string]string{
			firstKeyMetadataKey: strconv.FormatUint(uint64(seq), 10),
		})
	})
	return seq, nil
}

type sliceReaderAt []byte

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, s[off:])
	return n, nil
}
