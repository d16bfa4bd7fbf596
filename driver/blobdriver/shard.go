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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/launix-de/NonLockingReadMap"
)

// firstKeyMetadataKey is the append blob user-metadata key under which
// the shard's first sequence is cached.
const firstKeyMetadataKey = "FirstKey"

// Shard describes one piece of the logical stream.
type Shard struct {
	AppendName string // events.NNNNN
	DataName   string // same as AppendName, or its .compact block blob
	DataOffset int64  // offset inside DataName at which this shard's bytes begin
	ByteLength int64
	FirstKey   *uint32 // nil until lazily fetched
}

func shardName(n int) string { return fmt.Sprintf("events.%05d", n) }

func compactName(n int) string { return fmt.Sprintf("events.%05d.compact", n) }

// shardIndexFromName parses "events.NNNNN" or "events.NNNNN.compact" into
// n; ok is false for anything else.
func shardIndexFromName(name string) (n int, compact bool, ok bool) {
	rest := strings.TrimPrefix(name, "events.")
	if rest == name {
		return 0, false, false
	}
	compact = strings.HasSuffix(rest, ".compact")
	rest = strings.TrimSuffix(rest, ".compact")
	if len(rest) != 5 {
		return 0, false, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false, false
	}
	return v, compact, true
}

// shardEntry adapts Shard to NonLockingReadMap.KeyGetter[int]; the shard
// list is read on every GetPosition/Read/Seek and written only on shard
// rollover or compaction — exactly the read-heavy/write-rare profile
// NonLockingReadMap is built for.
type shardEntry struct {
	idx   int
	shard Shard
}

func (e shardEntry) GetKey() int       { return e.idx }
func (e shardEntry) ComputeSize() uint { return 96 }

type shardList = NonLockingReadMap.NonLockingReadMap[shardEntry, int]

func newShardList() shardList {
	return NonLockingReadMap.New[shardEntry, int]()
}

// sortedShards returns every shard currently known, ordered by index.
func sortedShards(m *shardList) []Shard {
	all := m.GetAll()
	sort.Slice(all, func(i, j int) bool { return all[i].idx < all[j].idx })
	out := make([]Shard, len(all))
	for i, e := range all {
		out[i] = e.shard
	}
	return out
}

func setShard(m *shardList, idx int, s Shard) {
	m.Set(&shardEntry{idx: idx, shard: s})
}

func getShard(m *shardList, idx int) (Shard, bool) {
	e := m.Get(idx)
	if e == nil {
		return Shard{}, false
	}
	return e.shard, true
}

func shardCount(m *shardList) int {
	return len(m.GetAll())
}
