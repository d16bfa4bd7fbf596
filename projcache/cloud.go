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

package projcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/carli2/eventstore/driver/blobdriver"
)

// CloudProvider stores slots as versioned block blobs, reusing the same
// Backend contract blobdriver already wires to Azure/S3/Ceph: each
// committed write is one immutable blob named
// "<prefix><name>/slot-%010d-<uuid>.bin", newest sequence number wins.
type CloudProvider struct {
	backend blobdriver.Backend
	prefix  string
	retry   blobdriver.RetryPolicy

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewCloudProvider roots slots under prefix (e.g. "projcache/") on backend.
func NewCloudProvider(backend blobdriver.Backend, prefix string) *CloudProvider {
	return &CloudProvider{
		backend: backend,
		prefix:  prefix,
		retry:   blobdriver.DefaultRetryPolicy(),
		locks:   map[string]*sync.Mutex{},
	}
}

func (p *CloudProvider) nameLock(name string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	if m := p.locks[name]; m != nil {
		return m
	}
	m := new(sync.Mutex)
	p.locks[name] = m
	return m
}

func (p *CloudProvider) namePrefix(name string) string { return p.prefix + name + "/slot-" }

// parseSlotSeq extracts the monotonic sequence number from a slot blob
// name, stripping the namePrefix and the trailing "-<uuid>.bin".
func parseSlotSeq(blobName, namePrefix string) (int, bool) {
	rest := strings.TrimPrefix(blobName, namePrefix)
	if rest == blobName {
		return 0, false
	}
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(rest[:dash], "%010d", &n); err != nil {
		return 0, false
	}
	return n, true
}

type cloudCandidates struct {
	backend blobdriver.Backend
	names   []string
	idx     int
}

func (c *cloudCandidates) Next(ctx context.Context) (candidate io.ReadCloser, ok bool, err error) {
	for c.idx < len(c.names) {
		name := c.names[c.idx]
		c.idx++
		length, _, err := c.backend.GetProperties(ctx, name)
		if err != nil {
			continue
		}
		data, err := c.backend.DownloadRange(ctx, name, 0, length)
		if err != nil {
			continue
		}
		return nopCloser{bytes.NewReader(data)}, true, nil
	}
	return nil, false, nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func (p *CloudProvider) OpenRead(ctx context.Context, name string) Candidates {
	// a name currently held by a writer reads as empty
	lock := p.nameLock(name)
	if !lock.TryLock() {
		return &cloudCandidates{backend: p.backend}
	}
	lock.Unlock()

	namePrefix := p.namePrefix(name)
	infos, err := p.backend.ListBlobs(ctx, namePrefix)
	if err != nil {
		return &cloudCandidates{backend: p.backend}
	}
	type seqName struct {
		seq  int
		name string
	}
	var slots []seqName
	for _, info := range infos {
		if seq, ok := parseSlotSeq(info.Name, namePrefix); ok {
			slots = append(slots, seqName{seq, info.Name})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].seq > slots[j].seq })
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.name
	}
	return &cloudCandidates{backend: p.backend, names: names}
}

func (p *CloudProvider) TryWrite(ctx context.Context, name string, f func(sink io.Writer) error) error {
	lock := p.nameLock(name)
	if !lock.TryLock() {
		return ErrWriteBusy
	}
	defer lock.Unlock()

	namePrefix := p.namePrefix(name)
	infos, err := p.backend.ListBlobs(ctx, namePrefix)
	if err != nil {
		return err
	}
	next := 1
	for _, info := range infos {
		if seq, ok := parseSlotSeq(info.Name, namePrefix); ok && seq >= next {
			next = seq + 1
		}
	}

	var buf bytes.Buffer
	if err := f(&buf); err != nil {
		return err
	}

	blobName := fmt.Sprintf("%s%010d-%s.bin", namePrefix, next, uuid.NewString())
	blockID := uuid.NewString()
	if err := p.backend.StageBlock(ctx, blobName, blockID, buf.Bytes()); err != nil {
		return err
	}
	return p.backend.CommitBlockList(ctx, blobName, []string{blockID})
}
