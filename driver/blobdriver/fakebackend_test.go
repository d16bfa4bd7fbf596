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
	"strings"
	"sync"
)

// fakeBlob is one blob held by fakeBackend: either an append blob (open,
// growing via AppendBlock, capped at maxAppends) or a committed block
// blob (built from StageBlock/CommitBlockList).
type fakeBlob struct {
	data     []byte
	metadata map[string]string
	appends  int
	blocks   map[string][]byte
}

// fakeBackend is an in-memory Backend used by the blobdriver tests. It is
// safe for concurrent use, mirroring the minimal guarantees a real object
// store provides (atomic compare-and-append via AppendBlock).
type fakeBackend struct {
	mu         sync.Mutex
	blobs      map[string]*fakeBlob
	maxAppends int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{blobs: map[string]*fakeBlob{}, maxAppends: 5}
}

func (b *fakeBackend) ListBlobs(ctx context.Context, prefix string) ([]BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []BlobInfo
	for name, blob := range b.blobs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, BlobInfo{Name: name, ByteLength: int64(len(blob.data))})
		}
	}
	return out, nil
}

func (b *fakeBackend) CreateAppendBlob(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[name]; ok {
		return ErrAlreadyExists
	}
	b.blobs[name] = &fakeBlob{metadata: map[string]string{}}
	return nil
}

func (b *fakeBackend) AppendBlock(ctx context.Context, name string, data []byte, ifLength int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[name]
	if !ok {
		return 0, ErrNotFound
	}
	if int64(len(blob.data)) != ifLength {
		return 0, &CollisionError{CurrentLength: int64(len(blob.data))}
	}
	if blob.appends >= b.maxAppends {
		return 0, ErrMaxReached
	}
	blob.data = append(blob.data, data...)
	blob.appends++
	return int64(len(blob.data)), nil
}

func (b *fakeBackend) GetProperties(ctx context.Context, name string) (int64, map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[name]
	if !ok {
		return 0, nil, ErrNotFound
	}
	md := make(map[string]string, len(blob.metadata))
	for k, v := range blob.metadata {
		md[k] = v
	}
	return int64(len(blob.data)), md, nil
}

func (b *fakeBackend) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[name]
	if !ok {
		return ErrNotFound
	}
	for k, v := range metadata {
		blob.metadata[k] = v
	}
	return nil
}

func (b *fakeBackend) DownloadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	end := offset + length
	if end > int64(len(blob.data)) {
		end = int64(len(blob.data))
	}
	if offset > end {
		offset = end
	}
	out := make([]byte, end-offset)
	copy(out, blob.data[offset:end])
	return out, nil
}

func (b *fakeBackend) StageBlock(ctx context.Context, name string, blockID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[name]
	if !ok {
		blob = &fakeBlob{metadata: map[string]string{}}
		b.blobs[name] = blob
	}
	if blob.blocks == nil {
		blob.blocks = map[string][]byte{}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	blob.blocks[blockID] = cp
	return nil
}

func (b *fakeBackend) CommitBlockList(ctx context.Context, name string, blockIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[name]
	if !ok {
		return ErrNotFound
	}
	var out []byte
	for _, id := range blockIDs {
		out = append(out, blob.blocks[id]...)
	}
	blob.data = out
	blob.blocks = nil
	return nil
}
