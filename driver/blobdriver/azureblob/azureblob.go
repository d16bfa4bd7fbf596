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

// Package azureblob backs driver/blobdriver.Backend with Azure append
// blobs and block blobs, the production target the blobdriver package's
// shard rollover and compaction protocol were designed against.
package azureblob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	azblobmod "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/carli2/eventstore/driver/blobdriver"
)

// Backend implements blobdriver.Backend against one Azure container.
type Backend struct {
	container *container.Client
}

// New wraps an already-constructed container client.
func New(containerClient *container.Client) *Backend {
	return &Backend{container: containerClient}
}

// Open builds a Backend from a storage connection string and container
// name, matching the `DefaultEndpointsProtocol`/`BlobEndpoint` branch of
// the storage configuration table.
func Open(connectionString, containerName string) (*Backend, error) {
	svc, err := azblobmod.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, err
	}
	return New(svc.ServiceClient().NewContainerClient(containerName)), nil
}

func (b *Backend) ListBlobs(ctx context.Context, prefix string) ([]blobdriver.BlobInfo, error) {
	var out []blobdriver.BlobInfo
	pager := b.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			var length int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				length = *item.Properties.ContentLength
			}
			out = append(out, blobdriver.BlobInfo{Name: *item.Name, ByteLength: length})
		}
	}
	return out, nil
}

// translate maps an SDK error onto the blobdriver sentinels: 404 becomes
// ErrNotFound, anything else keeps its HTTP status visible for the retry
// policy's 5xx check.
func translate(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == 404 {
			return blobdriver.ErrNotFound
		}
		return &blobdriver.StatusError{Code: respErr.StatusCode, Err: err}
	}
	return err
}

func (b *Backend) CreateAppendBlob(ctx context.Context, name string) error {
	client := b.container.NewAppendBlobClient(name)
	_, err := client.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 409 {
			return blobdriver.ErrAlreadyExists
		}
		return translate(err)
	}
	return nil
}

func (b *Backend) AppendBlock(ctx context.Context, name string, data []byte, ifLength int64) (int64, error) {
	client := b.container.NewAppendBlobClient(name)
	resp, err := client.AppendBlock(ctx, streamOf(data), &appendblob.AppendBlockOptions{
		AppendPositionAccessConditions: &appendblob.AppendPositionAccessConditions{
			AppendPosition: &ifLength,
		},
	})
	if err != nil {
		switch {
		case bloberror.HasCode(err, bloberror.AppendPositionConditionNotMet, bloberror.ConditionNotMet):
			current, perr := b.currentLength(ctx, name)
			if perr != nil {
				return 0, perr
			}
			return 0, &blobdriver.CollisionError{CurrentLength: current}
		case bloberror.HasCode(err, bloberror.BlockCountExceedsLimit, bloberror.MaxBlobSizeConditionNotMet):
			return 0, blobdriver.ErrMaxReached
		}
		return 0, translate(err)
	}
	if resp.BlobAppendOffset != nil && resp.BlobCommittedBlockCount != nil {
		offset, _ := strconv.ParseInt(*resp.BlobAppendOffset, 10, 64)
		return offset + int64(len(data)), nil
	}
	return b.currentLength(ctx, name)
}

func (b *Backend) currentLength(ctx context.Context, name string) (int64, error) {
	length, _, err := b.GetProperties(ctx, name)
	return length, err
}

func (b *Backend) GetProperties(ctx context.Context, name string) (int64, map[string]string, error) {
	client := b.container.NewBlobClient(name)
	props, err := client.GetProperties(ctx, nil)
	if err != nil {
		return 0, nil, translate(err)
	}
	var length int64
	if props.ContentLength != nil {
		length = *props.ContentLength
	}
	md := make(map[string]string, len(props.Metadata))
	for k, v := range props.Metadata {
		if v != nil {
			md[k] = *v
		}
	}
	return length, md, nil
}

func (b *Backend) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	client := b.container.NewBlobClient(name)
	md := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		v := v
		md[k] = &v
	}
	_, err := client.SetMetadata(ctx, md, nil)
	return translate(err)
}

func (b *Backend) DownloadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	client := b.container.NewBlobClient(name)
	resp, err := client.DownloadStream(ctx, &azblobmod.DownloadStreamOptions{
		Range: azblobmod.HTTPRange{Offset: offset, Count: length},
	})
	if err != nil {
		return nil, translate(err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// blockB64 maps the driver's opaque block ids onto the base64 form the
// service requires; ids in one blob keep a uniform encoded length.
func blockB64(blockID string) string {
	return base64.StdEncoding.EncodeToString([]byte(blockID))
}

func (b *Backend) StageBlock(ctx context.Context, name string, blockID string, data []byte) error {
	client := b.container.NewBlockBlobClient(name)
	_, err := client.StageBlock(ctx, blockB64(blockID), streamOf(data), nil)
	return translate(err)
}

func (b *Backend) CommitBlockList(ctx context.Context, name string, blockIDs []string) error {
	client := b.container.NewBlockBlobClient(name)
	encoded := make([]string, len(blockIDs))
	for i, id := range blockIDs {
		encoded[i] = blockB64(id)
	}
	_, err := client.CommitBlockList(ctx, encoded, &blockblob.CommitBlockListOptions{})
	return translate(err)
}

func streamOf(data []byte) io.ReadSeekCloser {
	return streaming.NopCloser(bytes.NewReader(data))
}
