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

// Package s3driver backs driver/blobdriver.Backend with plain S3 objects.
// S3 has no append primitive, so AppendBlock does a full
// GetObject/PutObject read-modify-write with the length check serving
// as the compare-and-append precondition.
package s3driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/carli2/eventstore/driver/blobdriver"
)

// Config carries the bucket and credential settings for one S3 target.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// Backend implements blobdriver.Backend against an S3-compatible bucket.
type Backend struct {
	cfg    Config
	client *s3.Client
}

// Open builds a Backend, loading AWS credentials/config per cfg.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3driver: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &Backend{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

func (b *Backend) key(name string) string {
	if b.cfg.Prefix == "" {
		return name
	}
	return b.cfg.Prefix + "/" + name
}

func (b *Backend) ListBlobs(ctx context.Context, prefix string) ([]blobdriver.BlobInfo, error) {
	var out []blobdriver.BlobInfo
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(b.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := *obj.Key
			if b.cfg.Prefix != "" {
				name = name[len(b.cfg.Prefix)+1:]
			}
			out = append(out, blobdriver.BlobInfo{Name: name, ByteLength: aws.ToInt64(obj.Size)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) CreateAppendBlob(ctx context.Context, name string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name))})
	if err == nil {
		return blobdriver.ErrAlreadyExists
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name)), Body: bytes.NewReader(nil),
	})
	return err
}

func (b *Backend) currentLength(ctx context.Context, name string) (int64, map[string]string, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name))})
	if err != nil {
		return 0, nil, blobdriver.ErrNotFound
	}
	return aws.ToInt64(head.ContentLength), head.Metadata, nil
}

// AppendBlock is not atomic against other writers: it downloads the
// current object, checks the length precondition locally, then uploads
// the concatenation. Safe under this driver's single-owner-per-stream
// contract, which is the only caller.
func (b *Backend) AppendBlock(ctx context.Context, name string, data []byte, ifLength int64) (int64, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name))})
	if err != nil {
		return 0, blobdriver.ErrNotFound
	}
	existing, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, err
	}
	if int64(len(existing)) != ifLength {
		return 0, &blobdriver.CollisionError{CurrentLength: int64(len(existing))}
	}

	merged := append(existing, data...)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name)), Body: bytes.NewReader(merged),
		Metadata: resp.Metadata,
	})
	if err != nil {
		return 0, err
	}
	return int64(len(merged)), nil
}

func (b *Backend) GetProperties(ctx context.Context, name string) (int64, map[string]string, error) {
	return b.currentLength(ctx, name)
}

func (b *Backend) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.cfg.Bucket),
		Key:               aws.String(b.key(name)),
		CopySource:        aws.String(b.cfg.Bucket + "/" + b.key(name)),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	return err
}

func (b *Backend) DownloadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	rng := "bytes=" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(offset+length-1, 10)
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name)), Range: aws.String(rng),
	})
	if err != nil {
		return nil, blobdriver.ErrNotFound
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *Backend) StageBlock(ctx context.Context, name string, blockID string, data []byte) error {
	// blocks accumulate as temporary objects and CommitBlockList
	// concatenates them, so no multipart UploadId has to travel
	// through the Backend interface.
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(name + ".block." + blockID)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *Backend) CommitBlockList(ctx context.Context, name string, blockIDs []string) error {
	var merged []byte
	for _, id := range blockIDs {
		blockKey := name + ".block." + id
		resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(blockKey))})
		if err != nil {
			return err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		merged = append(merged, data...)
		_, _ = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(blockKey))})
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket), Key: aws.String(b.key(name)), Body: bytes.NewReader(merged),
	})
	return err
}
