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
	"sync"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// defaultMonoBlobName is the single append blob used by MonoBlobDriver
// unless WithMonoName overrides it, per the `mono_blob(name)` storage
// configuration option.
const defaultMonoBlobName = "events"

// MonoBlobDriver is the single-append-blob variant: no sharding,
// no compaction, no Seek index. It surfaces the backend's append cap as
// driver.ErrBlobFull instead of silently rolling over, since there is
// nowhere to roll over to.
type MonoBlobDriver struct {
	backend Backend
	retry   RetryPolicy
	name    string

	mu      sync.Mutex
	length  int64
	created bool
}

// MonoOption configures a MonoBlobDriver.
type MonoOption func(*MonoBlobDriver)

// WithMonoRetryPolicy overrides DefaultRetryPolicy() for a mono-blob driver.
func WithMonoRetryPolicy(p RetryPolicy) MonoOption {
	return func(d *MonoBlobDriver) { d.retry = p }
}

// WithMonoName overrides defaultMonoBlobName, per `mono_blob(name)`.
func WithMonoName(name string) MonoOption {
	return func(d *MonoBlobDriver) { d.name = name }
}

// NewMono constructs a mono-blob driver over backend.
func NewMono(backend Backend, opts ...MonoOption) *MonoBlobDriver {
	d := &MonoBlobDriver{backend: backend, retry: DefaultRetryPolicy(), name: defaultMonoBlobName}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *MonoBlobDriver) ensureCreated(ctx context.Context) error {
	if d.created {
		return nil
	}
	err := d.backend.CreateAppendBlob(ctx, d.name)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	d.created = true
	return nil
}

func (d *MonoBlobDriver) GetPosition(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureCreated(ctx); err != nil {
		return 0, err
	}
	length, _, err := retryProps(ctx, d)
	if err != nil {
		return 0, err
	}
	d.length = length
	return length, nil
}

func retryProps(ctx context.Context, d *MonoBlobDriver) (int64, map[string]string, error) {
	type props struct {
		length int64
		meta   map[string]string
	}
	p, err := retry(ctx, d.retry, true, func(ctx context.Context) (props, error) {
		l, m, err := d.backend.GetProperties(ctx, d.name)
		return props{l, m}, err
	})
	return p.length, p.meta, err
}

func (d *MonoBlobDriver) Write(ctx context.Context, position int64, events []record.Event) (driver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureCreated(ctx); err != nil {
		return driver.WriteResult{}, err
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
		length, _, err := retryProps(ctx, d)
		if err != nil {
			return driver.WriteResult{}, err
		}
		return driver.WriteResult{NextPosition: length, Success: length == position}, nil
	}

	newLen, err := d.backend.AppendBlock(ctx, d.name, payload, position)
	switch {
	case err == nil:
		d.length = newLen
		return driver.WriteResult{NextPosition: newLen, Success: true}, nil
	case errors.Is(err, ErrCollision):
		length, _, perr := retryProps(ctx, d)
		if perr != nil {
			return driver.WriteResult{}, perr
		}
		d.length = length
		return driver.WriteResult{NextPosition: length, Success: false}, nil
	case errors.Is(err, ErrMaxReached):
		return driver.WriteResult{}, driver.ErrBlobFull
	default:
		return driver.WriteResult{}, err
	}
}

func (d *MonoBlobDriver) Read(ctx context.Context, position int64, buf []byte) (driver.ReadResult, error) {
	length, _, err := retryProps(ctx, d)
	if err != nil {
		return driver.ReadResult{}, err
	}
	if position >= length {
		return driver.ReadResult{NextPosition: position}, nil
	}
	n := int64(len(buf))
	if position+n > length {
		n = length - position
	}
	data, err := retry(ctx, d.retry, false, func(ctx context.Context) ([]byte, error) {
		return d.backend.DownloadRange(ctx, d.name, position, n)
	})
	if err != nil {
		return driver.ReadResult{}, err
	}
	return parseFilled(position, data)
}

func (d *MonoBlobDriver) GetLastKey(ctx context.Context) (uint32, error) {
	length, _, err := retryProps(ctx, d)
	if err != nil {
		return 0, err
	}
	if length == 0 {
		return 0, nil
	}
	footprint := int64(record.MaxEventFootprint)
	if footprint > length {
		footprint = length
	}
	data, err := retry(ctx, d.retry, false, func(ctx context.Context) ([]byte, error) {
		return d.backend.DownloadRange(ctx, d.name, length-footprint, footprint)
	})
	if err != nil {
		return 0, err
	}
	return record.GetLastSequence(sliceReaderAt(data), int64(len(data)))
}

// Seek has no index in the mono-blob driver; it always returns
// floorPosition.
func (d *MonoBlobDriver) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	return floorPosition, nil
}
