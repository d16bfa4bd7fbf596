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

// Package cachedriver wraps a driver.Driver with a local mirror,
// typically a filedriver.Driver, so repeated reads of already-seen
// history are served from disk instead of the network.
package cachedriver

import (
	"context"
	"fmt"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// Cache is the local mirror cachedriver writes into. *filedriver.Driver
// satisfies it.
type Cache interface {
	GetPosition(ctx context.Context) (int64, error)
	Write(ctx context.Context, position int64, events []record.Event) (driver.WriteResult, error)
	Read(ctx context.Context, position int64, buf []byte) (driver.ReadResult, error)
}

// Driver serves reads from a local Cache up to the cache's current
// position, falling through to Inner (and mirroring what it returns)
// beyond that. Write, Seek, GetPosition and GetLastKey all delegate to
// Inner unchanged; the cache is read-only from the caller's perspective.
type Driver struct {
	Inner driver.Driver
	Cache Cache
}

// New constructs a read-cache driver over inner, mirroring into cache.
func New(inner driver.Driver, cache Cache) *Driver {
	return &Driver{Inner: inner, Cache: cache}
}

func (d *Driver) GetPosition(ctx context.Context) (int64, error) { return d.Inner.GetPosition(ctx) }

func (d *Driver) Write(ctx context.Context, position int64, events []record.Event) (driver.WriteResult, error) {
	return d.Inner.Write(ctx, position, events)
}

func (d *Driver) GetLastKey(ctx context.Context) (uint32, error) { return d.Inner.GetLastKey(ctx) }

func (d *Driver) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	return d.Inner.Seek(ctx, key, floorPosition)
}

func (d *Driver) Read(ctx context.Context, position int64, buf []byte) (driver.ReadResult, error) {
	cachePos, err := d.Cache.GetPosition(ctx)
	if err != nil {
		return driver.ReadResult{}, err
	}

	// the cache holds a contiguous prefix of the stream; extend it from
	// the inner driver until it covers position, then serve from it.
	for position >= cachePos {
		res, err := d.Inner.Read(ctx, cachePos, buf)
		if err != nil {
			return driver.ReadResult{}, err
		}
		if res.NextPosition == cachePos {
			// end of stream before reaching position
			return driver.ReadResult{NextPosition: position}, nil
		}

		var payload []byte
		for _, e := range res.Events {
			payload, err = record.Append(payload, e)
			if err != nil {
				return driver.ReadResult{}, err
			}
		}
		wres, err := d.Cache.Write(ctx, cachePos, res.Events)
		if err != nil {
			return driver.ReadResult{}, err
		}
		if !wres.Success || wres.NextPosition != cachePos+int64(len(payload)) {
			return driver.ReadResult{}, fmt.Errorf("cachedriver: cache mirror did not advance by the full fetched amount (wrote to %d, expected %d)", wres.NextPosition, cachePos+int64(len(payload)))
		}
		cachePos = wres.NextPosition
	}

	return d.Cache.Read(ctx, position, buf)
}
