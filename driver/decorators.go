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

package driver

import (
	"context"
	"time"

	"github.com/carli2/eventstore/eslog"
	"github.com/carli2/eventstore/record"
)

// readOnly rejects Write with ErrReadOnly; every other call delegates.
type readOnly struct{ inner Driver }

// WithReadOnly wraps inner so Write always fails, per the `read_only`
// storage configuration option.
func WithReadOnly(inner Driver) Driver { return readOnly{inner} }

func (d readOnly) GetPosition(ctx context.Context) (int64, error) { return d.inner.GetPosition(ctx) }

func (d readOnly) Write(ctx context.Context, position int64, events []record.Event) (WriteResult, error) {
	return WriteResult{}, ErrReadOnly
}

func (d readOnly) Read(ctx context.Context, position int64, buf []byte) (ReadResult, error) {
	return d.inner.Read(ctx, position, buf)
}

func (d readOnly) GetLastKey(ctx context.Context) (uint32, error) { return d.inner.GetLastKey(ctx) }

func (d readOnly) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	return d.inner.Seek(ctx, key, floorPosition)
}

// trace logs a stopwatch per call.
type trace struct{ inner Driver }

// WithTrace wraps inner with per-call stopwatch logging via eslog.Tracef,
// per the `trace` storage configuration option.
func WithTrace(inner Driver) Driver { return trace{inner} }

func (d trace) GetPosition(ctx context.Context) (int64, error) {
	start := time.Now()
	pos, err := d.inner.GetPosition(ctx)
	eslog.Tracef("driver: get_position took %s (err=%v)", time.Since(start), err)
	return pos, err
}

func (d trace) Write(ctx context.Context, position int64, events []record.Event) (WriteResult, error) {
	start := time.Now()
	res, err := d.inner.Write(ctx, position, events)
	eslog.Tracef("driver: write(%d, %d events) took %s (success=%v err=%v)", position, len(events), time.Since(start), res.Success, err)
	return res, err
}

func (d trace) Read(ctx context.Context, position int64, buf []byte) (ReadResult, error) {
	start := time.Now()
	res, err := d.inner.Read(ctx, position, buf)
	eslog.Tracef("driver: read(%d, %d bytes) took %s (%d events, err=%v)", position, len(buf), time.Since(start), len(res.Events), err)
	return res, err
}

func (d trace) GetLastKey(ctx context.Context) (uint32, error) {
	start := time.Now()
	key, err := d.inner.GetLastKey(ctx)
	eslog.Tracef("driver: get_last_key took %s (err=%v)", time.Since(start), err)
	return key, err
}

func (d trace) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	start := time.Now()
	pos, err := d.inner.Seek(ctx, key, floorPosition)
	eslog.Tracef("driver: seek(%d) took %s (err=%v)", key, time.Since(start), err)
	return pos, err
}
