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

// Package filedriver is the single-file local development driver:
// one append-only file, <path>/stream.bin.
package filedriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/record"
)

// Driver is a single-file driver.Driver.
type Driver struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if necessary) <dir>/stream.bin.
func Open(dir string) (*Driver, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "stream.bin"), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	return &Driver{path: dir, f: f}, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func (d *Driver) GetPosition(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *Driver) Write(ctx context.Context, position int64, events []record.Event) (driver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fi, err := d.f.Stat()
	if err != nil {
		return driver.WriteResult{}, err
	}
	cur := fi.Size()
	if position != cur {
		return driver.WriteResult{NextPosition: cur, Success: false}, nil
	}

	var payload []byte
	for _, e := range events {
		payload, err = record.Append(payload, e)
		if err != nil {
			return driver.WriteResult{}, err
		}
	}
	if len(payload) == 0 {
		return driver.WriteResult{NextPosition: cur, Success: true}, nil
	}
	if _, err := d.f.WriteAt(payload, position); err != nil {
		return driver.WriteResult{}, err
	}
	return driver.WriteResult{NextPosition: position + int64(len(payload)), Success: true}, nil
}

func (d *Driver) Read(ctx context.Context, position int64, buf []byte) (driver.ReadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fi, err := d.f.Stat()
	if err != nil {
		return driver.ReadResult{}, err
	}
	size := fi.Size()
	if position >= size {
		return driver.ReadResult{NextPosition: position}, nil
	}

	n := int64(len(buf))
	if position+n > size {
		n = size - position
	}
	filled, err := d.f.ReadAt(buf[:n], position)
	if err != nil && filled == 0 {
		return driver.ReadResult{}, err
	}

	return parseEvents(position, buf[:filled])
}

func parseEvents(position int64, data []byte) (driver.ReadResult, error) {
	var out []record.Event
	p := position
	rest := data
	for {
		e, n, err := record.TryParse(rest)
		if err != nil {
			return driver.ReadResult{}, fmt.Errorf("filedriver: %w at position %d", err, p)
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

func (d *Driver) GetLastKey(ctx context.Context) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return record.GetLastSequence(d.f, fi.Size())
}

// Seek has no index in the file driver; it always returns floorPosition,
// exactly like the mono-blob driver.
func (d *Driver) Seek(ctx context.Context, key uint32, floorPosition int64) (int64, error) {
	return floorPosition, nil
}
