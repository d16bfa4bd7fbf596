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

package filedriver

import (
	"context"
	"testing"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/driver/conformance"
	"github.com/carli2/eventstore/record"
)

func TestConformance(t *testing.T) {
	conformance.Run(t, func() driver.Driver {
		d, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { d.Close() })
		return d
	})
}

func TestSingleEventRecordFootprint(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	res, err := d.Write(ctx, 0, []record.Event{{Sequence: 1, Payload: payload}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !res.Success || res.NextPosition != 20 {
		t.Fatalf("Write result = %+v, want success with next_position=20", res)
	}
}
