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

package memdriver

import (
	"testing"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/driver/conformance"
)

func TestConformance(t *testing.T) {
	conformance.Run(t, func() driver.Driver { return New() })
}
