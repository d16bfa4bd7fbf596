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

// Package storageconfig parses a storage connection string and its
// option set into a fully wired driver.Driver.
package storageconfig

import (
	"fmt"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"

	"github.com/carli2/eventstore/driver"
	"github.com/carli2/eventstore/driver/blobdriver"
	"github.com/carli2/eventstore/driver/blobdriver/azureblob"
	"github.com/carli2/eventstore/driver/cachedriver"
	"github.com/carli2/eventstore/driver/filedriver"
)

// Options collects the storage configuration table's optional knobs.
type Options struct {
	CachePath string // wrap the final driver with a local read cache at this path
	ReadOnly  bool   // reject Write with a fixed error
	Trace     bool   // wrap the driver with a stopwatch-logging decorator
	MonoBlob  string // replace the container driver with a single-blob driver against this name
	SliceSize string // human-readable size (docker/go-units), defaults to blobdriver.DefaultSliceSize
}

// Open parses connectionString per the storage configuration table and
// returns a wired driver.Driver.
func Open(connectionString string, opts Options) (driver.Driver, error) {
	var base driver.Driver
	var err error

	switch {
	case strings.HasPrefix(connectionString, "DefaultEndpointsProtocol") || strings.HasPrefix(connectionString, "BlobEndpoint"):
		base, err = openAzure(connectionString, opts)
	default:
		base, err = openFile(connectionString)
	}
	if err != nil {
		return nil, err
	}

	if opts.CachePath != "" {
		cache, cerr := filedriver.Open(opts.CachePath)
		if cerr != nil {
			return nil, fmt.Errorf("storageconfig: cache_path: %w", cerr)
		}
		base = cachedriver.New(base, cache)
	}
	if opts.ReadOnly {
		base = driver.WithReadOnly(base)
	}
	if opts.Trace {
		base = driver.WithTrace(base)
	}
	return base, nil
}

func parseContainer(connectionString string) string {
	for _, part := range strings.Split(connectionString, ";") {
		if name, ok := strings.CutPrefix(part, "Container="); ok {
			return name
		}
	}
	return "$root"
}

func openAzure(connectionString string, opts Options) (driver.Driver, error) {
	container := parseContainer(connectionString)
	backend, err := azureblob.Open(connectionString, container)
	if err != nil {
		return nil, fmt.Errorf("storageconfig: azure: %w", err)
	}

	var blobOpts []blobdriver.Option
	if opts.SliceSize != "" {
		n, serr := units.RAMInBytes(opts.SliceSize)
		if serr != nil {
			return nil, fmt.Errorf("storageconfig: slice size: %w", serr)
		}
		blobOpts = append(blobOpts, blobdriver.WithSliceSize(n))
	}

	if opts.MonoBlob != "" {
		return blobdriver.NewMono(backend, blobdriver.WithMonoName(opts.MonoBlob)), nil
	}
	return blobdriver.New(backend, blobOpts...), nil
}

func openFile(connectionString string) (driver.Driver, error) {
	path := connectionString
	container := "$root"
	if parts := strings.SplitN(connectionString, ";", 2); len(parts) == 2 {
		path = parts[0]
		container = parseContainer(connectionString)
	}
	return filedriver.Open(filepath.Join(path, container))
}
