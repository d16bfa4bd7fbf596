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

// Package eslog is a thin leveled wrapper around the standard library
// logger. Trace is off by default so hot paths pay nothing unless a
// caller opts in.
package eslog

import (
	"log"
	"os"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

var traceEnabled atomic.Bool

// SetOutput redirects every level's output.
func SetOutput(l *log.Logger) {
	if l != nil {
		std = l
	}
}

// SetTrace toggles Tracef's output.
func SetTrace(on bool) { traceEnabled.Store(on) }

func Infof(format string, args ...any) { std.Printf("INFO  "+format, args...) }

func Warnf(format string, args ...any) { std.Printf("WARN  "+format, args...) }

func Errorf(format string, args ...any) { std.Printf("ERROR "+format, args...) }

// Tracef is a no-op unless SetTrace(true) was called.
func Tracef(format string, args ...any) {
	if traceEnabled.Load() {
		std.Printf("TRACE "+format, args...)
	}
}
