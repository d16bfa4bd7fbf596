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

// Package record implements the on-wire framing of a single event: a
// length-prefixed, CRC-protected record that can be scanned forward from
// any offset and whose last occurrence can be located from any truncated
// suffix.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// MaxPayloadSize is the exclusive upper bound on an event's payload
// length: payloads must be strictly shorter.
const MaxPayloadSize = 512 * 1024

// HeaderSize is the fixed overhead before the payload (size + key).
const HeaderSize = 6

// TrailerSize is the fixed overhead after the payload (crc + size).
const TrailerSize = 6

// MaxEventFootprint is the largest possible on-wire record size, used to
// size the tail read in GetLastSequence.
const MaxEventFootprint = HeaderSize + TrailerSize + 8*65535

// ErrCorruption is returned when a record's head/tail sizes disagree or its
// CRC does not match. It is always fatal for the record being parsed.
var ErrCorruption = errors.New("record: corruption detected")

// ErrPayloadTooLarge is returned by Write when payload length reaches or
// exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("record: payload too large")

// ErrPayloadUnaligned is returned by Write when payload length is not a
// multiple of 8.
var ErrPayloadUnaligned = errors.New("record: payload length not a multiple of 8")

// Event is a single raw event: a sequence number (the "key") and an opaque
// payload whose length must be a non-negative multiple of 8 and strictly
// less than MaxPayloadSize.
type Event struct {
	Sequence uint32
	Payload  []byte
}

// Size returns the number of bytes Write would emit for this event.
func (e Event) Size() int {
	return HeaderSize + len(e.Payload) + TrailerSize
}

// crc computes the record's CRC32 seeded on the event's sequence, fed only
// with the payload bytes. The reversed polynomial 0xEDB88320 is the
// standard library's IEEE table; seeding with the key instead of the usual
// zero/all-ones constant ties the checksum to the key/payload association.
func crc(seq uint32, payload []byte) uint32 {
	return crc32.Update(seq, crc32.IEEETable, payload)
}

// Write encodes event into buf (which must have at least event.Size()
// bytes of capacity from offset 0) and returns the number of bytes
// written. It fails if the payload is not 8-byte aligned or is too large.
func Write(buf []byte, event Event) (int, error) {
	n := len(event.Payload)
	if n%8 != 0 {
		return 0, ErrPayloadUnaligned
	}
	if n >= MaxPayloadSize {
		return 0, ErrPayloadTooLarge
	}
	total := HeaderSize + n + TrailerSize
	if len(buf) < total {
		return 0, fmt.Errorf("record: buffer too small: need %d, have %d", total, len(buf))
	}

	sizeDiv8 := uint16(n / 8)
	binary.LittleEndian.PutUint16(buf[0:2], sizeDiv8)
	binary.LittleEndian.PutUint32(buf[2:6], event.Sequence)
	copy(buf[6:6+n], event.Payload)

	c := crc(event.Sequence, event.Payload)
	binary.LittleEndian.PutUint32(buf[6+n:10+n], c)
	binary.LittleEndian.PutUint16(buf[10+n:12+n], sizeDiv8)

	return total, nil
}

// Append is a convenience wrapper around Write that grows dst instead of
// requiring a preallocated buffer.
func Append(dst []byte, event Event) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, event.Size())...)
	n, err := Write(dst[start:], event)
	if err != nil {
		return dst[:start], err
	}
	return dst[:start+n], nil
}

// TryParse attempts to decode a single event from the head of buf. It
// returns (event, bytesConsumed, nil) on success; (Event{}, 0, nil) if buf
// does not yet contain a complete record (caller should read more and
// retry); or (Event{}, 0, ErrCorruption) if the leading/trailing sizes
// disagree or the CRC does not match.
//
// The returned event's Payload aliases buf; callers that retain it across
// a future buffer reuse must copy it first.
func TryParse(buf []byte) (Event, int, error) {
	if len(buf) < 2 {
		return Event{}, 0, nil
	}
	sizeDiv8 := binary.LittleEndian.Uint16(buf[0:2])
	n := int(sizeDiv8) * 8
	total := HeaderSize + n + TrailerSize
	if len(buf) < total {
		return Event{}, 0, nil
	}

	seq := binary.LittleEndian.Uint32(buf[2:6])
	payload := buf[6 : 6+n]
	gotCRC := binary.LittleEndian.Uint32(buf[6+n : 10+n])
	trailerSize := binary.LittleEndian.Uint16(buf[10+n : 12+n])

	if trailerSize != sizeDiv8 {
		return Event{}, 0, ErrCorruption
	}
	if wantCRC := crc(seq, payload); wantCRC != gotCRC {
		return Event{}, 0, ErrCorruption
	}

	return Event{Sequence: seq, Payload: payload}, total, nil
}

// GetLastSequence reads the trailing size and key of the last record
// within src[0:size] and returns its sequence. It returns 0 for a
// zero-length source, and io.ErrUnexpectedEOF if size is shorter than the
// minimal footprint its own trailer claims.
func GetLastSequence(src io.ReaderAt, size int64) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	if size < 2 {
		return 0, io.ErrUnexpectedEOF
	}

	var trailerSizeBuf [2]byte
	if _, err := src.ReadAt(trailerSizeBuf[:], size-2); err != nil {
		return 0, err
	}
	sizeDiv8 := binary.LittleEndian.Uint16(trailerSizeBuf[:])
	lastEventSize := HeaderSize + int64(sizeDiv8)*8 + TrailerSize

	// the key lives 2 bytes into the record; the record starts
	// lastEventSize bytes before the end of src.
	if size < lastEventSize {
		return 0, io.ErrUnexpectedEOF
	}
	keyOffset := size - lastEventSize + 2

	var keyBuf [4]byte
	if _, err := src.ReadAt(keyBuf[:], keyOffset); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(keyBuf[:]), nil
}
