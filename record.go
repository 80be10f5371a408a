// SPDX-License-Identifier: MIT

package evtxgo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrRecordEnvelopeInvalid is the walker-level skip condition: the bytes at
// a candidate marker position did not decode into a well-formed envelope.
var ErrRecordEnvelopeInvalid = errors.New("evtxgo: invalid record envelope")

// RecordEnvelope is the fixed-layout metadata framing a BinXml body inside
// a chunk, per spec §3. Body is a borrowed view into the chunk's backing
// buffer, not a copy.
type RecordEnvelope struct {
	Offset   int64 // chunk-relative offset of the envelope's first byte
	Size     uint32
	RecordID uint64
	WriteTime time.Time
	Body     []byte
}

// filetimeEpoch is 1601-01-01 00:00:00 UTC, the FILETIME zero point.
var filetimeEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// filetimeToTime converts a 64-bit count of 100ns ticks since 1601-01-01
// UTC into a time.Time. Shared by the record envelope and the FILETIME
// value-type renderer.
func filetimeToTime(ticks uint64) time.Time {
	// split into whole seconds and a sub-second remainder: ticks*100 as a
	// time.Duration overflows int64 for any date after the late 1800s.
	secs := int64(ticks / 10_000_000)
	nanos := int64(ticks%10_000_000) * 100
	return time.Unix(filetimeEpoch.Unix()+secs, nanos).UTC()
}

// parseRecordEnvelope attempts to parse one record envelope starting at
// the front of buf (chunk-relative offset `at`), failing if the marker
// doesn't match, the declared size is out of range, the envelope would
// cross upperBound, or the trailing size doesn't echo the leading size.
// Per the Open Question resolution in SPEC_FULL.md §9, both sizes must
// agree for the record to be accepted.
func parseRecordEnvelope(buf []byte, at int, upperBound int) (RecordEnvelope, int, error) {
	if at+4 > len(buf) || [4]byte(buf[at:at+4]) != recordMarker {
		return RecordEnvelope{}, 0, ErrRecordEnvelopeInvalid
	}
	if at+recordMinSize > len(buf) {
		return RecordEnvelope{}, 0, fmt.Errorf("%w: envelope header crosses buffer end at %d", ErrRecordEnvelopeInvalid, at)
	}

	size := binary.LittleEndian.Uint32(buf[at+4 : at+8])
	if size < recordMinSize {
		return RecordEnvelope{}, 0, fmt.Errorf("%w: size %d below minimum %d", ErrRecordEnvelopeInvalid, size, recordMinSize)
	}
	end := at + int(size)
	if end > upperBound || end > len(buf) {
		return RecordEnvelope{}, 0, fmt.Errorf("%w: size %d crosses upper bound", ErrRecordEnvelopeInvalid, size)
	}

	trailingSize := binary.LittleEndian.Uint32(buf[end-4 : end])
	if trailingSize != size {
		return RecordEnvelope{}, 0, fmt.Errorf("%w: trailing size %d != leading size %d", ErrRecordEnvelopeInvalid, trailingSize, size)
	}

	recordID := binary.LittleEndian.Uint64(buf[at+8 : at+16])
	writeTime := binary.LittleEndian.Uint64(buf[at+16 : at+24])

	env := RecordEnvelope{
		Offset:    int64(at),
		Size:      size,
		RecordID:  recordID,
		WriteTime: filetimeToTime(writeTime),
		Body:      buf[at+recordHeaderSize : end-4],
	}
	return env, end, nil
}

// walkRecords scans buf in 4-byte steps from offset 512 (chunkHeaderSize) up
// to upperBound looking for the record marker. On a mismatch or a malformed
// envelope it advances by 4 and keeps scanning rather than aborting, so
// valid records after a corrupted gap are still recovered (spec §4.2, the
// "greedy recovery vs. chunk-abort" design note). Accepted records advance
// scanning by their declared size, and the 4-byte steps continue from the
// end of that record. Returns the ordered envelopes found and the count of
// positions skipped due to a malformed envelope (the marker matched but the
// envelope did not parse); positions without a marker are not counted.
func walkRecords(buf []byte, upperBound int) ([]RecordEnvelope, int) {
	if upperBound > len(buf) {
		upperBound = len(buf)
	}

	var records []RecordEnvelope
	skipped := 0
	pos := chunkHeaderSize
	for pos+4 <= upperBound {
		env, next, err := parseRecordEnvelope(buf, pos, upperBound)
		if err != nil {
			if [4]byte(buf[pos:pos+4]) == recordMarker {
				skipped++
			}
			pos += 4
			continue
		}
		records = append(records, env)
		pos = next
	}
	return records, skipped
}
