// SPDX-License-Identifier: MIT

package evtxgo

import "time"

// Event is one rendered record, in whichever Format the Config requested.
type Event struct {
	ChunkOffset int64 // absolute file offset of the owning chunk
	RecordID    uint64
	WriteTime   time.Time
	Format      Format
	Data        []byte // rendered XML (UTF-8 text) or JSON bytes

	// Diagnostic is set when this record's own render failed (spec §6(c)'s
	// flat iterator yields a diagnostic alongside each event rather than
	// requiring a caller to cross-reference the result-level Diagnostics
	// list by RecordID). Data is empty whenever Diagnostic is non-nil. The
	// same condition is also appended to ParseResult.Diagnostics, for
	// callers that only want the aggregate view.
	Diagnostic *Diagnostic
}

// String returns Data as a string regardless of Format, for convenience
// when a caller only cares about printable output.
func (e Event) String() string { return string(e.Data) }

// ParsedChunk is one successfully-walked 64 KiB chunk and its events, in
// on-disk record order.
type ParsedChunk struct {
	Offset    int64 // absolute file offset of the chunk slot
	Header    ChunkHeader
	Events    []Event
	Recovered bool // true if produced by phase 4's headerless recovery
}

// ParseResult is the outcome of a single Parse call: the file header, the
// phase-3 chunks in ascending file-offset order followed by the phase-4
// recovered chunks (also in offset order), and the diagnostics accumulated
// along the way. A ParseResult with zero Diagnostics and any Chunks is a
// byte-identical result regardless of how many worker threads produced it
// (spec §8's cross-thread-count determinism property).
type ParseResult struct {
	FileHeader  FileHeader
	Chunks      []ParsedChunk
	Diagnostics []Diagnostic
}

// Events flattens every chunk's events into one slice, in Chunks order.
func (r *ParseResult) Events() []Event {
	total := 0
	for _, c := range r.Chunks {
		total += len(c.Events)
	}
	out := make([]Event, 0, total)
	for _, c := range r.Chunks {
		out = append(out, c.Events...)
	}
	return out
}
