// SPDX-License-Identifier: MIT

package evtxgo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Parse runs the full four-phase pipeline over data: parse the file
// header, enumerate chunk slots by signature, parse every signature-valid
// chunk in parallel, and attempt headerless recovery on every chunk that
// failed its signature or checksum check. Only structural failures in the
// file header itself or context cancellation abort the whole call; every
// other failure degrades to a Diagnostic and parsing continues (spec §7).
func Parse(ctx context.Context, data []byte, cfg Config) (*ParseResult, error) {
	cfg = cfg.withDefaults()
	cfg.TemplateCache.setLogger(cfg.Logger)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	header, err := ParseFileHeader(data)
	if err != nil {
		return nil, err
	}
	if cfg.ValidateChecksums && !ValidateFileHeaderCRC32(data, header) {
		cfg.Logger.Warn("evtxgo: file header checksum mismatch")
	}

	threads := cfg.MaxThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	type slot struct {
		offset       int64
		data         []byte
		hasSignature bool
	}

	var validSlots, badSignatureSlots []slot
	numSlots := (len(data) - fileHeaderBlockSize) / chunkSize
	for i := 0; i < numSlots; i++ {
		off := int64(fileHeaderBlockSize) + int64(i)*chunkSize
		end := off + chunkSize
		if end > int64(len(data)) {
			break
		}
		chunkBytes := data[off:end]
		if isZeroFilled(chunkBytes) {
			cfg.Logger.Debugf("evtxgo: skipping zero-filled chunk slot at %d", off)
			continue
		}
		if isChunkSignatureValid(chunkBytes) {
			validSlots = append(validSlots, slot{offset: off, data: chunkBytes, hasSignature: true})
		} else {
			cfg.Logger.Warnf("evtxgo: chunk at %d has an invalid signature, deferring to recovery", off)
			badSignatureSlots = append(badSignatureSlots, slot{offset: off, data: chunkBytes})
		}
	}

	var mu sync.Mutex
	var diagnostics []Diagnostic
	phase3ByOffset := make(map[int64]*ParsedChunk)
	phase4ByOffset := make(map[int64]*ParsedChunk)
	var phase4Candidates []slot

	for _, s := range badSignatureSlots {
		diagnostics = append(diagnostics, newDiagnostic(DiagnosticChunkBadSignature, s.offset, 0, ErrInvalidChunkSignature))
	}
	phase4Candidates = append(phase4Candidates, badSignatureSlots...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for _, s := range validSlots {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pc, diags, recoverable := parseChunk(s.data, s.offset, cfg)
			mu.Lock()
			defer mu.Unlock()
			diagnostics = append(diagnostics, diags...)
			if recoverable {
				phase4Candidates = append(phase4Candidates, s)
				return nil
			}
			phase3ByOffset[s.offset] = pc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	g2, gctx2 := errgroup.WithContext(ctx)
	g2.SetLimit(threads)
	for _, s := range phase4Candidates {
		s := s
		g2.Go(func() error {
			if err := gctx2.Err(); err != nil {
				return err
			}
			pc, diags := recoverChunk(s.data, s.offset, cfg, s.hasSignature)
			mu.Lock()
			defer mu.Unlock()
			diagnostics = append(diagnostics, diags...)
			phase4ByOffset[s.offset] = pc
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, err
	}

	// Phase-3 chunks stay in file order; phase-4 recovered chunks are
	// appended after all of them, also in file order, rather than merged
	// into one global offset sort (spec §4.7/§5: recovered chunks are not
	// interleaved with phase-3 chunks by offset).
	chunks := make([]ParsedChunk, 0, len(phase3ByOffset)+len(phase4ByOffset))
	chunks = appendChunksInOffsetOrder(chunks, phase3ByOffset)
	chunks = appendChunksInOffsetOrder(chunks, phase4ByOffset)

	sort.Slice(diagnostics, func(i, j int) bool {
		if diagnostics[i].ChunkOffset != diagnostics[j].ChunkOffset {
			return diagnostics[i].ChunkOffset < diagnostics[j].ChunkOffset
		}
		return diagnostics[i].RecordID < diagnostics[j].RecordID
	})

	return &ParseResult{FileHeader: header, Chunks: chunks, Diagnostics: diagnostics}, nil
}

// appendChunksInOffsetOrder appends every chunk in byOffset to chunks in
// ascending file-offset order, regardless of which goroutine produced it.
func appendChunksInOffsetOrder(chunks []ParsedChunk, byOffset map[int64]*ParsedChunk) []ParsedChunk {
	offsets := make([]int64, 0, len(byOffset))
	for off := range byOffset {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	for _, off := range offsets {
		chunks = append(chunks, *byOffset[off])
	}
	return chunks
}

// parseChunk parses one signature-valid chunk slot. recoverable is true
// when the chunk's checksums fail validation and it should be retried by
// phase 4's headerless walker instead.
func parseChunk(chunkData []byte, offset int64, cfg Config) (pc *ParsedChunk, diags []Diagnostic, recoverable bool) {
	header, err := ParseChunkHeader(chunkData)
	if err != nil {
		return nil, []Diagnostic{newDiagnostic(DiagnosticChunkBadSignature, offset, 0, err)}, true
	}

	if cfg.ValidateChecksums {
		if !ValidateHeaderCRC32(chunkData) || !ValidateDataCRC32(chunkData, header) {
			return nil, []Diagnostic{newDiagnostic(DiagnosticChunkChecksumFailed, offset, 0, fmt.Errorf("chunk at %d failed CRC32 validation", offset))}, true
		}
	}

	templates, warnings := preloadTemplates(chunkData)
	for _, w := range warnings {
		diags = append(diags, newDiagnostic(DiagnosticTemplateResolutionFailed, offset, 0, w))
	}

	upperBound := int(header.FreeSpaceOffset)
	if upperBound <= chunkHeaderSize || upperBound > len(chunkData) {
		upperBound = len(chunkData)
	}
	envelopes, skipped := walkRecords(chunkData, upperBound)
	if skipped > 0 {
		diags = append(diags, newDiagnostic(DiagnosticRecordEnvelopeInvalid, offset, 0, fmt.Errorf("skipped %d malformed record envelope(s)", skipped)))
	}

	events := make([]Event, 0, len(envelopes))
	for _, env := range envelopes {
		ev, d := renderEventSafe(cfg, env, offset, chunkData, templates)
		if d != nil {
			diags = append(diags, *d)
		}
		events = append(events, ev)
	}

	return &ParsedChunk{Offset: offset, Header: header, Events: events}, diags, false
}

// recoverChunk walks a chunk that failed signature or checksum validation
// without trusting any of its header fields beyond (best-effort) the
// template pointer table, per the headerless-recovery design in spec §4.2.
// A chunk with no usable signature gets no local template dictionary at
// all and depends entirely on the cross-chunk shared cache.
func recoverChunk(chunkData []byte, offset int64, cfg Config, hasSignature bool) (*ParsedChunk, []Diagnostic) {
	cfg.Logger.Debugf("evtxgo: recovering chunk at %d without a trusted header (hasSignature=%t)", offset, hasSignature)

	var templates map[int64]TemplateDefinition
	if hasSignature {
		templates, _ = preloadTemplates(chunkData)
	} else {
		templates = map[int64]TemplateDefinition{}
	}

	upperBound := len(chunkData)
	if upperBound > chunkSize {
		upperBound = chunkSize
	}
	envelopes, _ := walkRecords(chunkData, upperBound)

	var diags []Diagnostic
	events := make([]Event, 0, len(envelopes))
	rendered := 0
	for _, env := range envelopes {
		ev, d := renderEventSafe(cfg, env, offset, chunkData, templates)
		if d != nil {
			diags = append(diags, *d)
		} else {
			rendered++
		}
		events = append(events, ev)
	}
	diags = append(diags, newDiagnostic(DiagnosticPartialRecovery, offset, 0,
		fmt.Errorf("recovered %d of %d scanned record(s) without a trusted chunk header", rendered, len(envelopes))))

	header, _ := ParseChunkHeader(chunkData)
	return &ParsedChunk{Offset: offset, Header: header, Events: events, Recovered: true}, diags
}

// renderEventSafe renders one record, converting both ordinary render
// errors and a panic inside the interpreter into a Diagnostic so a single
// malformed record never takes down its worker slot (spec §7's panic
// containment note).
func renderEventSafe(cfg Config, env RecordEnvelope, chunkOffset int64, chunkData []byte, templates map[int64]TemplateDefinition) (Event, *Diagnostic) {
	ev := Event{ChunkOffset: chunkOffset, RecordID: env.RecordID, WriteTime: env.WriteTime, Format: cfg.Format}

	var out []byte
	var rerr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				rerr = fmt.Errorf("panic rendering record %d: %v", env.RecordID, p)
			}
		}()
		out, rerr = renderRecord(cfg.Format, env.Body, chunkData, templates, cfg.TemplateCache)
	}()

	if rerr != nil {
		kind := DiagnosticBinXmlRenderFailed
		if errors.Is(rerr, ErrTemplateResolutionFailed) {
			kind = DiagnosticTemplateResolutionFailed
		}
		d := newDiagnostic(kind, chunkOffset, env.RecordID, rerr)
		ev.Diagnostic = &d
		return ev, &d
	}
	ev.Data = out
	return ev, nil
}
