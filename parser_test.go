// SPDX-License-Identifier: MIT

package evtxgo

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type parserSampleRecord struct {
	ID       uint64
	Provider string
	EventID  uint32
}

// buildParserSampleChunk assembles one chunk holding a single template
// definition (the same shape as the one in binxml_test.go) followed by one
// record per entry in records, each instancing that template.
func buildParserSampleChunk(t *testing.T, records []parserSampleRecord) []byte {
	t.Helper()
	cb := newChunkBuilder()

	providerOff := cb.putName("Provider")
	nameOff := cb.putName("Name")
	eventIDOff := cb.putName("EventID")

	var body bytes.Buffer
	encFragmentHeader(&body)
	encOpenStart(&body, providerOff, true)
	encAttrListSize(&body)
	encAttrName(&body, nameOff)
	encSubst(&body, 0, false, vtStringUTF16)
	encCloseStart(&body)
	encOpenStart(&body, eventIDOff, false)
	encCloseStart(&body)
	encSubst(&body, 1, false, vtUInt32)
	encCloseElement(&body)
	encCloseElement(&body) // /Provider
	encEOF(&body)

	guid := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	offset := cb.putTemplate(guid, body.Bytes())

	for _, rec := range records {
		var rb bytes.Buffer
		encFragmentHeader(&rb)
		encTemplateInstance(&rb, uint32(offset), guid, nil)
		encSubstArray(&rb, []substFixture{
			{Type: vtStringUTF16, Payload: utf16Payload(rec.Provider)},
			{Type: vtUInt32, Payload: u32Payload(rec.EventID)},
		})
		cb.putRecord(rec.ID, rb.Bytes())
	}

	return cb.finish()
}

func buildParserSampleFile(t *testing.T, records []parserSampleRecord) []byte {
	t.Helper()
	chunk := buildParserSampleChunk(t, records)
	file := buildFileHeaderBytes(1)
	return append(file, chunk...)
}

func TestParse_SingleChunkMultipleRecords(t *testing.T) {
	records := []parserSampleRecord{
		{ID: 1, Provider: "Alpha", EventID: 100},
		{ID: 2, Provider: "Beta", EventID: 200},
		{ID: 3, Provider: "Gamma", EventID: 300},
	}
	file := buildParserSampleFile(t, records)

	cfg := NewConfig()
	cfg.MaxThreads = 1
	result, err := Parse(context.Background(), file, cfg)
	assert.NoError(t, err)
	assert.Empty(t, result.Diagnostics)
	if assert.Len(t, result.Chunks, 1) {
		chunk := result.Chunks[0]
		assert.False(t, chunk.Recovered)
		if assert.Len(t, chunk.Events, 3) {
			assert.Contains(t, string(chunk.Events[0].Data), `Name="Alpha"`)
			assert.Contains(t, string(chunk.Events[1].Data), "<EventID>200</EventID>")
			assert.Equal(t, uint64(3), chunk.Events[2].RecordID)
		}
	}
	assert.Len(t, result.Events(), 3)
}

func TestParse_BadChunkSignatureRecoversInPhaseFour(t *testing.T) {
	records := []parserSampleRecord{{ID: 1, Provider: "Solo", EventID: 7}}
	chunk := buildParserSampleChunk(t, records)
	chunk[0] = 'X' // corrupt the chunk signature

	file := append(buildFileHeaderBytes(1), chunk...)

	result, err := Parse(context.Background(), file, NewConfig())
	assert.NoError(t, err)

	var sawBadSignature, sawPartialRecovery bool
	for _, d := range result.Diagnostics {
		switch d.Kind {
		case DiagnosticChunkBadSignature:
			sawBadSignature = true
		case DiagnosticPartialRecovery:
			sawPartialRecovery = true
		}
	}
	assert.True(t, sawBadSignature)
	assert.True(t, sawPartialRecovery)
	if assert.Len(t, result.Chunks, 1) {
		assert.True(t, result.Chunks[0].Recovered)
	}
}

func TestParse_ChecksumFailureRecoversInPhaseFour(t *testing.T) {
	records := []parserSampleRecord{{ID: 1, Provider: "Solo", EventID: 7}}
	chunk := buildParserSampleChunk(t, records)
	chunk[chunkHeaderSize+10] ^= 0xFF // corrupt a data byte, leave the signature and header checksum intact

	file := append(buildFileHeaderBytes(1), chunk...)

	result, err := Parse(context.Background(), file, NewConfig())
	assert.NoError(t, err)

	var sawChecksumFailed bool
	for _, d := range result.Diagnostics {
		if d.Kind == DiagnosticChunkChecksumFailed {
			sawChecksumFailed = true
		}
	}
	assert.True(t, sawChecksumFailed)
	if assert.Len(t, result.Chunks, 1) {
		assert.True(t, result.Chunks[0].Recovered)
	}
}

func TestParse_ZeroFilledChunkIsSkipped(t *testing.T) {
	file := buildFileHeaderBytes(1)
	file = append(file, make([]byte, chunkSize)...) // all-zero chunk slot

	result, err := Parse(context.Background(), file, NewConfig())
	assert.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Empty(t, result.Diagnostics)
}

func TestParse_ContextCancelled(t *testing.T) {
	file := buildParserSampleFile(t, []parserSampleRecord{{ID: 1, Provider: "Solo", EventID: 7}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Parse(ctx, file, NewConfig())
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestParse_Phase4ChunksAppendAfterPhase3RegardlessOfOffset(t *testing.T) {
	badSigChunk := buildParserSampleChunk(t, []parserSampleRecord{{ID: 1, Provider: "Low", EventID: 1}})
	badSigChunk[0] = 'X' // first slot, lower file offset, but corrupted

	validChunk := buildParserSampleChunk(t, []parserSampleRecord{{ID: 2, Provider: "High", EventID: 2}})

	file := buildFileHeaderBytes(2)
	file = append(file, badSigChunk...)
	file = append(file, validChunk...)

	result, err := Parse(context.Background(), file, NewConfig())
	assert.NoError(t, err)

	if assert.Len(t, result.Chunks, 2) {
		// the phase-3 (valid) chunk comes first even though it sits at the
		// higher file offset; the phase-4 (recovered) chunk is appended
		// after it, not interleaved by offset.
		assert.False(t, result.Chunks[0].Recovered)
		assert.True(t, result.Chunks[1].Recovered)
		// the recovered chunk's file offset is lower, proving it's ordered
		// last by phase rather than by ascending offset.
		assert.Less(t, result.Chunks[1].Offset, result.Chunks[0].Offset)
	}
}

func TestRenderEventSafe_FailurePopulatesEventDiagnostic(t *testing.T) {
	cb := newChunkBuilder()
	var rb bytes.Buffer
	encFragmentHeader(&rb)
	// references a template definition offset that was never written
	encTemplateInstance(&rb, 0xFFFFFF, uuid.New(), nil)
	cb.putRecord(1, rb.Bytes())
	chunk := cb.finish()

	templates, _ := preloadTemplates(chunk)
	envelopes, _ := walkRecords(chunk, cb.write)
	if !assert.Len(t, envelopes, 1) {
		return
	}

	ev, d := renderEventSafe(NewConfig(), envelopes[0], 0, chunk, templates)
	assert.NotNil(t, d)
	if assert.NotNil(t, ev.Diagnostic) {
		assert.Equal(t, DiagnosticTemplateResolutionFailed, ev.Diagnostic.Kind)
	}
	assert.Empty(t, ev.Data)
}

func TestParse_ThreadCountDoesNotAffectOutput(t *testing.T) {
	records := []parserSampleRecord{
		{ID: 1, Provider: "Alpha", EventID: 100},
		{ID: 2, Provider: "Beta", EventID: 200},
	}
	file := buildParserSampleFile(t, records)

	cfgSerial := NewConfig()
	cfgSerial.MaxThreads = 1
	resultSerial, err := Parse(context.Background(), file, cfgSerial)
	assert.NoError(t, err)

	cfgParallel := NewConfig()
	cfgParallel.MaxThreads = 8
	resultParallel, err := Parse(context.Background(), file, cfgParallel)
	assert.NoError(t, err)

	serialEvents := resultSerial.Events()
	parallelEvents := resultParallel.Events()
	if assert.Len(t, parallelEvents, len(serialEvents)) {
		for i := range serialEvents {
			assert.Equal(t, serialEvents[i].RecordID, parallelEvents[i].RecordID)
			assert.Equal(t, string(serialEvents[i].Data), string(parallelEvents[i].Data))
		}
	}
}
