// SPDX-License-Identifier: MIT

package evtxgo

import "errors"

// Fatal errors abort the parse and return no partial result. They mirror
// the four structural-validation failures a caller can hit when driving
// framing parsers directly, plus cancellation.
var (
	ErrFileHeaderTooShort   = errors.New("evtxgo: file header shorter than 128 bytes")
	ErrInvalidFileSignature = errors.New("evtxgo: invalid file signature")
	ErrChunkHeaderTooShort  = errors.New("evtxgo: chunk header shorter than 512 bytes")
	ErrInvalidChunkSignature = errors.New("evtxgo: invalid chunk signature")
	ErrCancelled            = errors.New("evtxgo: parse cancelled")
)

// errTemplateCompileFailed marks a cache hit on a previously-failed
// compilation (spec §4.5's sentinel entry).
var errTemplateCompileFailed = errors.New("evtxgo: template previously failed to compile")

// ErrTemplateResolutionFailed is wrapped into a record's
// DiagnosticTemplateResolutionFailed when a template-instance token names
// a definition that cannot be found by offset, by GUID in the shared
// cache, or inline in the stream.
var ErrTemplateResolutionFailed = errors.New("evtxgo: template definition could not be resolved")

// DiagnosticKind discriminates the non-fatal conditions a parse can surface
// without aborting. Every DiagnosticKind other than kind-zero corresponds to
// a named condition in spec §7.
type DiagnosticKind int

const (
	// DiagnosticChunkChecksumFailed: chunk skipped in phase 3, may be
	// recovered in phase 4.
	DiagnosticChunkChecksumFailed DiagnosticKind = iota + 1
	// DiagnosticChunkBadSignature: chunk signature did not match, set aside
	// for phase 4.
	DiagnosticChunkBadSignature
	// DiagnosticRecordEnvelopeInvalid: record skipped during the walker scan.
	DiagnosticRecordEnvelopeInvalid
	// DiagnosticBinXmlRenderFailed: record rendered with empty output.
	DiagnosticBinXmlRenderFailed
	// DiagnosticTemplateResolutionFailed: per-record template lookup miss.
	DiagnosticTemplateResolutionFailed
	// DiagnosticPartialRecovery: record rendered in phase 4 without full
	// template context.
	DiagnosticPartialRecovery
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticChunkChecksumFailed:
		return "ChunkChecksumFailed"
	case DiagnosticChunkBadSignature:
		return "ChunkBadSignature"
	case DiagnosticRecordEnvelopeInvalid:
		return "RecordEnvelopeInvalid"
	case DiagnosticBinXmlRenderFailed:
		return "BinXmlRenderFailed"
	case DiagnosticTemplateResolutionFailed:
		return "TemplateResolutionFailed"
	case DiagnosticPartialRecovery:
		return "PartialRecovery"
	default:
		return "Unknown"
	}
}

// Diagnostic is a non-fatal condition attached to a ParseResult or to a
// single Event. Parsing always continues past a Diagnostic.
type Diagnostic struct {
	Kind        DiagnosticKind
	ChunkOffset int64  // absolute file offset of the chunk slot, when applicable
	RecordID    uint64 // event record identifier, when applicable
	Err         error  // underlying detail, never nil
}

func (d Diagnostic) Error() string {
	return d.Kind.String() + ": " + d.Err.Error()
}

func newDiagnostic(kind DiagnosticKind, chunkOffset int64, recordID uint64, err error) Diagnostic {
	return Diagnostic{Kind: kind, ChunkOffset: chunkOffset, RecordID: recordID, Err: err}
}
