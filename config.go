// SPDX-License-Identifier: MIT

package evtxgo

import "github.com/pion/logging"

// Format selects the rendering target for a parse.
type Format int

const (
	// FormatXML renders each record as an XML string.
	FormatXML Format = iota
	// FormatJSON renders each record as a UTF-8 JSON byte sequence.
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "xml"
}

// Config controls a single Parse invocation. The zero value is usable:
// Parse fills in a fresh TemplateCache and the default logger, and
// ValidateChecksums is then false. NewConfig returns the documented
// defaults, which callers can then override.
type Config struct {
	// MaxThreads controls phase 3 / phase 4 worker concurrency. 0 or
	// negative means use all cores; N means a pool bounded to N. 1 bounds
	// each phase to one worker at a time, so chunks are processed one
	// after another; each still runs on a goroutine started by errgroup,
	// not on the caller's goroutine.
	MaxThreads int

	// Format selects XML or JSON rendering.
	Format Format

	// ValidateChecksums enables CRC32 verification of chunk headers and
	// data areas, done by each phase-3 worker before it walks the chunk;
	// a failing chunk is handed to phase 4 recovery instead.
	ValidateChecksums bool

	// TemplateCache, if non-nil, is used (and mutated) instead of
	// allocating a fresh one. Callers may pre-populate it from an external
	// WEVT/PE template collaborator.
	TemplateCache *TemplateCache

	// Logger receives ambient tracing independent of the Diagnostics
	// returned on ParseResult. Defaults to a logger that only surfaces
	// errors.
	Logger logging.LeveledLogger
}

// NewConfig returns a Config with the documented defaults: all cores,
// XML output, checksum validation enabled, a fresh per-format template
// cache, and a quiet default logger.
func NewConfig() Config {
	return Config{
		MaxThreads:        0,
		Format:            FormatXML,
		ValidateChecksums: true,
		TemplateCache:     NewTemplateCache(),
		Logger:            defaultLogger(),
	}
}

func (c Config) withDefaults() Config {
	if c.TemplateCache == nil {
		c.TemplateCache = NewTemplateCache()
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	return c
}
