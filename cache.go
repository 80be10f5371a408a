// SPDX-License-Identifier: MIT

package evtxgo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// compileFailedSentinel marks a GUID whose compilation previously failed,
// so repeated records referencing it do not retry the (expensive) compile,
// per spec §4.5.
var compileFailedSentinel = &CompiledTemplate{failed: true} //nolint:gochecknoglobals

// CompiledTemplate is a precompiled, record-independent rendering of a
// template body: an intermediate tree of literal text, elements, and
// substitution slots (spec §3/§4.5's "ordered sequence of pre-rendered
// literal segments interleaved with substitution slots", realized here as
// a tree because XML's nested open/close structure needs one regardless;
// rendering walks it in document order, which is exactly that ordered
// sequence).
type CompiledTemplate struct {
	GUID    uuid.UUID
	Roots   []irNode
	failed  bool
}

// TemplateCache is the process-wide (per parse invocation, per format)
// cache from template GUID to CompiledTemplate, shared by every worker.
// Readers proceed without locking via sync.Map's read-mostly discipline;
// Add/getOrCompile are idempotent, first writer wins (spec §4.5).
type TemplateCache struct {
	m      sync.Map // uuid.UUID -> *CompiledTemplate
	logger logging.LeveledLogger
}

// NewTemplateCache returns an empty cache ready for concurrent use, logging
// to a quiet default logger until setLogger gives it the caller's own
// (spec §6's template-cache boundary doesn't mention logging, so a cache
// built outside of Parse, e.g. for pre-population, still traces safely).
func NewTemplateCache() *TemplateCache {
	return &TemplateCache{logger: defaultLogger()}
}

// setLogger points the cache at cfg.Logger, called once per Parse so
// template-compile failures surface through the same ambient logger as
// every other phase (spec §6's Config.Logger boundary).
func (c *TemplateCache) setLogger(logger logging.LeveledLogger) {
	if logger != nil {
		c.logger = logger
	}
}

// Add inserts a precompiled template, e.g. supplied by an external WEVT/PE
// template collaborator (spec §6's template-cache boundary). A duplicate
// Add for an existing GUID is a no-op: the first entry wins.
func (c *TemplateCache) Add(guid uuid.UUID, compiled *CompiledTemplate) {
	c.m.LoadOrStore(guid, compiled)
}

// get returns the cached entry for guid, if any.
func (c *TemplateCache) get(guid uuid.UUID) (*CompiledTemplate, bool) {
	v, ok := c.m.Load(guid)
	if !ok {
		return nil, false
	}
	return v.(*CompiledTemplate), true
}

// getOrCompile returns the cached compiled template for guid, compiling it
// via compileFn on a miss and inserting the (possibly failed) result.
// Duplicate concurrent compiles of the same GUID are wasted work but not a
// correctness problem: LoadOrStore keeps whichever finishes its insert
// first, matching spec §4.5's "duplicate insert keeps the first winner".
func (c *TemplateCache) getOrCompile(guid uuid.UUID, compileFn func() (*CompiledTemplate, error)) (*CompiledTemplate, error) {
	if compiled, ok := c.get(guid); ok {
		if compiled.failed {
			return nil, errTemplateCompileFailed
		}
		return compiled, nil
	}

	compiled, err := compileFn()
	if err != nil {
		c.logger.Warnf("evtxgo: template %s failed to compile: %v", guid, err)
		actual, _ := c.m.LoadOrStore(guid, compileFailedSentinel)
		_ = actual
		return nil, err
	}
	actual, _ := c.m.LoadOrStore(guid, compiled)
	return actual.(*CompiledTemplate), nil
}
