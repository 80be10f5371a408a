// SPDX-License-Identifier: MIT

package evtxgo

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPreloadTemplates_SingleDefinition(t *testing.T) {
	cb := newChunkBuilder()
	guid := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	var body bytes.Buffer
	encFragmentHeader(&body)
	encEOF(&body)
	offset := cb.putTemplate(guid, body.Bytes())
	chunk := cb.finish()

	defs, warnings := preloadTemplates(chunk)
	assert.Empty(t, warnings)
	if assert.Contains(t, defs, int64(offset)) {
		assert.Equal(t, guid, defs[int64(offset)].GUID)
	}
}

func TestPreloadTemplates_EmptyPointerTable(t *testing.T) {
	chunk := newChunkBuilder().finish()
	defs, warnings := preloadTemplates(chunk)
	assert.Empty(t, warnings)
	assert.Empty(t, defs)
}

func TestParseTemplateDefinition_MissingFragmentHeader(t *testing.T) {
	cb := newChunkBuilder()
	guid := uuid.New()
	body := []byte{0x01, 0x02, 0x03}
	bodyOffset := cb.putTemplate(guid, body)
	chunk := cb.finish()

	_, err := parseTemplateDefinition(chunk, int64(bodyOffset))
	assert.ErrorIs(t, err, ErrTemplateDefinitionInvalid)
}
