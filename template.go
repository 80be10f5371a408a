// SPDX-License-Identifier: MIT

package evtxgo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// templateDescriptorSize is next-offset(4) + GUID(16) + data-size(4),
// the fixed header immediately preceding a template definition's body
// (spec §4.3).
const templateDescriptorSize = 24

// fragmentHeaderToken marks the start of a BinXml fragment; every template
// definition body must begin with it (spec §3 invariant).
const fragmentHeaderToken = 0x0F

// ErrTemplateDefinitionInvalid is returned by the preloader when a
// definition's body does not begin with the fragment-header token.
var ErrTemplateDefinitionInvalid = errors.New("evtxgo: template definition body missing fragment header")

// TemplateDefinition is a template keyed by its chunk-relative offset and
// identified by a GUID, per spec §3.
type TemplateDefinition struct {
	Offset     int64
	GUID       uuid.UUID
	NextOffset int64
	DataSize   uint32
	Body       []byte // borrowed view into the chunk buffer, starts with 0x0F
}

// preloadTemplates walks the chunk's 32-entry template pointer table (at
// fixed offset 384, 128 bytes) and each entry's next-offset hash-bucket
// chain, building a chunk-relative-offset -> TemplateDefinition dictionary.
// Cycles are broken by tracking visited offsets; out-of-bounds pointers and
// malformed definitions are skipped rather than aborting the whole chunk,
// per spec §4.3.
func preloadTemplates(chunkData []byte) (map[int64]TemplateDefinition, []error) {
	defs := make(map[int64]TemplateDefinition)
	var warnings []error

	if len(chunkData) < templatePointerTableOffset+templatePointerTableSize {
		return defs, []error{fmt.Errorf("evtxgo: chunk too short for template pointer table")}
	}

	tableStart := templatePointerTableOffset
	for i := 0; i < templatePointerTableEntries; i++ {
		entryOff := tableStart + i*4
		pointer := binary.LittleEndian.Uint32(chunkData[entryOff : entryOff+4])
		if pointer == 0 {
			continue
		}

		visited := make(map[int64]bool)
		offset := int64(pointer)
		for offset != 0 && !visited[offset] {
			visited[offset] = true
			def, err := parseTemplateDefinition(chunkData, offset)
			if err != nil {
				warnings = append(warnings, err)
				break
			}
			if _, exists := defs[offset]; !exists {
				defs[offset] = def
			}
			offset = def.NextOffset
		}
	}

	return defs, warnings
}

// parseTemplateDefinition reads the 24-byte descriptor ending at
// bodyOffset (i.e. starting 24 bytes before it) and the body that follows,
// validating the fragment-header invariant.
func parseTemplateDefinition(chunkData []byte, bodyOffset int64) (TemplateDefinition, error) {
	descStart := bodyOffset - templateDescriptorSize
	if descStart < 0 || int(bodyOffset) > len(chunkData) {
		return TemplateDefinition{}, fmt.Errorf("evtxgo: template descriptor at %d out of bounds", bodyOffset)
	}

	desc := chunkData[descStart:bodyOffset]
	nextOffset := binary.LittleEndian.Uint32(desc[0:4])
	guidBytes := desc[4:20]
	dataSize := binary.LittleEndian.Uint32(desc[20:24])

	guid, err := parseGUID(guidBytes)
	if err != nil {
		return TemplateDefinition{}, err
	}
	if dataSize == 0 {
		return TemplateDefinition{}, fmt.Errorf("evtxgo: template at %d has zero data size", bodyOffset)
	}

	bodyEnd := int(bodyOffset) + int(dataSize)
	if bodyEnd > len(chunkData) {
		return TemplateDefinition{}, fmt.Errorf("evtxgo: template body at %d (size %d) crosses chunk end", bodyOffset, dataSize)
	}
	body := chunkData[bodyOffset:bodyEnd]
	if len(body) == 0 || body[0] != fragmentHeaderToken {
		return TemplateDefinition{}, fmt.Errorf("%w: at offset %d", ErrTemplateDefinitionInvalid, bodyOffset)
	}

	return TemplateDefinition{
		Offset:     bodyOffset,
		GUID:       guid,
		NextOffset: int64(nextOffset),
		DataSize:   dataSize,
		Body:       body,
	}, nil
}
