// SPDX-License-Identifier: MIT

package evtxgo

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// nameEntry is a materialized chunk-local element/attribute name: the
// common-string-table hash table entry or an inline name definition,
// resolved once and cached by chunk-relative offset.
type nameEntry struct {
	NextOffset int64
	Hash       uint16
	Name       string
}

// hashName computes the chunk string table bucket hash over UTF-16LE code
// units: an FNV-like rolling hash (multiply the 32-bit running value by the
// FNV-32 prime 0x01000193, then add the code unit; the result is the low
// 16 bits) per spec §4.4's "hash = FNV-variant over UTF-16-LE
// code units, bucket = hash mod 64". There is no teacher equivalent (SCTP
// has no string interning); this is a direct encoding of the spec text.
func hashName(utf16Units []uint16) uint16 {
	var hash uint32 = 0
	for _, c := range utf16Units {
		hash = (hash*0x01000193 + uint32(c)) & 0xFFFFFFFF
	}
	return uint16(hash & 0xFFFF)
}

func nameBucket(hash uint16) int {
	return int(hash) % 64
}

// resolveName reads the inline name definition at chunk-relative offset
// `at`: 4-byte next-pointer, 2-byte hash, 2-byte length (UTF-16 code
// units), the UTF-16LE body, and a 2-byte NUL terminator. Results are
// cached by the caller (compiler.names in binxml_ir.go) so repeated references to the
// same offset within a chunk do not re-decode the UTF-16 body.
func resolveName(chunkData []byte, at int64) (nameEntry, error) {
	offset := int(at)
	if offset < 0 || offset+8 > len(chunkData) {
		return nameEntry{}, fmt.Errorf("evtxgo: name offset %d out of bounds", at)
	}
	nextOffset := binary.LittleEndian.Uint32(chunkData[offset : offset+4])
	hash := binary.LittleEndian.Uint16(chunkData[offset+4 : offset+6])
	length := binary.LittleEndian.Uint16(chunkData[offset+6 : offset+8])

	bodyStart := offset + 8
	bodyEnd := bodyStart + int(length)*2
	if bodyEnd+2 > len(chunkData) {
		return nameEntry{}, fmt.Errorf("evtxgo: name body at %d crosses chunk end", at)
	}

	units := make([]uint16, length)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(chunkData[bodyStart+i*2 : bodyStart+i*2+2])
	}

	if computed := hashName(units); computed != hash {
		return nameEntry{}, fmt.Errorf("evtxgo: name at %d hash mismatch in bucket %d: stored %04x, computed %04x",
			at, nameBucket(hash), hash, computed)
	}

	return nameEntry{
		NextOffset: int64(nextOffset),
		Hash:       hash,
		Name:       string(utf16.Decode(units)),
	}, nil
}
