// SPDX-License-Identifier: MIT

package evtxgo

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"
)

// ---- file/chunk header fixtures ----

func buildFileHeaderBytes(chunkCount uint16) []byte {
	buf := make([]byte, fileHeaderBlockSize)
	copy(buf[0:8], fileSignature[:])
	binary.LittleEndian.PutUint64(buf[8:16], 0)                     // first chunk number
	binary.LittleEndian.PutUint64(buf[16:24], uint64(chunkCount)-1) // last chunk number
	binary.LittleEndian.PutUint64(buf[24:32], 1)                    // next record id
	binary.LittleEndian.PutUint32(buf[32:36], fileHeaderSize)
	binary.LittleEndian.PutUint16(buf[36:38], 1) // minor
	binary.LittleEndian.PutUint16(buf[38:40], 3) // major
	binary.LittleEndian.PutUint16(buf[40:42], fileHeaderBlockSize)
	binary.LittleEndian.PutUint16(buf[42:44], chunkCount)
	binary.LittleEndian.PutUint32(buf[120:124], 0) // flags: checksummed
	sum := crc32.Checksum(buf[0:120], crc32Table)
	binary.LittleEndian.PutUint32(buf[124:128], sum)
	return buf
}

// chunkBuilder assembles one 64 KiB chunk: header, template pointer table,
// and a free-form data area holding template definitions, name records,
// and event records, written by a test as it builds up a fixture.
type chunkBuilder struct {
	buf   []byte // full 65536-byte chunk, header zeroed until finish()
	write int    // next free-data write offset, starts at chunkHeaderSize
}

func newChunkBuilder() *chunkBuilder {
	return &chunkBuilder{
		buf:   make([]byte, chunkSize),
		write: chunkHeaderSize,
	}
}

// putBytes appends b at the builder's current write cursor and returns its
// chunk-relative offset.
func (c *chunkBuilder) putBytes(b []byte) int {
	off := c.write
	copy(c.buf[off:off+len(b)], b)
	c.write += len(b)
	return off
}

// putName writes an inline name definition and returns its offset.
func (c *chunkBuilder) putName(name string) int {
	units := utf16.Encode([]rune(name))
	var buf bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0) // next offset: none
	binary.LittleEndian.PutUint16(hdr[4:6], hashName(units))
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(len(units)))
	buf.Write(hdr[:])
	for _, u := range units {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], u)
		buf.Write(b[:])
	}
	buf.Write([]byte{0, 0})
	return c.putBytes(buf.Bytes())
}

// putTemplate writes a 24-byte descriptor followed by body, registers the
// resulting body offset in the chunk's pointer table (bucket 0, single
// entry, sufficient for tests), and returns the body offset.
func (c *chunkBuilder) putTemplate(guid uuid.UUID, body []byte) int {
	var desc [templateDescriptorSize]byte
	binary.LittleEndian.PutUint32(desc[0:4], 0) // next offset: none
	copy(desc[4:20], guidWireBytes(guid))
	binary.LittleEndian.PutUint32(desc[20:24], uint32(len(body)))
	c.putBytes(desc[:])
	bodyOffset := c.putBytes(body)

	tableStart := templatePointerTableOffset
	binary.LittleEndian.PutUint32(c.buf[tableStart:tableStart+4], uint32(bodyOffset))
	return bodyOffset
}

// putRecord wraps body in a record envelope (marker, size, record id,
// FILETIME, trailing size) and appends it.
func (c *chunkBuilder) putRecord(recordID uint64, body []byte) int {
	size := uint32(recordHeaderSize + len(body) + 4)
	var hdr [recordHeaderSize]byte
	copy(hdr[0:4], recordMarker[:])
	binary.LittleEndian.PutUint32(hdr[4:8], size)
	binary.LittleEndian.PutUint64(hdr[8:16], recordID)
	binary.LittleEndian.PutUint64(hdr[16:24], 0) // write time, zero FILETIME is fine for tests
	off := c.putBytes(hdr[:])
	c.putBytes(body)
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], size)
	c.putBytes(trailer[:])
	return off
}

// finish stamps the chunk header fields and checksums and returns the
// completed 65536-byte chunk.
func (c *chunkBuilder) finish() []byte {
	copy(c.buf[0:8], chunkSignature[:])
	binary.LittleEndian.PutUint64(c.buf[8:16], 1)  // first record number
	binary.LittleEndian.PutUint64(c.buf[16:24], 1) // last record number
	binary.LittleEndian.PutUint64(c.buf[24:32], 1) // first record id
	binary.LittleEndian.PutUint64(c.buf[32:40], 1) // last record id
	binary.LittleEndian.PutUint32(c.buf[40:44], 128) // header size field
	binary.LittleEndian.PutUint32(c.buf[44:48], uint32(c.write))
	binary.LittleEndian.PutUint32(c.buf[48:52], uint32(c.write))

	dataSum := crc32.Checksum(c.buf[chunkHeaderSize:c.write], crc32Table)
	binary.LittleEndian.PutUint32(c.buf[52:56], dataSum)
	binary.LittleEndian.PutUint32(c.buf[120:124], 0) // flags

	headSum := crc32.Checksum(c.buf[0:120], crc32Table)
	headSum = crc32.Update(headSum, crc32Table, c.buf[commonStringTableOffset:commonStringTableOffset+commonStringTableSize])
	binary.LittleEndian.PutUint32(c.buf[124:128], headSum)

	return c.buf
}

// ---- BinXml body encoding helpers ----

func encFragmentHeader(buf *bytes.Buffer) {
	buf.Write([]byte{tokFragmentHeader, 0x01, 0x01, 0x00})
}

func encOpenStart(buf *bytes.Buffer, nameOffset int, hasAttrs bool) {
	tag := byte(tokOpenStartElem)
	if hasAttrs {
		tag |= tokMoreFlag
	}
	buf.WriteByte(tag)
	writeU16(buf, 0xFFFF) // dependency id: none
	writeU32(buf, 0)      // data size: unused by the reader
	writeU32(buf, uint32(nameOffset))
}

func encAttrListSize(buf *bytes.Buffer) { writeU32(buf, 0) }

func encCloseStart(buf *bytes.Buffer) { buf.WriteByte(tokCloseStartElem) }
func encCloseEmpty(buf *bytes.Buffer) { buf.WriteByte(tokCloseEmptyElem) }
func encCloseElement(buf *bytes.Buffer) { buf.WriteByte(tokCloseElem) }
func encEOF(buf *bytes.Buffer)          { buf.WriteByte(tokEOF) }

func encValueText(buf *bytes.Buffer, s string) {
	buf.WriteByte(tokValueText)
	encInlineString(buf, s)
}

func encInlineString(buf *bytes.Buffer, s string) {
	buf.WriteByte(vtStringUTF16)
	units := utf16.Encode([]rune(s))
	writeU16(buf, uint16(len(units)))
	for _, u := range units {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], u)
		buf.Write(b[:])
	}
}

func encAttrName(buf *bytes.Buffer, nameOffset int) {
	buf.WriteByte(tokAttribute)
	writeU32(buf, uint32(nameOffset))
}

func encSubst(buf *bytes.Buffer, index uint16, optional bool, vtype byte) {
	if optional {
		buf.WriteByte(tokOptionalSubst)
	} else {
		buf.WriteByte(tokNormalSubst)
	}
	writeU16(buf, index)
	buf.WriteByte(vtype)
}

func encTemplateInstance(buf *bytes.Buffer, defOffset uint32, guid uuid.UUID, inlineBody []byte) {
	buf.WriteByte(tokTemplateInstance)
	buf.WriteByte(0) // flag
	writeU32(buf, defOffset)
	writeU32(buf, 0) // next-ptr, unused
	gb := guidWireBytes(guid)
	buf.Write(gb)
	writeU32(buf, uint32(len(inlineBody)))
	buf.Write(inlineBody)
}

type substFixture struct {
	Type    byte
	Payload []byte
}

func encSubstArray(buf *bytes.Buffer, entries []substFixture) {
	writeU32(buf, uint32(len(entries)))
	for _, e := range entries {
		writeU16(buf, uint16(len(e.Payload)))
		buf.WriteByte(e.Type)
		buf.WriteByte(0) // pad
	}
	for _, e := range entries {
		buf.Write(e.Payload)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// guidWireBytes renders guid in EVTX's mixed-endian wire layout, the
// inverse of parseGUID.
func guidWireBytes(g uuid.UUID) []byte {
	out := make([]byte, guidSize)
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(g[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(g[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(g[6:8]))
	copy(out[8:16], g[8:16])
	return out
}

func u32Payload(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func utf16Payload(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], u)
	}
	return out
}
