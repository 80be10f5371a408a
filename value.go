// SPDX-License-Identifier: MIT

package evtxgo

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value type codes, per spec §4.6. This numbering is specific to this
// format's BinXml dialect and does not match every published EVTX
// reference. Codes 0x03-0x08 are assigned to signed/unsigned 8-, 16- and
// 32-bit integers in that order; there is no 64-bit integer code.
const (
	vtNull        = 0x00
	vtStringUTF16 = 0x01
	vtStringASCII = 0x02
	vtInt8        = 0x03
	vtUInt8       = 0x04
	vtInt16       = 0x05
	vtUInt16      = 0x06
	vtInt32       = 0x07
	vtUInt32      = 0x08
	vtReal32      = 0x09
	vtReal64      = 0x0A
	vtBool        = 0x0B
	vtBinary      = 0x0C
	vtGUID        = 0x0D
	vtSizeT       = 0x0E
	vtFileTime    = 0x0F
	vtSysTime     = 0x10
	vtSID         = 0x11
	vtHexInt32    = 0x13
	vtHexInt64    = 0x14
	vtEvtHandle   = 0x15
	vtBinXml      = 0x21

	vtArrayFlag = 0x80
	vtTypeMask  = 0x7F
)

// jsonKind tags how a valueItem's rendered form should be embedded into a
// JSON document: as a quoted string, a bare number/boolean/null literal, or
// (for the BinXml fragment type) as an already-built JSON node.
type jsonKind int

const (
	jsonString jsonKind = iota
	jsonRaw             // JSONRaw is valid JSON already (number, bool, null)
	jsonNode            // JSONRaw is unused; JSONNode holds a pre-built json value
)

type valueItem struct {
	Text     string // XML text form (unescaped; caller escapes)
	JSONKind jsonKind
	JSONRaw  string // literal JSON text, used when JSONKind == jsonRaw
	JSONNode any    // used when JSONKind == jsonNode
}

// valueResult is the output of renderValue: either a single scalar or, for
// the 0x80 array bit, an ordered list of per-entry items.
type valueResult struct {
	Array bool
	Items []valueItem
}

func singleValue(item valueItem) valueResult {
	return valueResult{Items: []valueItem{item}}
}

// renderValue dispatches on the value-type byte and formats payload per the
// table in spec §4.6. baseType 0x21 (BinXml fragment) is handled by the
// caller (foldValueNode in binxml_fold.go), which has the context needed to recurse into the
// interpreter; renderValue rejects it.
func renderValue(vtype byte, payload []byte) (valueResult, error) {
	if vtype&vtArrayFlag != 0 {
		return renderArrayValue(vtype&vtTypeMask, payload)
	}
	item, err := renderScalar(vtype, payload)
	if err != nil {
		return valueResult{}, err
	}
	return singleValue(item), nil
}

func renderScalar(vtype byte, payload []byte) (valueItem, error) {
	switch vtype {
	case vtNull:
		return valueItem{Text: "", JSONKind: jsonRaw, JSONRaw: "null"}, nil
	case vtStringUTF16:
		return valueItem{Text: decodeUTF16LE(payload), JSONKind: jsonString}, nil
	case vtStringASCII:
		return valueItem{Text: string(payload), JSONKind: jsonString}, nil
	case vtInt8:
		if len(payload) < 1 {
			return valueItem{}, fmt.Errorf("evtxgo: int8 value needs 1 byte")
		}
		return numberItem(strconv.FormatInt(int64(int8(payload[0])), 10)), nil
	case vtUInt8:
		if len(payload) < 1 {
			return valueItem{}, fmt.Errorf("evtxgo: uint8 value needs 1 byte")
		}
		return numberItem(strconv.FormatUint(uint64(payload[0]), 10)), nil
	case vtInt16:
		if len(payload) < 2 {
			return valueItem{}, fmt.Errorf("evtxgo: int16 value needs 2 bytes")
		}
		return numberItem(strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(payload))), 10)), nil
	case vtUInt16:
		if len(payload) < 2 {
			return valueItem{}, fmt.Errorf("evtxgo: uint16 value needs 2 bytes")
		}
		return numberItem(strconv.FormatUint(uint64(binary.LittleEndian.Uint16(payload)), 10)), nil
	case vtInt32:
		if len(payload) < 4 {
			return valueItem{}, fmt.Errorf("evtxgo: int32 value needs 4 bytes")
		}
		return numberItem(strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(payload))), 10)), nil
	case vtUInt32:
		if len(payload) < 4 {
			return valueItem{}, fmt.Errorf("evtxgo: uint32 value needs 4 bytes")
		}
		return numberItem(strconv.FormatUint(uint64(binary.LittleEndian.Uint32(payload)), 10)), nil
	case vtReal32:
		if len(payload) < 4 {
			return valueItem{}, fmt.Errorf("evtxgo: real32 value needs 4 bytes")
		}
		f := math.Float32frombits(binary.LittleEndian.Uint32(payload))
		return numberItem(strconv.FormatFloat(float64(f), 'g', -1, 32)), nil
	case vtReal64:
		if len(payload) < 8 {
			return valueItem{}, fmt.Errorf("evtxgo: real64 value needs 8 bytes")
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(payload))
		return numberItem(strconv.FormatFloat(f, 'g', -1, 64)), nil
	case vtBool:
		nonZero := false
		for _, b := range payload {
			if b != 0 {
				nonZero = true
				break
			}
		}
		if nonZero {
			return valueItem{Text: "true", JSONKind: jsonRaw, JSONRaw: "true"}, nil
		}
		return valueItem{Text: "false", JSONKind: jsonRaw, JSONRaw: "false"}, nil
	case vtBinary:
		hexStr := strings.ToUpper(hex.EncodeToString(payload))
		return valueItem{Text: hexStr, JSONKind: jsonString}, nil
	case vtGUID:
		g, err := parseGUID(payload)
		if err != nil {
			return valueItem{}, err
		}
		s := formatGUID(g)
		return valueItem{Text: s, JSONKind: jsonString}, nil
	case vtSizeT:
		switch len(payload) {
		case 4:
			return numberItem(strconv.FormatUint(uint64(binary.LittleEndian.Uint32(payload)), 10)), nil
		case 8:
			return numberItem(strconv.FormatUint(binary.LittleEndian.Uint64(payload), 10)), nil
		default:
			return valueItem{}, fmt.Errorf("evtxgo: size_t value needs 4 or 8 bytes, got %d", len(payload))
		}
	case vtFileTime:
		if len(payload) < 8 {
			return valueItem{}, fmt.Errorf("evtxgo: filetime value needs 8 bytes")
		}
		s := formatFileTime(binary.LittleEndian.Uint64(payload))
		return valueItem{Text: s, JSONKind: jsonString}, nil
	case vtSysTime:
		if len(payload) < 16 {
			return valueItem{}, fmt.Errorf("evtxgo: systemtime value needs 16 bytes")
		}
		s := formatSystemTime(payload)
		return valueItem{Text: s, JSONKind: jsonString}, nil
	case vtSID:
		s, err := formatSID(payload)
		if err != nil {
			return valueItem{}, err
		}
		return valueItem{Text: s, JSONKind: jsonString}, nil
	case vtHexInt32:
		if len(payload) < 4 {
			return valueItem{}, fmt.Errorf("evtxgo: hexint32 value needs 4 bytes")
		}
		return valueItem{Text: fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(payload)), JSONKind: jsonString}, nil
	case vtHexInt64:
		if len(payload) < 8 {
			return valueItem{}, fmt.Errorf("evtxgo: hexint64 value needs 8 bytes")
		}
		return valueItem{Text: fmt.Sprintf("0x%016x", binary.LittleEndian.Uint64(payload)), JSONKind: jsonString}, nil
	case vtEvtHandle:
		if len(payload) < 4 {
			return valueItem{}, fmt.Errorf("evtxgo: evthandle value needs 4 bytes")
		}
		return numberItem(strconv.FormatUint(uint64(binary.LittleEndian.Uint32(payload)), 10)), nil
	default:
		return valueItem{}, fmt.Errorf("evtxgo: unsupported value type 0x%02X", vtype)
	}
}

// numberItem builds a valueItem whose JSON form is the bare numeric
// literal (not quoted) and whose XML text is the same decimal text.
func numberItem(decimal string) valueItem {
	return valueItem{Text: decimal, JSONKind: jsonRaw, JSONRaw: decimal}
}

// elementSize returns the fixed wire size of one array element for base
// value type vtype, or ok=false when the type is variable-length
// (NUL-delimited) per spec §4.6/§9.
func elementSize(vtype byte) (size int, ok bool) {
	switch vtype {
	case vtInt8, vtUInt8, vtBool:
		return 1, true
	case vtInt16, vtUInt16:
		return 2, true
	case vtInt32, vtUInt32, vtReal32, vtHexInt32, vtEvtHandle:
		return 4, true
	case vtReal64, vtHexInt64, vtFileTime:
		return 8, true
	case vtGUID, vtSysTime:
		return 16, true
	default:
		return 0, false
	}
}

func renderArrayValue(baseType byte, payload []byte) (valueResult, error) {
	if size, ok := elementSize(baseType); ok {
		if size == 0 || len(payload)%size != 0 {
			return valueResult{}, fmt.Errorf("evtxgo: array payload length %d not a multiple of element size %d", len(payload), size)
		}
		items := make([]valueItem, 0, len(payload)/size)
		for off := 0; off < len(payload); off += size {
			item, err := renderScalar(baseType, payload[off:off+size])
			if err != nil {
				return valueResult{}, err
			}
			items = append(items, item)
		}
		return valueResult{Array: true, Items: items}, nil
	}

	switch baseType {
	case vtStringUTF16:
		return valueResult{Array: true, Items: splitUTF16Array(payload)}, nil
	case vtStringASCII:
		return valueResult{Array: true, Items: splitASCIIArray(payload)}, nil
	case vtSID:
		// SIDs are variable length with no embedded terminator; a SID
		// array is not addressable purely from length, so it is treated
		// as a single opaque entry rather than guessed at.
		item, err := renderScalar(vtSID, payload)
		if err != nil {
			return valueResult{}, err
		}
		return valueResult{Array: true, Items: []valueItem{item}}, nil
	default:
		return valueResult{}, fmt.Errorf("evtxgo: array of value type 0x%02X has no defined element framing", baseType)
	}
}

func splitUTF16Array(payload []byte) []valueItem {
	units := make([]uint16, len(payload)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(payload[i*2 : i*2+2])
	}
	var items []valueItem
	start := 0
	for i, u := range units {
		if u == 0 {
			items = append(items, valueItem{Text: decodeUTF16Units(units[start:i]), JSONKind: jsonString})
			start = i + 1
		}
	}
	if start < len(units) {
		items = append(items, valueItem{Text: decodeUTF16Units(units[start:]), JSONKind: jsonString})
	}
	return items
}

func splitASCIIArray(payload []byte) []valueItem {
	var items []valueItem
	start := 0
	for i, b := range payload {
		if b == 0 {
			items = append(items, valueItem{Text: string(payload[start:i]), JSONKind: jsonString})
			start = i + 1
		}
	}
	if start < len(payload) {
		items = append(items, valueItem{Text: string(payload[start:]), JSONKind: jsonString})
	}
	return items
}

// decodeUTF16LE decodes a UTF-16LE byte payload, replacing unpaired
// surrogates with U+FFFD before UTF-8 encoding so the result always
// encodes as valid UTF-8 (spec §4.4/§9 "Unpaired surrogates").
func decodeUTF16LE(payload []byte) string {
	units := make([]uint16, len(payload)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(payload[i*2 : i*2+2])
	}
	return decodeUTF16Units(units)
}

func decodeUTF16Units(units []uint16) string {
	runes := utf16.Decode(units) // utf16.Decode already substitutes U+FFFD for unpaired surrogates
	return string(runes)
}
