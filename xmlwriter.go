// SPDX-License-Identifier: MIT

package evtxgo

import "strings"

// escapeXMLText escapes the five predefined XML entities plus every ASCII
// C0 control character, with no exception for tab/newline/CR, per spec
// §4.4's unqualified "ASCII C0 controls" rule. Unlike encoding/xml, this
// never touches non-ASCII bytes: the caller is responsible for ensuring
// the input is already valid UTF-8 (unpaired surrogates replaced upstream
// by decodeUTF16Units).
func escapeXMLText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			if r < 0x20 {
				b.WriteString("&#x")
				b.WriteString(hexUpper(uint32(r)))
				b.WriteByte(';')
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// escapeXMLAttr is identical to escapeXMLText; attribute values use the
// same five-entity table per spec §4.4 (both " and ' are always escaped
// regardless of the surrounding quote character chosen by the writer).
func escapeXMLAttr(s string) string {
	return escapeXMLText(s)
}

func hexUpper(v uint32) string {
	const digits = "0123456789ABCDEF"
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[i:])
}
