// SPDX-License-Identifier: MIT

package evtxgo

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// formatFileTime renders a FILETIME (100ns ticks since 1601-01-01 UTC) as
// ISO-8601 with 7 fractional digits, trailing zeros trimmed, and a literal
// Z suffix, per spec §4.6/0x0F.
func formatFileTime(ticks uint64) string {
	t := filetimeToTime(ticks)
	fractionTicks := ticks % 10_000_000 // 100ns ticks within the second
	frac := fmt.Sprintf("%07d", fractionTicks)
	frac = strings.TrimRight(frac, "0")

	base := t.Format("2006-01-02T15:04:05")
	if frac == "" {
		return base + "Z"
	}
	return base + "." + frac + "Z"
}

// formatSystemTime renders a 16-byte Windows SYSTEMTIME structure (8
// little-endian uint16 fields: year, month, day-of-week, day, hour,
// minute, second, milliseconds) as ISO-8601 UTC, per spec §4.6/0x10.
func formatSystemTime(payload []byte) string {
	year := binary.LittleEndian.Uint16(payload[0:2])
	month := binary.LittleEndian.Uint16(payload[2:4])
	// dayOfWeek at payload[4:6] is redundant with the date and not rendered.
	day := binary.LittleEndian.Uint16(payload[6:8])
	hour := binary.LittleEndian.Uint16(payload[8:10])
	minute := binary.LittleEndian.Uint16(payload[10:12])
	second := binary.LittleEndian.Uint16(payload[12:14])

	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", year, month, day, hour, minute, second)
}
