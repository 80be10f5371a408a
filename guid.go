// SPDX-License-Identifier: MIT

package evtxgo

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// guidSize is the wire size of a Windows GUID: 4+2+2+8 bytes.
const guidSize = 16

// parseGUID reads a 16-byte Windows GUID from its mixed-endian wire layout
// (D1 uint32 LE, D2/D3 uint16 LE, D4 8 raw bytes) into a uuid.UUID, whose
// internal byte order is big-endian/RFC 4122. This reordering is the one
// domain fact every from-scratch EVTX reader has to get right; see
// other_examples' igevtx guid struct for the field shape this mirrors.
func parseGUID(b []byte) (uuid.UUID, error) {
	if len(b) < guidSize {
		return uuid.UUID{}, fmt.Errorf("evtxgo: guid requires %d bytes, got %d", guidSize, len(b))
	}
	var out uuid.UUID
	binary.BigEndian.PutUint32(out[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(out[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(out[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(out[8:16], b[8:16])
	return out, nil
}

// formatGUID renders a GUID as the spec's braced, hyphenated, uppercase
// form, e.g. "{A1B2C3D4-E5F6-0708-090A-0B0C0D0E0F10}". uuid.UUID.String()
// produces a lowercase, unbraced form, so this is a small format of its own
// rather than a delegation.
func formatGUID(g uuid.UUID) string {
	return fmt.Sprintf("{%08X-%04X-%04X-%04X-%012X}",
		binary.BigEndian.Uint32(g[0:4]),
		binary.BigEndian.Uint16(g[4:6]),
		binary.BigEndian.Uint16(g[6:8]),
		binary.BigEndian.Uint16(g[8:10]),
		g[10:16],
	)
}
