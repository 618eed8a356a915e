package simulator

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodePRFState encodes peripheral states as the panel's PRFSTATE hex
// string.
//
// Position p (1-based) maps to bit p-1 of a little-endian bit field of
// bits/8 bytes (rounded up); a set bit means the peripheral is ON. The
// result is upper-case hex, two characters per byte.
func EncodePRFState(on map[int]bool, bits int) (string, error) {
	if bits <= 0 {
		return "", fmt.Errorf("prf state: bit count must be positive, got %d", bits)
	}
	buf := make([]byte, (bits+7)/8)
	for pos, state := range on {
		if pos < 1 || pos > bits {
			return "", fmt.Errorf("prf state: position %d out of range 1..%d", pos, bits)
		}
		if state {
			buf[(pos-1)/8] |= 1 << ((pos - 1) % 8)
		}
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
