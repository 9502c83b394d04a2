package symbols

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAddr parses a hex address with or without a 0x prefix.
func ParseAddr(s string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
