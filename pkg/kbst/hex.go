// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexStringToBytes converts a human-typed hex dump to bytes.
// Accepts an optional 0x prefix and whitespace, '-' or ':' separators.
func HexStringToBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '-' || c == ':':
			continue
		case isHexDigit(c):
			clean = append(clean, c)
		default:
			return nil, fmt.Errorf("invalid hex character %q at offset %d", c, i)
		}
	}

	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits (%d)", len(clean))
	}

	out := make([]byte, len(clean)/2)
	if _, err := hex.Decode(out, clean); err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}
	return out, nil
}

// BytesToHexString renders bytes as space separated uppercase hex
func BytesToHexString(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
