// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"fmt"
	"strings"
)

// NameFunc resolves a parameter id to a display name. It returns false for
// ids it does not know.
type NameFunc func(ParameterID) (string, bool)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f Frame, names NameFunc) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s %s", f.Operation, FormatParameter(f.Parameter, names))

	if f.Value != nil {
		fmt.Fprintf(&sb, " = %s [%s]", f.Value, f.Value.Unit())
	}
	if f.Operation == OpError {
		fmt.Fprintf(&sb, " ! %s", f.Exception)
	}
	if f.Checksum != 0 {
		fmt.Fprintf(&sb, " (crc=%04X)", f.Checksum)
	}

	return sb.String()
}

// FormatParameter renders an id with its name when one is known
func FormatParameter(id ParameterID, names NameFunc) string {
	if names != nil {
		if name, ok := names(id); ok {
			return fmt.Sprintf("%s (%s)", name, id)
		}
	}
	return id.String()
}

// FormatDecodeError renders a decode failure for link logs
func FormatDecodeError(err error, raw []byte) string {
	if len(raw) == 0 {
		return fmt.Sprintf("decode error: %v", err)
	}
	return fmt.Sprintf("decode error: %v\n  raw: %q", err, raw)
}
