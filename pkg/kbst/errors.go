// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"errors"
	"fmt"
)

// Decode failure classes
var (
	ErrMalformed        = errors.New("kbst: malformed frame")
	ErrChecksumMismatch = errors.New("kbst: checksum mismatch")
	ErrTruncated        = errors.New("kbst: truncated frame")
)

// DecodeErrorKind classifies a decode failure
type DecodeErrorKind int

// Decode error kinds
const (
	DecodeMalformed DecodeErrorKind = iota
	DecodeChecksumMismatch
	DecodeTruncated
)

// String returns the kind name
func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeMalformed:
		return "Malformed"
	case DecodeChecksumMismatch:
		return "ChecksumMismatch"
	case DecodeTruncated:
		return "Truncated"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", int(k))
	}
}

// DecodeError is returned when a byte sequence cannot be turned into a Frame.
// No partially decoded frame accompanies it.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string

	// Parameter is set when the group and command fields were readable,
	// so a lenient session can still address its ERR reply.
	Parameter    ParameterID
	HasParameter bool
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e.HasParameter {
		return fmt.Sprintf("%v (parameter %s): %s", e.sentinel(), e.Parameter, e.Detail)
	}
	return fmt.Sprintf("%v: %s", e.sentinel(), e.Detail)
}

// Is matches the kind's sentinel error
func (e *DecodeError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DecodeError) sentinel() error {
	switch e.Kind {
	case DecodeChecksumMismatch:
		return ErrChecksumMismatch
	case DecodeTruncated:
		return ErrTruncated
	default:
		return ErrMalformed
	}
}

func malformed(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: DecodeMalformed, Detail: fmt.Sprintf(format, args...)}
}

func truncated(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: DecodeTruncated, Detail: fmt.Sprintf(format, args...)}
}
