// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"bytes"
	"fmt"
	"strconv"
)

// EncodeFrame creates a complete wire-formatted frame.
// Returns the bytes ready for transmission, including framing and checksum.
func EncodeFrame(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	if f.Value != nil && len(f.Value.Format()) > MaxValueSize {
		return nil, fmt.Errorf("value too large: %d bytes (max %d)", len(f.Value.Format()), MaxValueSize)
	}

	body := encodeBody(f)

	size := len(FrameBegin) + len(body) + trailerSize
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes (max %d)", size, MaxFrameSize)
	}

	checksum := CalculateChecksum(body)

	out := make([]byte, 0, size)
	out = append(out, FrameBegin...)
	out = append(out, Delimiter)
	out = append(out, body...)
	out = append(out, fmt.Sprintf("%04X", checksum)...)
	out = append(out, Delimiter)
	out = append(out, FrameEnd...)
	return out, nil
}

// MustEncode encodes a frame built by this package's builders.
// Panics on encoding error (use EncodeFrame for error handling).
func MustEncode(f Frame) []byte {
	data, err := EncodeFrame(f)
	if err != nil {
		panic(fmt.Sprintf("kbst: encode error: %v", err))
	}
	return data
}

// encodeBody lays out the checksummed fields, each terminated by a delimiter
func encodeBody(f Frame) []byte {
	var b bytes.Buffer

	b.WriteString(f.Operation.String())
	b.WriteByte(Delimiter)
	b.WriteString(strconv.Itoa(int(f.Parameter.Group())))
	b.WriteByte(Delimiter)
	b.WriteString(strconv.Itoa(int(f.Parameter.Command())))
	b.WriteByte(Delimiter)

	if f.Value != nil {
		b.WriteString(f.Value.Unit().Token())
		b.WriteByte(Delimiter)
		b.Write(escapeBytes([]byte(f.Value.Format())))
	} else {
		b.WriteByte(Delimiter)
	}
	b.WriteByte(Delimiter)

	if f.Operation == OpError {
		b.WriteString(f.Exception.String())
	}
	b.WriteByte(Delimiter)

	return b.Bytes()
}

// escapeBytes escapes delimiter and escape bytes in a value field.
// Special bytes are prefixed with EscByte.
func escapeBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)+len(data)/4)

	for _, b := range data {
		if b == Delimiter || b == EscByte {
			result = append(result, EscByte, b)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnescapeBytes removes value escaping.
// This is the inverse of escapeBytes.
func UnescapeBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
