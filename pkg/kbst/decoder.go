// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"bytes"
	"fmt"
	"strconv"
)

var (
	framePrefix = []byte(FrameBegin + string(Delimiter))
	frameSuffix = []byte(string(Delimiter) + FrameEnd)
)

// Decode parses one complete wire frame.
//
// The trailer ";CCCC;TSBK" has a fixed width, so the checksum is located and
// verified before any body field is interpreted. A frame that fails the
// checksum never yields field values.
func Decode(data []byte) (Frame, error) {
	if !bytes.HasPrefix(data, framePrefix) {
		if bytes.HasPrefix(framePrefix, data) {
			return Frame{}, truncated("%d bytes, frame begin incomplete", len(data))
		}
		return Frame{}, malformed("missing %q frame begin", FrameBegin)
	}

	if !bytes.HasSuffix(data, frameSuffix) {
		if findFrameEnd(data[len(framePrefix):]) >= 0 {
			return Frame{}, withParameter(malformed("trailing bytes after %q", FrameEnd), data)
		}
		return Frame{}, withParameter(truncated("%d bytes, no %q frame end", len(data), FrameEnd), data)
	}

	if len(data) < len(FrameBegin)+trailerSize {
		return Frame{}, malformed("frame too short: %d bytes", len(data))
	}
	if len(data) > MaxFrameSize {
		return Frame{}, withParameter(malformed("frame too large: %d bytes (max %d)", len(data), MaxFrameSize), data)
	}

	checksumStart := len(data) - len(frameSuffix) - checksumDigits
	body := data[len(framePrefix):checksumStart]

	expected, err := parseChecksum(data[checksumStart : checksumStart+checksumDigits])
	if err != nil {
		return Frame{}, withParameter(malformed("%v", err), data)
	}
	if actual := CalculateChecksum(body); actual != expected {
		e := &DecodeError{
			Kind:   DecodeChecksumMismatch,
			Detail: fmt.Sprintf("expected 0x%04X, got 0x%04X", expected, actual),
		}
		return Frame{}, withParameter(e, data)
	}

	f, e := parseBody(body)
	if e != nil {
		return Frame{}, withParameter(e, data)
	}
	f.Checksum = expected
	return f, nil
}

// parseBody interprets the checksummed fields
func parseBody(body []byte) (Frame, *DecodeError) {
	if len(body) == 0 || body[len(body)-1] != Delimiter {
		return Frame{}, malformed("missing delimiter before checksum")
	}
	fields, ok := splitFields(body)
	if !ok || len(fields) != fieldChecksum {
		return Frame{}, malformed("expected %d body fields, found %d", fieldChecksum, len(fields))
	}

	id, err := parseParameter(fields[fieldGroup], fields[fieldCommand])
	if err != nil {
		return Frame{}, malformed("%v", err)
	}

	f := Frame{Parameter: id}

	if f.Operation, err = ParseOperation(string(fields[fieldOperation])); err != nil {
		return Frame{}, malformed("%v", err)
	}

	unitField, valueField := fields[fieldUnit], fields[fieldValue]
	switch {
	case len(unitField) == 0 && len(valueField) > 0:
		return Frame{}, malformed("value without unit")
	case len(unitField) > 0:
		unit, err := ParseUnit(string(unitField))
		if err != nil {
			return Frame{}, malformed("%v", err)
		}
		raw, err := UnescapeBytes(valueField)
		if err != nil {
			return Frame{}, malformed("%v", err)
		}
		if len(raw) > MaxValueSize {
			return Frame{}, malformed("value too large: %d bytes (max %d)", len(raw), MaxValueSize)
		}
		v, err := ParseValue(unit, string(raw))
		if err != nil {
			return Frame{}, malformed("%v", err)
		}
		f.Value = &v
	}

	excField := fields[fieldException]
	if f.Operation == OpError {
		if f.Exception, err = ParseException(string(excField)); err != nil {
			return Frame{}, malformed("%v", err)
		}
		if f.Exception == ExceptionNone {
			return Frame{}, malformed("ERR frame carries %s", ExceptionNone)
		}
	} else if len(excField) > 0 {
		return Frame{}, malformed("%s frame carries exception %q", f.Operation, excField)
	}

	return f, nil
}

// splitFields splits a body on unescaped delimiters. Every field, including
// the last, must be terminated by a delimiter.
func splitFields(body []byte) ([][]byte, bool) {
	var fields [][]byte
	start := 0
	escaped := false

	for i, b := range body {
		switch {
		case escaped:
			escaped = false
		case b == EscByte:
			escaped = true
		case b == Delimiter:
			fields = append(fields, body[start:i])
			start = i + 1
		}
	}

	return fields, start == len(body) && !escaped
}

// findFrameEnd returns the index of an unescaped ";TSBK" in body, or -1
func findFrameEnd(body []byte) int {
	escaped := false
	for i, b := range body {
		switch {
		case escaped:
			escaped = false
		case b == EscByte:
			escaped = true
		case b == Delimiter && bytes.HasPrefix(body[i:], frameSuffix):
			return i
		}
	}
	return -1
}

func parseParameter(group, command []byte) (ParameterID, error) {
	g, err := strconv.ParseUint(string(group), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid group %q", group)
	}
	c, err := strconv.ParseUint(string(command), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid command %q", command)
	}
	return NewParameterID(uint8(g), uint8(c)), nil
}

func parseChecksum(digits []byte) (uint16, error) {
	for _, d := range digits {
		if !isHexDigit(d) {
			return 0, fmt.Errorf("invalid checksum %q", digits)
		}
	}
	v, err := strconv.ParseUint(string(digits), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid checksum %q", digits)
	}
	return uint16(v), nil
}

// withParameter attaches the parameter id when the group and command fields
// of a rejected frame are still readable
func withParameter(e *DecodeError, data []byte) *DecodeError {
	rest := data[len(framePrefix):]
	fields := make([][]byte, 0, fieldCommand+1)
	for len(fields) <= fieldCommand {
		i := bytes.IndexByte(rest, Delimiter)
		if i < 0 {
			return e
		}
		fields = append(fields, rest[:i])
		rest = rest[i+1:]
	}
	if id, err := parseParameter(fields[fieldGroup], fields[fieldCommand]); err == nil {
		e.Parameter, e.HasParameter = id, true
	}
	return e
}

// Decoder is a byte-at-a-time frame decoder for stream transports.
// It resynchronises on the frame begin marker and hands each complete frame
// to Decode.
type Decoder struct {
	state     int
	matched   int // bytes of the begin marker or trailer matched so far
	fields    int // unescaped delimiters seen after the begin marker
	rawBuffer []byte
}

// NewDecoder creates a new streaming decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.matched = 0
	d.fields = 0
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the bytes accumulated for the frame in progress
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error (a *DecodeError) if a completed frame fails to decode.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle, stateBegin:
		d.matchBegin(b)
		return nil, nil
	}

	if len(d.rawBuffer) >= MaxFrameSize {
		raw := append(append([]byte(nil), d.rawBuffer...), b)
		return nil, d.resync(raw, malformed("buffer overflow: frame exceeds %d bytes", MaxFrameSize))
	}
	d.rawBuffer = append(d.rawBuffer, b)

	switch d.state {
	case stateEscape:
		d.state = stateBody
		return nil, nil

	case stateBody:
		switch b {
		case EscByte:
			d.state = stateEscape
		case Delimiter:
			d.fields++
			if d.fields == fieldCount {
				d.state = stateTrailer
				d.matched = 0
			}
		}
		return nil, nil

	case stateTrailer:
		if b != FrameEnd[d.matched] {
			raw := append([]byte(nil), d.rawBuffer...)
			return nil, d.resync(raw, malformed("expected %q after checksum", FrameEnd))
		}
		d.matched++
		if d.matched < len(FrameEnd) {
			return nil, nil
		}
		frame, err := Decode(d.rawBuffer)
		d.Reset()
		if err != nil {
			return nil, err
		}
		return &frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// resync abandons the frame in raw, which ends with the offending byte. If
// an unescaped frame begin follows the first one, the frame in progress was
// cut short: its bytes are reported as truncated and decoding restarts from
// the later begin. Otherwise cause is reported for the whole buffer.
func (d *Decoder) resync(raw []byte, cause *DecodeError) error {
	d.Reset()

	i := lastFrameBegin(raw)
	if i < 0 {
		d.matchBegin(raw[len(raw)-1])
		return withParameter(cause, raw)
	}

	// the tail holds fewer delimiters than the abandoned frame, so
	// replaying it cannot complete a frame
	for _, c := range raw[i:] {
		d.DecodeByte(c)
	}
	return withParameter(truncated("%d bytes, cut short by a new %q", i, FrameBegin), raw[:i])
}

// lastFrameBegin returns the index of the last unescaped frame begin in raw
// after its first byte, or -1
func lastFrameBegin(raw []byte) int {
	last := -1
	escaped := false
	for i, b := range raw {
		switch {
		case escaped:
			escaped = false
		case b == EscByte:
			escaped = true
		case i > 0 && bytes.HasPrefix(raw[i:], framePrefix):
			last = i
		}
	}
	return last
}

// matchBegin advances the begin marker match, restarting on a mismatch
func (d *Decoder) matchBegin(b byte) {
	if b != framePrefix[d.matched] {
		d.matched = 0
		d.rawBuffer = d.rawBuffer[:0]
		if b != framePrefix[0] {
			d.state = stateIdle
			return
		}
	}
	d.rawBuffer = append(d.rawBuffer, b)
	d.matched++
	d.state = stateBegin
	if d.matched == len(framePrefix) {
		d.state = stateBody
		d.matched = 0
	}
}
