// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func ptr(v Value) *Value { return &v }

// sampleFrames covers every operation and unit
func sampleFrames() []Frame {
	voltage := NewParameterID(2, 2)
	return []Frame{
		NewGet(voltage, nil),
		NewGet(NewParameterID(5, 1), ptr(Undefined("3"))),
		NewSet(NewParameterID(3, 0), ptr(Datetime(time.Unix(1741964966, 0)))),
		NewSet(NewParameterID(1, 9), nil),
		NewSet(NewParameterID(7, 1), ptr(Bool(true))),
		NewSet(NewParameterID(3, 2), ptr(Seconds(86400))),
		NewAnswer(voltage, Volts(4.12)),
		NewAnswer(NewParameterID(2, 7), Miliamps(-35.25)),
		NewAnswer(NewParameterID(1, 0), Text("1.0,1.1;2.2\\x")),
		NewAnswer(NewParameterID(1, 1), Undefined("")),
		NewError(voltage, ExceptionNotAllowed),
		NewError(NewParameterID(9, 9), ExceptionInvalidParam),
		NewError(voltage, ExceptionInvalidOperation),
		NewError(voltage, ExceptionParamUnnecessary),
		NewInfo(NewParameterID(5, 0), Text("0000000100000000010001")),
	}
}

// ============================================================
// Encode Tests
// ============================================================

func TestEncodeFrame_KnownBytes(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		wire  string
	}{
		{
			name:  "bare GET",
			frame: NewGet(NewParameterID(2, 2), nil),
			wire:  "KBST;GET;2;2;;;;77D7;TSBK",
		},
		{
			name:  "ANS volts",
			frame: NewAnswer(NewParameterID(2, 2), Volts(4.12)),
			wire:  "KBST;ANS;2;2;V;4.12;;5C73;TSBK",
		},
		{
			name:  "ERR not allowed",
			frame: NewError(NewParameterID(2, 2), ExceptionNotAllowed),
			wire:  "KBST;ERR;2;2;;;NOT_ALLOWED;96F9;TSBK",
		},
		{
			name:  "escaped delimiter in value",
			frame: NewSet(NewParameterID(5, 1), ptr(Text("a;b"))),
			wire:  "KBST;SET;5;1;x;a\\;b;;A603;TSBK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFrame(tt.frame)
			if err != nil {
				t.Fatalf("EncodeFrame: %v", err)
			}
			if string(data) != tt.wire {
				t.Errorf("got  %q\nwant %q", data, tt.wire)
			}
		})
	}
}

func TestEncodeFrame_RejectsInvalid(t *testing.T) {
	id := NewParameterID(1, 1)
	bad := []Frame{
		{Operation: OpError, Parameter: id},
		{Operation: OpAnswer, Parameter: id, Exception: ExceptionNotAllowed},
		{Operation: OperationType(9), Parameter: id},
		NewAnswer(id, Text(strings.Repeat("x", MaxValueSize+1))),
		NewAnswer(id, Volts(math.NaN())),
		NewAnswer(id, Seconds(math.Inf(1))),
	}
	for i, f := range bad {
		if _, err := EncodeFrame(f); err == nil {
			t.Errorf("frame %d: expected encode error", i)
		}
	}
}

func TestMustEncode_Panic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustEncode should panic on an invalid frame")
		}
	}()
	MustEncode(Frame{Operation: OpError})
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	tests := [][]byte{
		[]byte(""),
		[]byte("plain"),
		[]byte(";"),
		[]byte("\\"),
		[]byte(";;\\\\;"),
		[]byte("a;b\\c"),
	}
	for _, data := range tests {
		escaped := escapeBytes(data)
		fields, ok := splitFields(append(escaped, Delimiter))
		if !ok || len(fields) != 1 {
			t.Errorf("escaped %q does not form a single field", data)
			continue
		}
		got, err := UnescapeBytes(escaped)
		if err != nil {
			t.Fatalf("UnescapeBytes(%q): %v", escaped, err)
		}
		if string(got) != string(data) {
			t.Errorf("round trip: got %q, want %q", got, data)
		}
	}
}

func TestUnescapeBytes_IncompleteEscape(t *testing.T) {
	if _, err := UnescapeBytes([]byte("abc\\")); err == nil {
		t.Error("expected error for dangling escape")
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestDecode_RoundTrip(t *testing.T) {
	for _, f := range sampleFrames() {
		t.Run(FormatFrame(f, nil), func(t *testing.T) {
			data, err := EncodeFrame(f)
			if err != nil {
				t.Fatalf("EncodeFrame: %v", err)
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode(%q): %v", data, err)
			}
			if !decoded.Equal(f) {
				t.Errorf("round trip mismatch:\n got  %s\n want %s", FormatFrame(decoded, nil), FormatFrame(f, nil))
			}
			if decoded.Checksum == 0 {
				t.Error("decoded checksum should be populated")
			}
		})
	}
}

func TestDecode_SingleByteFlipDetected(t *testing.T) {
	for _, f := range sampleFrames() {
		data := MustEncode(f)
		bodyStart := len(framePrefix)
		bodyEnd := len(data) - len(frameSuffix) - checksumDigits

		for i := bodyStart; i < bodyEnd; i++ {
			for _, mask := range []byte{0x01, 0x20, 0x80, 0xFF} {
				corrupt := append([]byte(nil), data...)
				corrupt[i] ^= mask

				_, err := Decode(corrupt)
				if !errors.Is(err, ErrChecksumMismatch) {
					t.Fatalf("%q: flipping byte %d with 0x%02X gave %v, want checksum mismatch", data, i, mask, err)
				}
			}
		}
	}
}

func TestDecode_ChecksumMismatchRecoversParameter(t *testing.T) {
	data := []byte("KBST;GET;2;2;;;;0000;TSBK")
	_, err := Decode(data)

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Kind != DecodeChecksumMismatch {
		t.Errorf("kind = %v", de.Kind)
	}
	if !de.HasParameter || de.Parameter != NewParameterID(2, 2) {
		t.Errorf("parameter not recovered: %+v", de)
	}
}

func TestDecode_Truncated(t *testing.T) {
	full := MustEncode(NewAnswer(NewParameterID(2, 2), Volts(4.12)))

	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("prefix of %d bytes: got %v, want truncated", n, err)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong begin", "KBSX;GET;2;2;;;;77D7;TSBK"},
		{"trailing bytes", "KBST;GET;2;2;;;;77D7;TSBK;junk"},
		{"non-hex checksum", "KBST;GET;2;2;;;;77G7;TSBK"},
		{"too short", "KBST;;TSBK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("got %v, want malformed", err)
			}
		})
	}
}

// withChecksum builds a frame around an arbitrary body with a valid checksum
func withChecksum(body string) []byte {
	crc := CalculateChecksum([]byte(body))
	return []byte(FrameBegin + ";" + body + hex4(crc) + ";" + FrameEnd)
}

func hex4(v uint16) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[v>>12&0xF], digits[v>>8&0xF], digits[v>>4&0xF], digits[v&0xF]})
}

func TestDecode_MalformedBody(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantParameter bool
	}{
		{"unknown operation", "PUT;2;2;;;;", true},
		{"bad group", "GET;x;2;;;;", false},
		{"group out of range", "GET;300;2;;;;", false},
		{"value without unit", "SET;2;2;;4.1;;", true},
		{"unknown unit", "SET;2;2;kg;4.1;;", true},
		{"unparsable value", "SET;2;2;V;abc;;", true},
		{"NaN value", "ANS;2;2;V;NaN;;", true},
		{"infinite value", "ANS;2;7;mA;-Inf;;", true},
		{"err without exception", "ERR;2;2;;;;", true},
		{"err with NONE", "ERR;2;2;;;NONE;", true},
		{"exception on answer", "ANS;2;2;V;1;NOT_ALLOWED;", true},
		{"too few fields", "GET;2;2;;;", true},
		{"too many fields", "GET;2;2;;;;;", true},
		{"escaped field delimiter", "SET;2;2;x;a\\;;", true},
		{"missing checksum delimiter", "GET;2;2;;;;X", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(withChecksum(tt.body))
			var de *DecodeError
			if !errors.As(err, &de) || de.Kind != DecodeMalformed {
				t.Fatalf("got %v, want malformed", err)
			}
			if de.HasParameter != tt.wantParameter {
				t.Errorf("HasParameter = %v, want %v", de.HasParameter, tt.wantParameter)
			}
		})
	}
}

func TestDecodeError_Messages(t *testing.T) {
	e := &DecodeError{Kind: DecodeTruncated, Detail: "short", Parameter: NewParameterID(1, 2), HasParameter: true}
	if !strings.Contains(e.Error(), "1.2") {
		t.Errorf("error should mention parameter: %s", e.Error())
	}
	if !errors.Is(e, ErrTruncated) || errors.Is(e, ErrMalformed) {
		t.Error("errors.Is should match only the kind's sentinel")
	}
}

// ============================================================
// Streaming Decoder Tests
// ============================================================

func feed(d *Decoder, data []byte) ([]Frame, []error) {
	var frames []Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, *f)
		}
	}
	return frames, errs
}

func TestDecoder_Stream(t *testing.T) {
	var stream []byte
	frames := sampleFrames()
	for _, f := range frames {
		stream = append(stream, "noise\r\n"...)
		stream = append(stream, MustEncode(f)...)
	}

	got, errs := feed(NewDecoder(), stream)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(got) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if !got[i].Equal(frames[i]) {
			t.Errorf("frame %d: got %s, want %s", i, FormatFrame(got[i], nil), FormatFrame(frames[i], nil))
		}
	}
}

func TestDecoder_PartialBeginMarker(t *testing.T) {
	data := append([]byte("KBKBSKBST"), MustEncode(NewGet(NewParameterID(1, 1), nil))...)
	got, errs := feed(NewDecoder(), data)
	if len(errs) != 0 || len(got) != 1 {
		t.Fatalf("got %d frames, errors %v", len(got), errs)
	}
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	data := MustEncode(NewGet(NewParameterID(2, 2), nil))
	data[len(framePrefix)] ^= 0x01

	d := NewDecoder()
	got, errs := feed(d, data)
	if len(got) != 0 {
		t.Fatal("corrupt frame must not be returned")
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrChecksumMismatch) {
		t.Fatalf("errors = %v", errs)
	}
	if len(d.GetRawBytes()) != 0 {
		t.Error("decoder should reset after a completed frame")
	}
}

func TestDecoder_BadTrailerResyncs(t *testing.T) {
	good := MustEncode(NewGet(NewParameterID(1, 1), nil))
	data := append([]byte("KBST;GET;1;1;;;;ABCD;XX"), good...)

	got, errs := feed(NewDecoder(), data)
	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformed) {
		t.Errorf("errors = %v", errs)
	}
	if len(got) != 1 {
		t.Fatalf("decoder should recover and decode the next frame, got %d", len(got))
	}
}

func TestDecoder_TruncatedThenValid(t *testing.T) {
	good := NewGet(NewParameterID(2, 2), nil)
	data := append([]byte("KBST;GET;1;"), MustEncode(good)...)

	got, errs := feed(NewDecoder(), data)
	if len(errs) != 1 || !errors.Is(errs[0], ErrTruncated) {
		t.Fatalf("errors = %v", errs)
	}
	if len(got) != 1 || !got[0].Equal(good) {
		t.Fatalf("decoded %d frames, want the request after the cut frame", len(got))
	}
}

func TestDecoder_TruncatedThenValidWithValue(t *testing.T) {
	v := Text("a;b")
	good := NewSet(NewParameterID(9, 9), &v)
	data := append([]byte("KBST;SET;9;9;x;half"), MustEncode(good)...)
	data = append(data, MustEncode(good)...)

	got, errs := feed(NewDecoder(), data)
	if len(errs) != 1 || !errors.Is(errs[0], ErrTruncated) {
		t.Fatalf("errors = %v", errs)
	}
	var de *DecodeError
	if !errors.As(errs[0], &de) || !de.HasParameter || de.Parameter != good.Parameter {
		t.Errorf("cut frame should keep its parameter, got %v", errs[0])
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(got))
	}
}

func TestDecoder_EscapedBeginIsNotARestart(t *testing.T) {
	v := Text("KBST;")
	f := NewSet(NewParameterID(9, 9), &v)
	got, errs := feed(NewDecoder(), MustEncode(f))
	if len(errs) != 0 || len(got) != 1 || !got[0].Equal(f) {
		t.Fatalf("got %d frames, errors %v", len(got), errs)
	}
}

func TestDecoder_Overflow(t *testing.T) {
	data := append([]byte("KBST;SET;5;1;x;"), []byte(strings.Repeat("a", MaxFrameSize))...)
	_, errs := feed(NewDecoder(), data)
	if len(errs) == 0 || !errors.Is(errs[0], ErrMalformed) {
		t.Fatalf("expected overflow error, got %v", errs)
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	feed(d, []byte("KBST;GET;1"))
	if len(d.GetRawBytes()) == 0 {
		t.Fatal("raw bytes should accumulate")
	}
	d.Reset()
	if len(d.GetRawBytes()) != 0 || d.state != stateIdle {
		t.Error("Reset should clear decoder state")
	}
}

// ============================================================
// Hex & Formatter Tests
// ============================================================

func TestHexStringToBytes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"4B5354", []byte("KST")},
		{"0x4b 53 54", []byte("KST")},
		{"4B:53-54\n", []byte("KST")},
		{"", []byte{}},
	}
	for _, tt := range tests {
		got, err := HexStringToBytes(tt.in)
		if err != nil {
			t.Errorf("HexStringToBytes(%q): %v", tt.in, err)
			continue
		}
		if string(got) != string(tt.want) {
			t.Errorf("HexStringToBytes(%q) = %X, want %X", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"ABC", "ZZ", "4B 5"} {
		if _, err := HexStringToBytes(bad); err == nil {
			t.Errorf("HexStringToBytes(%q) should fail", bad)
		}
	}
}

func TestHexRoundTripFrame(t *testing.T) {
	data := MustEncode(NewAnswer(NewParameterID(2, 2), Volts(4.12)))
	back, err := HexStringToBytes(BytesToHexString(data))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(back); err != nil {
		t.Errorf("decode after hex round trip: %v", err)
	}
}

func TestFormatFrame(t *testing.T) {
	names := func(id ParameterID) (string, bool) {
		if id == NewParameterID(2, 2) {
			return "battery_voltage", true
		}
		return "", false
	}

	got := FormatFrame(NewAnswer(NewParameterID(2, 2), Volts(4.12)), names)
	if !strings.Contains(got, "battery_voltage (2.2)") || !strings.Contains(got, "4.12 V") {
		t.Errorf("unexpected format: %s", got)
	}

	got = FormatFrame(NewError(NewParameterID(9, 1), ExceptionInvalidParam), names)
	if !strings.Contains(got, "9.1") || !strings.Contains(got, "INVALID_PARAM") {
		t.Errorf("unexpected format: %s", got)
	}
}
