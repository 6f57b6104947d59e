// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package kbst implements the Kubisat ground link protocol.
//
// KBST is a delimited ASCII protocol spoken between the ground station and the
// flight computer over UART or LoRa. This package provides frame encoding and
// decoding, checksum validation, typed values and the operation, access and
// exception taxonomies shared by both ends of the link.
//
// Wire form:
//
//	KBST;<OP>;<GROUP>;<COMMAND>;<UNIT>;<VALUE>;<EXCEPTION>;<CCCC>;TSBK
package kbst

// Protocol framing
const (
	FrameBegin = "KBST"
	FrameEnd   = "TSBK"
	Delimiter  = ';'
	EscByte    = '\\'
)

// Frame size limits
const (
	MaxFrameSize = 512
	MaxValueSize = 384
)

// Field layout. The body is every byte after "KBST;" up to and including
// the delimiter that precedes the checksum field.
const (
	fieldOperation = iota
	fieldGroup
	fieldCommand
	fieldUnit
	fieldValue
	fieldException
	fieldChecksum
	fieldCount
)

// checksumDigits is the width of the hex checksum field
const checksumDigits = 4

// Decoder states (internal)
const (
	stateIdle = iota
	stateBegin
	stateBody
	stateEscape
	stateTrailer
)

// trailerSize is the fixed-width tail ";CCCC;TSBK"
const trailerSize = 1 + checksumDigits + 1 + len(FrameEnd)
