// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
)

// Level is the severity of a stored log entry. The numbering matches the
// flight computer's verbosity levels.
type Level uint8

// Log levels
const (
	LevelSilent Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelEvent
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "SILENT"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("LEVEL(%d)", uint8(l))
	}
}

// ParseLevel parses a level name or number
func ParseLevel(s string) (Level, error) {
	for l := LevelSilent; l <= LevelEvent; l++ {
		if s == l.String() || s == fmt.Sprint(uint8(l)) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Entry is one record handed to the store
type Entry struct {
	ID      uint64 // assigned when read back
	Time    time.Time
	Level   Level
	Source  string
	Message string
	Event   *events.Record
}

// String renders the entry for the events command
func (e Entry) String() string {
	if e.Event != nil {
		return fmt.Sprintf("%s %-7s %s", e.Time.UTC().Format(time.RFC3339), e.Level, e.Event)
	}
	return fmt.Sprintf("%s %-7s [%s] %s", e.Time.UTC().Format(time.RFC3339), e.Level, e.Source, e.Message)
}

// Block is a stored log entry: a CBOR payload and its CRC-16
type Block struct {
	ID        uint64    `gorm:"primarykey;autoIncrement"`
	Level     uint8     `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"index"`
	Payload   []byte    `gorm:"not null"`
	Checksum  uint16    `gorm:"not null"`
}

// TableName specifies the table name for GORM
func (Block) TableName() string {
	return "log_blocks"
}

// Verify checks the payload against the stored checksum
func (b Block) Verify() bool {
	return kbst.CalculateChecksum(b.Payload) == b.Checksum
}

type eventPayload struct {
	Seq   uint64 `cbor:"1,keyasint"`
	Time  int64  `cbor:"2,keyasint"`
	Group uint8  `cbor:"3,keyasint"`
	Code  uint8  `cbor:"4,keyasint"`
}

// blockPayload is the CBOR layout of a block, integer keyed
type blockPayload struct {
	Time    int64         `cbor:"1,keyasint"`
	Source  string        `cbor:"2,keyasint,omitempty"`
	Message string        `cbor:"3,keyasint,omitempty"`
	Event   *eventPayload `cbor:"4,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// encodeBlock serializes an entry into a checksummed block
func encodeBlock(e Entry) (Block, error) {
	p := blockPayload{
		Time:    e.Time.UnixMilli(),
		Source:  e.Source,
		Message: e.Message,
	}
	if e.Event != nil {
		p.Event = &eventPayload{
			Seq:   e.Event.Seq,
			Time:  e.Event.Time.Unix(),
			Group: uint8(e.Event.Group),
			Code:  uint8(e.Event.Code),
		}
	}

	data, err := encMode.Marshal(p)
	if err != nil {
		return Block{}, fmt.Errorf("failed to encode block: %w", err)
	}
	return Block{
		Level:     uint8(e.Level),
		CreatedAt: e.Time,
		Payload:   data,
		Checksum:  kbst.CalculateChecksum(data),
	}, nil
}

// decodeBlock verifies and deserializes a block
func decodeBlock(b Block) (Entry, error) {
	if !b.Verify() {
		return Entry{}, &CorruptBlockError{ID: b.ID, Stored: b.Checksum, Actual: kbst.CalculateChecksum(b.Payload)}
	}

	var p blockPayload
	if err := cbor.Unmarshal(b.Payload, &p); err != nil {
		return Entry{}, fmt.Errorf("block %d: %w", b.ID, err)
	}

	e := Entry{
		ID:      b.ID,
		Time:    time.UnixMilli(p.Time).UTC(),
		Level:   Level(b.Level),
		Source:  p.Source,
		Message: p.Message,
	}
	if p.Event != nil {
		e.Event = &events.Record{
			Seq:   p.Event.Seq,
			Time:  time.Unix(p.Event.Time, 0).UTC(),
			Group: events.Group(p.Event.Group),
			Code:  events.Code(p.Event.Code),
		}
	}
	return e, nil
}
