// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a unit-tagged payload. The unit decides which field is meaningful
// and how the value is written on the wire.
type Value struct {
	unit   ValueUnit
	number float64
	flag   bool
	text   string
	at     time.Time
}

// Undefined creates a unitless value carrying raw text
func Undefined(text string) Value {
	return Value{unit: UnitUndefined, text: text}
}

// Text creates a TEXT value
func Text(text string) Value {
	return Value{unit: UnitText, text: text}
}

// Seconds creates a SECOND value
func Seconds(v float64) Value {
	return Value{unit: UnitSecond, number: v}
}

// Volts creates a VOLT value
func Volts(v float64) Value {
	return Value{unit: UnitVolt, number: v}
}

// Miliamps creates a MILIAMP value
func Miliamps(v float64) Value {
	return Value{unit: UnitMiliamp, number: v}
}

// Bool creates a BOOL value
func Bool(v bool) Value {
	return Value{unit: UnitBool, flag: v}
}

// Datetime creates a DATETIME value, truncated to whole seconds in UTC
func Datetime(t time.Time) Value {
	return Value{unit: UnitDatetime, at: time.Unix(t.Unix(), 0).UTC()}
}

// Unit returns the value's unit tag
func (v Value) Unit() ValueUnit {
	return v.unit
}

// Number returns the numeric payload (SECOND, VOLT, MILIAMP)
func (v Value) Number() float64 {
	return v.number
}

// Bool returns the boolean payload
func (v Value) Bool() bool {
	return v.flag
}

// Text returns the text payload (TEXT, UNDEFINED)
func (v Value) Text() string {
	return v.text
}

// Time returns the DATETIME payload
func (v Value) Time() time.Time {
	return v.at
}

// Equal reports whether two values have the same unit and payload
func (v Value) Equal(o Value) bool {
	if v.unit != o.unit {
		return false
	}
	switch {
	case v.unit.IsNumeric():
		return v.number == o.number
	case v.unit == UnitBool:
		return v.flag == o.flag
	case v.unit == UnitDatetime:
		return v.at.Equal(o.at)
	default:
		return v.text == o.text
	}
}

// Format returns the wire text of the payload (without unit token or escaping)
func (v Value) Format() string {
	switch {
	case v.unit.IsNumeric():
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case v.unit == UnitBool:
		return strconv.FormatBool(v.flag)
	case v.unit == UnitDatetime:
		return strconv.FormatInt(v.at.Unix(), 10)
	default:
		return v.text
	}
}

// String renders the value for humans, with a unit suffix
func (v Value) String() string {
	switch v.unit {
	case UnitSecond:
		return v.Format() + " s"
	case UnitVolt:
		return v.Format() + " V"
	case UnitMiliamp:
		return v.Format() + " mA"
	case UnitDatetime:
		return v.at.Format(time.RFC3339)
	case UnitText:
		return strconv.Quote(v.text)
	default:
		return v.Format()
	}
}

// ParseValue parses payload text according to the unit's rules
func ParseValue(unit ValueUnit, text string) (Value, error) {
	switch {
	case unit.IsNumeric():
		n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s value %q: %w", unit, text, err)
		}
		if !finite(n) {
			return Value{}, fmt.Errorf("invalid %s value %q: not a finite number", unit, text)
		}
		return Value{unit: unit, number: n}, nil
	case unit == UnitBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("invalid BOOL value %q: %w", text, err)
		}
		return Bool(b), nil
	case unit == UnitDatetime:
		secs, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid DATETIME value %q: %w", text, err)
		}
		return Datetime(time.Unix(secs, 0)), nil
	case unit == UnitText:
		return Text(text), nil
	case unit == UnitUndefined:
		return Undefined(text), nil
	default:
		return Value{}, fmt.Errorf("unknown unit %d", uint8(unit))
	}
}

func finite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}
