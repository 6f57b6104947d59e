// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import "fmt"

// OperationType is the verb carried by a frame
type OperationType uint8

// Operation values
const (
	OpGet OperationType = iota
	OpSet
	OpAnswer
	OpError
	OpInfo
)

var operationTokens = map[OperationType]string{
	OpGet:    "GET",
	OpSet:    "SET",
	OpAnswer: "ANS",
	OpError:  "ERR",
	OpInfo:   "INF",
}

// String returns the wire token for the operation
func (o OperationType) String() string {
	if s, ok := operationTokens[o]; ok {
		return s
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

// IsRequest reports whether the operation is sent by the ground station
func (o OperationType) IsRequest() bool {
	return o == OpGet || o == OpSet
}

// ParseOperation converts a wire token to an OperationType
func ParseOperation(token string) (OperationType, error) {
	for op, s := range operationTokens {
		if s == token {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", token)
}

// AccessLevel is the remote permission attached to a parameter
type AccessLevel uint8

// Access level values
const (
	AccessNone AccessLevel = iota
	AccessReadOnly
	AccessWriteOnly
	AccessReadWrite
)

// CanRead reports whether a GET is permitted
func (a AccessLevel) CanRead() bool {
	return a == AccessReadOnly || a == AccessReadWrite
}

// CanWrite reports whether a SET is permitted
func (a AccessLevel) CanWrite() bool {
	return a == AccessWriteOnly || a == AccessReadWrite
}

// String returns the access level name
func (a AccessLevel) String() string {
	switch a {
	case AccessNone:
		return "NONE"
	case AccessReadOnly:
		return "READ_ONLY"
	case AccessWriteOnly:
		return "WRITE_ONLY"
	case AccessReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("ACCESS(%d)", uint8(a))
	}
}

// ExceptionType classifies a rejected request. ExceptionNone never appears
// on an ERR frame.
type ExceptionType uint8

// Exception values
const (
	ExceptionNone ExceptionType = iota
	ExceptionNotAllowed
	ExceptionInvalidParam
	ExceptionInvalidOperation
	ExceptionParamUnnecessary
)

// The PARAM_UNECESSARY spelling is part of the deployed ground software.
var exceptionTokens = map[ExceptionType]string{
	ExceptionNone:             "NONE",
	ExceptionNotAllowed:       "NOT_ALLOWED",
	ExceptionInvalidParam:     "INVALID_PARAM",
	ExceptionInvalidOperation: "INVALID_OPERATION",
	ExceptionParamUnnecessary: "PARAM_UNECESSARY",
}

// String returns the wire token for the exception
func (e ExceptionType) String() string {
	if s, ok := exceptionTokens[e]; ok {
		return s
	}
	return fmt.Sprintf("EXCEPTION(%d)", uint8(e))
}

// ParseException converts a wire token to an ExceptionType
func ParseException(token string) (ExceptionType, error) {
	for e, s := range exceptionTokens {
		if s == token {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown exception %q", token)
}

// ValueUnit tags the representation of a Value payload
type ValueUnit uint8

// Unit values
const (
	UnitUndefined ValueUnit = iota
	UnitSecond
	UnitVolt
	UnitBool
	UnitDatetime
	UnitText
	UnitMiliamp
)

var unitTokens = map[ValueUnit]string{
	UnitUndefined: "u",
	UnitSecond:    "s",
	UnitVolt:      "V",
	UnitBool:      "b",
	UnitDatetime:  "t",
	UnitText:      "x",
	UnitMiliamp:   "mA",
}

// Token returns the wire token for the unit
func (u ValueUnit) Token() string {
	return unitTokens[u]
}

// String returns the unit name
func (u ValueUnit) String() string {
	switch u {
	case UnitUndefined:
		return "UNDEFINED"
	case UnitSecond:
		return "SECOND"
	case UnitVolt:
		return "VOLT"
	case UnitBool:
		return "BOOL"
	case UnitDatetime:
		return "DATETIME"
	case UnitText:
		return "TEXT"
	case UnitMiliamp:
		return "MILIAMP"
	default:
		return fmt.Sprintf("UNIT(%d)", uint8(u))
	}
}

// IsNumeric reports whether the unit carries a float payload
func (u ValueUnit) IsNumeric() bool {
	return u == UnitSecond || u == UnitVolt || u == UnitMiliamp
}

// ParseUnit converts a wire token to a ValueUnit
func ParseUnit(token string) (ValueUnit, error) {
	for u, s := range unitTokens {
		if s == token {
			return u, nil
		}
	}
	return 0, fmt.Errorf("unknown unit %q", token)
}
