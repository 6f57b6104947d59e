// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import (
	"fmt"
	"strconv"
	"strings"
)

// ParameterID identifies a registry entry as group<<8 | command
type ParameterID uint16

// NewParameterID combines a group and command number
func NewParameterID(group, command uint8) ParameterID {
	return ParameterID(uint16(group)<<8 | uint16(command))
}

// Group returns the parameter's group number
func (p ParameterID) Group() uint8 {
	return uint8(p >> 8)
}

// Command returns the command number within the group
func (p ParameterID) Command() uint8 {
	return uint8(p)
}

// String renders the id as "group.command"
func (p ParameterID) String() string {
	return fmt.Sprintf("%d.%d", p.Group(), p.Command())
}

// ParseParameterID parses the "group.command" form
func ParseParameterID(s string) (ParameterID, error) {
	group, command, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return 0, fmt.Errorf("parameter id %q: expected group.command", s)
	}
	g, err := strconv.ParseUint(group, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("parameter id %q: invalid group: %w", s, err)
	}
	c, err := strconv.ParseUint(command, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("parameter id %q: invalid command: %w", s, err)
	}
	return NewParameterID(uint8(g), uint8(c)), nil
}

// Frame is one protocol message exchanged over the link
type Frame struct {
	Operation OperationType
	Parameter ParameterID
	Value     *Value
	Exception ExceptionType

	// Checksum is filled in by Decode; Encode always recomputes it
	Checksum uint16
}

// HasValue reports whether the frame carries a payload
func (f Frame) HasValue() bool {
	return f.Value != nil
}

// Equal compares two frames field by field, ignoring the checksum
func (f Frame) Equal(o Frame) bool {
	if f.Operation != o.Operation || f.Parameter != o.Parameter || f.Exception != o.Exception {
		return false
	}
	if f.HasValue() != o.HasValue() {
		return false
	}
	return !f.HasValue() || f.Value.Equal(*o.Value)
}

// Validate checks the structural rules of a frame before it is sent
func (f Frame) Validate() error {
	if _, ok := operationTokens[f.Operation]; !ok {
		return fmt.Errorf("invalid operation %d", uint8(f.Operation))
	}
	if _, ok := exceptionTokens[f.Exception]; !ok {
		return fmt.Errorf("invalid exception %d", uint8(f.Exception))
	}
	if f.Operation == OpError && f.Exception == ExceptionNone {
		return fmt.Errorf("ERR frame for %s has no exception", f.Parameter)
	}
	if f.Operation != OpError && f.Exception != ExceptionNone {
		return fmt.Errorf("%s frame for %s carries exception %s", f.Operation, f.Parameter, f.Exception)
	}
	if f.Value != nil {
		if _, ok := unitTokens[f.Value.Unit()]; !ok {
			return fmt.Errorf("invalid unit %d", uint8(f.Value.Unit()))
		}
		if f.Value.Unit().IsNumeric() && !finite(f.Value.Number()) {
			return fmt.Errorf("%s value for %s is not a finite number", f.Value.Unit(), f.Parameter)
		}
	}
	return nil
}

// Frame builders

// NewGet creates a GET request. An argument is optional and only accepted
// by query parameters.
func NewGet(id ParameterID, argument *Value) Frame {
	return Frame{Operation: OpGet, Parameter: id, Value: argument}
}

// NewSet creates a SET request. Action parameters take no value.
func NewSet(id ParameterID, value *Value) Frame {
	return Frame{Operation: OpSet, Parameter: id, Value: value}
}

// NewAnswer creates a successful ANS reply
func NewAnswer(id ParameterID, value Value) Frame {
	return Frame{Operation: OpAnswer, Parameter: id, Value: &value}
}

// NewAcknowledge creates a bare ANS reply for requests that produce no value
func NewAcknowledge(id ParameterID) Frame {
	return Frame{Operation: OpAnswer, Parameter: id}
}

// NewError creates an ERR reply
func NewError(id ParameterID, exception ExceptionType) Frame {
	return Frame{Operation: OpError, Parameter: id, Exception: exception}
}

// NewInfo creates an unsolicited INF notice
func NewInfo(id ParameterID, value Value) Frame {
	return Frame{Operation: OpInfo, Parameter: id, Value: &value}
}
