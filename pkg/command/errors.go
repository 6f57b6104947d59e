// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package command

import (
	"errors"
	"fmt"

	"github.com/kubisat/flightlink/pkg/kbst"
)

var (
	// ErrDuplicate is matched by a RegistrationError for a reused parameter id
	ErrDuplicate = errors.New("command: parameter already registered")

	// ErrInvalidEntry is matched by a RegistrationError for an inconsistent entry
	ErrInvalidEntry = errors.New("command: invalid registry entry")

	// ErrInvalidValue is wrapped by handlers rejecting a request value.
	// The dispatcher answers it with INVALID_PARAM instead of INVALID_OPERATION.
	ErrInvalidValue = errors.New("command: invalid value")
)

// RegistrationError reports a rejected Register call. The entry is not
// added to the registry.
type RegistrationError struct {
	ID       kbst.ParameterID
	Name     string
	Existing string // name already registered under ID, for duplicates
	Err      error
}

func (e *RegistrationError) Error() string {
	if e.Existing != "" {
		return fmt.Sprintf("register %s (%s): %v, held by %s", e.Name, e.ID, e.Err, e.Existing)
	}
	return fmt.Sprintf("register %s (%s): %v", e.Name, e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// InvalidValue wraps ErrInvalidValue with a description of the rejected value
func InvalidValue(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}
