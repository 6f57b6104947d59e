// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package command holds the parameter registry and the GET/SET dispatcher
// that answers ground requests.
package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kubisat/flightlink/pkg/kbst"
)

// GetFunc returns the current value of a parameter
type GetFunc func() (kbst.Value, error)

// QueryFunc answers a GET that carries an argument
type QueryFunc func(arg kbst.Value) (kbst.Value, error)

// SetFunc applies a new value. A nil result echoes the request value.
type SetFunc func(v kbst.Value) (*kbst.Value, error)

// ActionFunc runs a SET that takes no value
type ActionFunc func() error

// Entry is one remotely addressable parameter
type Entry struct {
	ID     kbst.ParameterID
	Name   string
	Access kbst.AccessLevel
	Unit   kbst.ValueUnit

	Get    GetFunc
	Query  QueryFunc
	Set    SetFunc
	Action ActionFunc
}

// Settable reports whether the entry has any SET handler
func (e Entry) Settable() bool {
	return e.Set != nil || e.Action != nil
}

func (e Entry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEntry)
	}
	if e.Access.CanRead() && e.Get == nil && e.Query == nil {
		return fmt.Errorf("%w: readable without a getter", ErrInvalidEntry)
	}
	if e.Set != nil && e.Action != nil {
		return fmt.Errorf("%w: both setter and action", ErrInvalidEntry)
	}
	return nil
}

// Registry maps parameter ids to entries. Entries are registered at startup
// and never removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[kbst.ParameterID]Entry
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[kbst.ParameterID]Entry),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds an entry. It fails with a *RegistrationError when the id is
// already taken or the entry is inconsistent.
func (r *Registry) Register(e Entry) error {
	if err := e.validate(); err != nil {
		return &RegistrationError{ID: e.ID, Name: e.Name, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[e.ID]; ok {
		return &RegistrationError{ID: e.ID, Name: e.Name, Existing: existing.Name, Err: ErrDuplicate}
	}
	r.entries[e.ID] = e

	r.logger.Debug().
		Str("parameter", e.ID.String()).
		Str("name", e.Name).
		Str("access", e.Access.String()).
		Msg("registered")
	return nil
}

// RegisterAll registers every entry, joining the errors of rejected ones
func (r *Registry) RegisterAll(entries ...Entry) error {
	var errs []error
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the entry registered under id
func (r *Registry) Lookup(id kbst.ParameterID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Name resolves a parameter id to its registered name.
// It satisfies kbst.NameFunc.
func (r *Registry) Name(id kbst.ParameterID) (string, bool) {
	e, ok := r.Lookup(id)
	return e.Name, ok
}

// Entries returns all entries ordered by id
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
