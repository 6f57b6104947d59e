// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"context"

	"github.com/rs/zerolog"
)

// Emitter is the capability producers hold to publish events
type Emitter interface {
	Emit(ctx context.Context, group Group, code Code)
}

// ManagerEmitter forwards to a Manager. Publish errors are logged so a
// producer keeps running whatever the state of the bus.
type ManagerEmitter struct {
	manager *Manager
	logger  zerolog.Logger
}

// NewEmitter creates an emitter for m
func NewEmitter(m *Manager, logger zerolog.Logger) *ManagerEmitter {
	return &ManagerEmitter{
		manager: m,
		logger:  logger.With().Str("component", "emitter").Logger(),
	}
}

// Emit publishes an event
func (e *ManagerEmitter) Emit(ctx context.Context, group Group, code Code) {
	if _, err := e.manager.Publish(ctx, group, code); err != nil {
		e.logger.Error().
			Err(err).
			Str("event", group.String()+"/"+CodeName(group, code)).
			Msg("emit failed")
	}
}

// GroupEmitter binds an Emitter to one group
type GroupEmitter struct {
	emitter Emitter
	group   Group
}

// ForGroup returns an emitter for events of group g
func ForGroup(e Emitter, g Group) GroupEmitter {
	return GroupEmitter{emitter: e, group: g}
}

// Emit publishes code in the bound group
func (g GroupEmitter) Emit(ctx context.Context, code Code) {
	if g.emitter != nil {
		g.emitter.Emit(ctx, g.group, code)
	}
}

// Group returns the bound group
func (g GroupEmitter) Group() Group {
	return g.group
}
