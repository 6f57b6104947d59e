// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kubisat/flightlink/pkg/events"
)

// DefaultFlushThreshold is the number of records buffered before the sink
// writes them out
const DefaultFlushThreshold = 8

// EventSink is an event manager subscriber that persists every record at
// LevelEvent. Writes happen on a background goroutine once the threshold is
// reached, never inside Notify.
type EventSink struct {
	store     *Store
	threshold int
	logger    zerolog.Logger

	mu       sync.Mutex
	buffered int
	flushing bool
	wg       sync.WaitGroup
}

// NewEventSink creates a sink writing to store
func NewEventSink(store *Store, threshold int, logger zerolog.Logger) *EventSink {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &EventSink{
		store:     store,
		threshold: threshold,
		logger:    logger.With().Str("component", "event_sink").Logger(),
	}
}

// Notify buffers rec
func (s *EventSink) Notify(_ context.Context, rec events.Record) error {
	r := rec
	err := s.store.LogToStorage(Entry{
		Time:    rec.Time,
		Level:   LevelEvent,
		Source:  "events",
		Message: rec.Name(),
		Event:   &r,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.buffered++
	start := s.buffered >= s.threshold && !s.flushing
	if start {
		s.buffered = 0
		s.flushing = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if start {
		go s.background()
	}
	return nil
}

func (s *EventSink) background() {
	defer s.wg.Done()
	if err := s.store.FlushLogsToStorage(); err != nil {
		s.logger.Warn().Err(err).Msg("background flush failed")
	}
	s.mu.Lock()
	s.flushing = false
	s.mu.Unlock()
}

// Flush waits for a running background flush and writes what remains
func (s *EventSink) Flush(_ context.Context) error {
	s.wg.Wait()
	s.mu.Lock()
	s.buffered = 0
	s.mu.Unlock()
	return s.store.FlushLogsToStorage()
}
