// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrReentrant is matched by a ReentrancyError
	ErrReentrant = errors.New("events: publish from inside a notification")

	// ErrClosed is returned by Publish after Close
	ErrClosed = errors.New("events: manager closed")
)

// ReentrancyError rejects a Publish issued by a subscriber while it is being
// notified
type ReentrancyError struct {
	Subscriber string
	Group      Group
	Code       Code
}

func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("events: subscriber %q published %s/%s during notification",
		e.Subscriber, e.Group, CodeName(e.Group, e.Code))
}

func (e *ReentrancyError) Is(target error) bool {
	return target == ErrReentrant
}

// Subscriber receives finalized records.
//
// Notify runs inside Publish. A subscriber that publishes must do so with
// ctx or a context derived from it: that is how the manager recognises and
// rejects the nested publish. A publish made with an unrelated context is
// indistinguishable from one made by another goroutine and is accepted.
type Subscriber interface {
	Notify(ctx context.Context, rec Record) error
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(ctx context.Context, rec Record) error

// Notify calls f(ctx, rec)
func (f SubscriberFunc) Notify(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Flusher is implemented by subscribers holding buffered records.
// Close flushes them before closing anything.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Filter selects the groups a subscriber is notified about
type Filter func(Group) bool

// AnyGroup matches every group
func AnyGroup(Group) bool { return true }

// Groups matches the listed groups only
func Groups(groups ...Group) Filter {
	return func(g Group) bool {
		for _, want := range groups {
			if g == want {
				return true
			}
		}
		return false
	}
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	name     string
	filter   Filter
	sub      Subscriber
	failures atomic.Uint64
}

// Name returns the name given at Subscribe
func (s *Subscription) Name() string { return s.name }

// Failures returns how many notifications this subscriber failed
func (s *Subscription) Failures() uint64 { return s.failures.Load() }

// Stats are the manager's diagnostic counters
type Stats struct {
	Published   uint64
	Delivered   uint64
	Failures    uint64
	Reentrant   uint64
	Subscribers int
}

type deliveryKey struct{}

// Manager appends published events to its Log and notifies subscribers
// synchronously, in registration order.
type Manager struct {
	log    *Log
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	subs     []*Subscription
	closed   bool
	inflight sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64
	reentrant atomic.Uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock used to timestamp records
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager writing to log
func NewManager(log *Log, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		log:    log,
		logger: logger.With().Str("component", "events").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log returns the manager's event log for event-backed queries
func (m *Manager) Log() *Log {
	return m.log
}

// Subscribe registers a subscriber for the groups accepted by filter.
// A nil filter matches every group.
func (m *Manager) Subscribe(name string, filter Filter, sub Subscriber) *Subscription {
	if filter == nil {
		filter = AnyGroup
	}
	s := &Subscription{name: name, filter: filter, sub: sub}

	m.mu.Lock()
	m.subs = append(m.subs, s)
	m.mu.Unlock()

	m.logger.Debug().Str("subscriber", name).Msg("subscribed")
	return s
}

// Unsubscribe removes a subscription. It reports whether it was present.
func (m *Manager) Unsubscribe(s *Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cur := range m.subs {
		if cur == s {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish appends an event and notifies every matching subscriber.
// Subscriber failures are counted and logged, never returned. A publish
// carrying a notification's context is rejected with a *ReentrancyError.
func (m *Manager) Publish(ctx context.Context, group Group, code Code) (Record, error) {
	if name, ok := ctx.Value(deliveryKey{}).(string); ok {
		m.reentrant.Add(1)
		err := &ReentrancyError{Subscriber: name, Group: group, Code: code}
		m.logger.Warn().Err(err).Msg("rejected reentrant publish")
		return Record{}, err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return Record{}, ErrClosed
	}
	m.inflight.Add(1)
	subs := make([]*Subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.RUnlock()
	defer m.inflight.Done()

	rec := m.log.AppendNow(group, code, m.now)
	m.published.Add(1)

	m.logger.Debug().
		Uint64("seq", rec.Seq).
		Str("event", rec.Name()).
		Msg("published")

	for _, s := range subs {
		if s.filter(group) {
			m.deliver(ctx, s, rec)
		}
	}
	return rec, nil
}

func (m *Manager) deliver(ctx context.Context, s *Subscription, rec Record) {
	dctx := context.WithValue(ctx, deliveryKey{}, s.name)

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("subscriber panic: %v", p)
			}
		}()
		return s.sub.Notify(dctx, rec)
	}()

	if err != nil {
		s.failures.Add(1)
		m.failures.Add(1)
		m.logger.Warn().
			Err(err).
			Str("subscriber", s.name).
			Uint64("seq", rec.Seq).
			Str("event", rec.Name()).
			Msg("notification failed")
		return
	}
	m.delivered.Add(1)
}

// Close stops accepting publishes, waits for in-flight deliveries, flushes
// Flusher subscribers and then closes io.Closer subscribers, each in
// registration order. Closing twice is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*Subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.inflight.Wait()

	var errs []error
	for _, s := range subs {
		if f, ok := s.sub.(Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", s.name, err))
			}
		}
	}
	for _, s := range subs {
		if c, ok := s.sub.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
			}
		}
	}

	m.logger.Info().
		Uint64("published", m.published.Load()).
		Uint64("failures", m.failures.Load()).
		Msg("event manager closed")
	return errors.Join(errs...)
}

// Stats returns a snapshot of the diagnostic counters
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	n := len(m.subs)
	m.mu.RUnlock()

	return Stats{
		Published:   m.published.Load(),
		Delivered:   m.delivered.Load(),
		Failures:    m.failures.Load(),
		Reentrant:   m.reentrant.Load(),
		Subscribers: n,
	}
}

// Failures returns the failure count of every current subscription by name
func (m *Manager) Failures() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]uint64, len(m.subs))
	for _, s := range m.subs {
		out[s.name] += s.failures.Load()
	}
	return out
}
