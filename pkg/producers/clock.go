// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package producers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kubisat/flightlink/pkg/events"
)

// ErrNeverSynced is returned by LastSync before the first GPS sync
var ErrNeverSynced = errors.New("clock: never synced")

// Limits of the clock settings
const (
	MaxTimezoneOffset   = 720 // minutes
	DefaultSyncInterval = time.Hour
)

// Clock is the onboard real-time clock: system time plus a settable offset
type Clock struct {
	now func() time.Time

	mu           sync.Mutex
	offset       time.Duration
	tzOffset     int
	syncInterval time.Duration
	lastSync     time.Time
	emit         events.GroupEmitter
}

// NewClock creates a clock reading now, or time.Now when now is nil
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, syncInterval: DefaultSyncInterval}
}

// Bind sets the emitter CHANGED and GPS_SYNC are published through. The
// manager stamps records with Now, so the clock exists before the emitter.
func (c *Clock) Bind(e events.Emitter) {
	c.mu.Lock()
	c.emit = events.ForGroup(e, events.GroupClock)
	c.mu.Unlock()
}

// Now returns the onboard time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset)
}

// Set moves the clock to t and emits CLOCK/CHANGED
func (c *Clock) Set(ctx context.Context, t time.Time) error {
	if t.Unix() <= 0 {
		return fmt.Errorf("clock: time %d must be positive", t.Unix())
	}
	c.mu.Lock()
	c.offset = t.Sub(c.now())
	emit := c.emit
	c.mu.Unlock()

	emit.Emit(ctx, events.ClockChanged)
	return nil
}

// SyncFromGPS sets the clock from a GPS fix and emits CLOCK/GPS_SYNC
func (c *Clock) SyncFromGPS(ctx context.Context, t time.Time) error {
	if t.Unix() <= 0 {
		return fmt.Errorf("clock: gps time %d must be positive", t.Unix())
	}
	c.mu.Lock()
	c.offset = t.Sub(c.now())
	c.lastSync = t
	emit := c.emit
	c.mu.Unlock()

	emit.Emit(ctx, events.ClockGPSSync)
	return nil
}

// SyncDue reports whether the sync interval has passed since the last sync
func (c *Clock) SyncDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSync.IsZero() {
		return true
	}
	return c.now().Add(c.offset).Sub(c.lastSync) >= c.syncInterval
}

// LastSync returns the time of the last GPS sync
func (c *Clock) LastSync() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSync.IsZero() {
		return time.Time{}, ErrNeverSynced
	}
	return c.lastSync, nil
}

// TimezoneOffset returns the local offset in minutes
func (c *Clock) TimezoneOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tzOffset
}

// SetTimezoneOffset sets the local offset, within ±12 hours
func (c *Clock) SetTimezoneOffset(minutes int) error {
	if minutes < -MaxTimezoneOffset || minutes > MaxTimezoneOffset {
		return fmt.Errorf("clock: timezone offset %d outside ±%d minutes", minutes, MaxTimezoneOffset)
	}
	c.mu.Lock()
	c.tzOffset = minutes
	c.mu.Unlock()
	return nil
}

// SyncInterval returns the GPS sync interval
func (c *Clock) SyncInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncInterval
}

// SetSyncInterval sets the GPS sync interval
func (c *Clock) SetSyncInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("clock: sync interval %s must be positive", d)
	}
	c.mu.Lock()
	c.syncInterval = d
	c.mu.Unlock()
	return nil
}
