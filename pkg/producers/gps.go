// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package producers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kubisat/flightlink/pkg/events"
)

// ErrNoFix is returned before the receiver has reported a valid fix
var ErrNoFix = errors.New("producers: no gps fix")

// Fix is one parsed GPS position report
type Fix struct {
	Valid      bool
	Time       time.Time
	Latitude   float64
	Longitude  float64
	Speed      float64 // knots
	Satellites int
	Altitude   float64 // meters above mean sea level
}

// RMC renders the fix as the NMEA RMC fields: time, latitude, N/S,
// longitude, E/W, speed in knots and date
func (f Fix) RMC() string {
	t := f.Time.UTC()
	lat, ns := nmeaCoordinate(f.Latitude, 2, "N", "S")
	lon, ew := nmeaCoordinate(f.Longitude, 3, "E", "W")
	return strings.Join([]string{
		t.Format("150405"), lat, ns, lon, ew,
		strconv.FormatFloat(f.Speed, 'f', 1, 64),
		t.Format("020106"),
	}, ",")
}

// GGA renders the fix as the NMEA GGA fields: time, latitude, N/S,
// longitude, E/W, fix quality, satellites and altitude in meters
func (f Fix) GGA() string {
	lat, ns := nmeaCoordinate(f.Latitude, 2, "N", "S")
	lon, ew := nmeaCoordinate(f.Longitude, 3, "E", "W")
	return strings.Join([]string{
		f.Time.UTC().Format("150405"), lat, ns, lon, ew, "1",
		fmt.Sprintf("%02d", f.Satellites),
		strconv.FormatFloat(f.Altitude, 'f', 1, 64),
	}, ",")
}

// nmeaCoordinate formats decimal degrees as NMEA (d)ddmm.mmmm plus hemisphere
func nmeaCoordinate(deg float64, width int, pos, neg string) (string, string) {
	hemi := pos
	if deg < 0 {
		hemi, deg = neg, -deg
	}
	whole := math.Floor(deg)
	minutes := (deg - whole) * 60
	return fmt.Sprintf("%0*d%07.4f", width, int(whole), minutes), hemi
}

// GPSSource reads the next fix from the receiver
type GPSSource interface {
	ReadFix(ctx context.Context) (Fix, error)
}

// GPSMonitor emits GPS events and keeps the clock in sync with valid fixes
type GPSMonitor struct {
	emit   events.GroupEmitter
	clock  *Clock
	logger zerolog.Logger

	mu      sync.Mutex
	powered bool
	locked  bool
	last    Fix
}

// NewGPSMonitor creates a monitor. clock may be nil.
func NewGPSMonitor(e events.Emitter, clock *Clock, logger zerolog.Logger) *GPSMonitor {
	return &GPSMonitor{
		emit:    events.ForGroup(e, events.GroupGPS),
		clock:   clock,
		logger:  logger.With().Str("component", "gps").Logger(),
		powered: true,
	}
}

// Update processes one fix: DATA_READY for each valid fix, LOCK and LOST on
// edges, and a clock sync when one is due
func (m *GPSMonitor) Update(ctx context.Context, fix Fix) []events.Code {
	m.mu.Lock()
	if !m.powered {
		m.mu.Unlock()
		return nil
	}

	var out []events.Code
	if fix.Valid != m.locked {
		m.locked = fix.Valid
		if fix.Valid {
			out = append(out, events.GPSLock)
		} else {
			out = append(out, events.GPSLost)
		}
	}
	if fix.Valid {
		m.last = fix
		out = append(out, events.GPSDataReady)
	}
	m.mu.Unlock()

	for _, c := range out {
		m.emit.Emit(ctx, c)
	}

	if fix.Valid && !fix.Time.IsZero() && m.clock != nil && m.clock.SyncDue() {
		if err := m.clock.SyncFromGPS(ctx, fix.Time); err != nil {
			m.logger.Warn().Err(err).Msg("clock sync rejected")
		}
	}
	return out
}

// Fail reports a receiver error as GPS/ERROR
func (m *GPSMonitor) Fail(ctx context.Context, err error) {
	m.logger.Warn().Err(err).Msg("gps read failed")
	m.emit.Emit(ctx, events.GPSError)
}

// SetPower switches the receiver and emits POWER_ON or POWER_OFF. Powering
// off drops the lock without emitting LOST.
func (m *GPSMonitor) SetPower(ctx context.Context, on bool) {
	m.mu.Lock()
	m.powered = on
	if !on {
		m.locked = false
	}
	m.mu.Unlock()

	if on {
		m.emit.Emit(ctx, events.GPSPowerOn)
	} else {
		m.emit.Emit(ctx, events.GPSPowerOff)
	}
}

// Powered reports the receiver power state
func (m *GPSMonitor) Powered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powered
}

// Locked reports whether the last fix was valid
func (m *GPSMonitor) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// LastFix returns the most recent valid fix
func (m *GPSMonitor) LastFix() (Fix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.last.Valid
}
