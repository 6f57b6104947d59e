// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package producers

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator stands in for the power manager and GPS receiver when the
// binary runs without flight hardware. Each read advances one step.
type Simulator struct {
	now func() time.Time

	mu   sync.Mutex
	rng  *rand.Rand
	step int
}

// NewSimulator creates a simulator seeded with seed
func NewSimulator(seed int64, now func() time.Time) *Simulator {
	if now == nil {
		now = time.Now
	}
	return &Simulator{now: now, rng: rand.New(rand.NewSource(seed))}
}

// ReadPower returns a slow orbit-like charge cycle: the rail sags through
// eclipse, dips below the low threshold, then recovers in sunlight
func (s *Simulator) ReadPower(_ context.Context) (PowerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step++
	phase := float64(s.step%120) / 120 * 2 * math.Pi
	sunlit := math.Sin(phase) > -0.2
	noise := (s.rng.Float64() - 0.5) * 0.01

	rail := 5.0 + 0.4*math.Sin(phase) + noise
	st := PowerState{
		BatteryVoltage: 3.9 + 0.3*math.Sin(phase) + noise,
		Voltage5V:      rail,
		CurrentDraw:    180 + 40*s.rng.Float64(),
		SolarCharging:  sunlit,
		USBConnected:   false,
	}
	if sunlit {
		st.ChargeCurrentSolar = 250 * math.Max(math.Sin(phase), 0.1)
	}
	return st, nil
}

// ReadFix returns a fix that is valid except for a short outage every
// sixty reads
func (s *Simulator) ReadFix(_ context.Context) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := s.step%60 < 55
	if !valid {
		return Fix{}, nil
	}
	return Fix{
		Valid:      true,
		Time:       s.now().UTC().Truncate(time.Second),
		Latitude:   52.2297 + s.rng.Float64()*0.001,
		Longitude:  21.0122 + s.rng.Float64()*0.001,
		Speed:      s.rng.Float64() * 2,
		Satellites: 6 + s.rng.Intn(6),
		Altitude:   110 + s.rng.Float64()*5,
	}, nil
}

// PowerManagerIDs implements PowerIdentifier
func (s *Simulator) PowerManagerIDs() string {
	return "SIM-INA3221:5449:3220"
}
