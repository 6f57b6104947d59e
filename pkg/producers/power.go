// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package producers turns periodic sensor readings into events. Each
// producer holds an emitter and is driven by the host's ticker.
package producers

import (
	"context"
	"sync"

	"github.com/kubisat/flightlink/pkg/events"
)

// Power thresholds on the 5 V rail
const (
	VoltageLowThreshold        = 4.7   // V
	VoltageOverchargeThreshold = 5.3   // V
	FallRateThreshold          = -0.02 // V per reading
	FallingTrendRequired       = 3     // readings
)

// PowerState is one reading of the power manager
type PowerState struct {
	BatteryVoltage     float64 // V
	Voltage5V          float64 // V
	ChargeCurrentUSB   float64 // mA
	ChargeCurrentSolar float64 // mA
	CurrentDraw        float64 // mA
	SolarCharging      bool
	USBConnected       bool
}

// ChargeCurrentTotal is the sum of both charge inputs
func (s PowerState) ChargeCurrentTotal() float64 {
	return s.ChargeCurrentUSB + s.ChargeCurrentSolar
}

// PowerSource reads the current power state
type PowerSource interface {
	ReadPower(ctx context.Context) (PowerState, error)
}

// PowerIdentifier is implemented by sources that can report the power
// manager's chip ids
type PowerIdentifier interface {
	PowerManagerIDs() string
}

// PowerMonitor emits POWER events from consecutive readings
type PowerMonitor struct {
	emit events.GroupEmitter

	mu       sync.Mutex
	checked  bool
	previous float64
	falling  int
	band     events.Code
	solar    bool
	usb      bool
}

// NewPowerMonitor creates a monitor publishing through e
func NewPowerMonitor(e events.Emitter) *PowerMonitor {
	return &PowerMonitor{emit: events.ForGroup(e, events.GroupPower)}
}

// Check evaluates one reading and emits the events it triggers, which
// are also returned in emission order:
//
//   - POWER_FALLING once the rail has dropped by more than 20 mV on
//     three consecutive readings, then again only after the trend breaks
//   - LOW_BATTERY, OVERCHARGE or POWER_NORMAL when the rail enters that band
//   - SOLAR_ACTIVE/INACTIVE and USB_CONNECTED/DISCONNECTED on edges
func (m *PowerMonitor) Check(ctx context.Context, st PowerState) []events.Code {
	m.mu.Lock()
	var out []events.Code

	v := st.Voltage5V
	if m.checked && v-m.previous < FallRateThreshold {
		m.falling++
		if m.falling == FallingTrendRequired {
			out = append(out, events.PowerFalling)
		}
	} else {
		m.falling = 0
	}
	m.previous = v

	band := events.PowerNormal
	switch {
	case v < VoltageLowThreshold:
		band = events.PowerLowBattery
	case v > VoltageOverchargeThreshold:
		band = events.PowerOvercharge
	}
	if band != m.band {
		m.band = band
		out = append(out, band)
	}

	if st.SolarCharging != m.solar {
		m.solar = st.SolarCharging
		if m.solar {
			out = append(out, events.PowerSolarActive)
		} else {
			out = append(out, events.PowerSolarInactive)
		}
	}

	if st.USBConnected != m.usb {
		m.usb = st.USBConnected
		if m.usb {
			out = append(out, events.PowerUSBConnected)
		} else {
			out = append(out, events.PowerUSBDisconnected)
		}
	}

	m.checked = true
	m.mu.Unlock()

	for _, c := range out {
		m.emit.Emit(ctx, c)
	}
	return out
}
