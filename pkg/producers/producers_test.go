// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package producers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kubisat/flightlink/pkg/events"
)

type emitted struct {
	group events.Group
	code  events.Code
}

// recordingEmitter collects every emit
type recordingEmitter struct {
	mu  sync.Mutex
	got []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, g events.Group, c events.Code) {
	r.mu.Lock()
	r.got = append(r.got, emitted{g, c})
	r.mu.Unlock()
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.got...)
}

func rail(v float64) PowerState {
	return PowerState{Voltage5V: v}
}

func TestPowerMonitor_Bands(t *testing.T) {
	rec := &recordingEmitter{}
	m := NewPowerMonitor(rec)
	ctx := context.Background()

	require.Equal(t, []events.Code{events.PowerNormal}, m.Check(ctx, rail(5.0)))
	require.Empty(t, m.Check(ctx, rail(5.01)), "no event while the band is unchanged")
	require.Equal(t, []events.Code{events.PowerOvercharge}, m.Check(ctx, rail(5.4)))
	require.Equal(t, []events.Code{events.PowerNormal}, m.Check(ctx, rail(5.3)), "5.3 V is still normal")
	require.Equal(t, []events.Code{events.PowerLowBattery}, m.Check(ctx, rail(4.69)))
	require.Empty(t, m.Check(ctx, rail(4.68)))
	require.Equal(t, []events.Code{events.PowerNormal}, m.Check(ctx, rail(4.7)), "4.7 V is still normal")

	for _, e := range rec.all() {
		require.Equal(t, events.GroupPower, e.group)
	}
	require.Len(t, rec.all(), 5)
}

func TestPowerMonitor_FallingTrend(t *testing.T) {
	m := NewPowerMonitor(&recordingEmitter{})
	ctx := context.Background()

	m.Check(ctx, rail(5.2))
	require.Empty(t, m.Check(ctx, rail(5.17)))
	require.Empty(t, m.Check(ctx, rail(5.14)))
	require.Equal(t, []events.Code{events.PowerFalling}, m.Check(ctx, rail(5.11)))
	require.Empty(t, m.Check(ctx, rail(5.08)), "fires once per trend")

	require.Empty(t, m.Check(ctx, rail(5.075)), "a 5 mV drop breaks the trend")
	m.Check(ctx, rail(5.04))
	m.Check(ctx, rail(5.01))
	require.Equal(t, []events.Code{events.PowerFalling}, m.Check(ctx, rail(4.98)))
}

func TestPowerMonitor_FallingIntoLowBattery(t *testing.T) {
	m := NewPowerMonitor(&recordingEmitter{})
	ctx := context.Background()

	m.Check(ctx, rail(4.8))
	m.Check(ctx, rail(4.77))
	m.Check(ctx, rail(4.74))
	require.Equal(t, []events.Code{events.PowerFalling, events.PowerLowBattery}, m.Check(ctx, rail(4.69)))
}

func TestPowerMonitor_Edges(t *testing.T) {
	m := NewPowerMonitor(&recordingEmitter{})
	ctx := context.Background()

	m.Check(ctx, rail(5.0))
	require.Equal(t, []events.Code{events.PowerSolarActive},
		m.Check(ctx, PowerState{Voltage5V: 5.0, SolarCharging: true}))
	require.Equal(t, []events.Code{events.PowerUSBConnected},
		m.Check(ctx, PowerState{Voltage5V: 5.0, SolarCharging: true, USBConnected: true}))
	require.Equal(t, []events.Code{events.PowerSolarInactive, events.PowerUSBDisconnected},
		m.Check(ctx, PowerState{Voltage5V: 5.0}))
}

func TestPowerMonitor_LowBatteryReachesSubscriber(t *testing.T) {
	mgr := events.NewManager(events.NewLog(events.DefaultCapacity), zerolog.Nop())
	var got []events.Record
	mgr.Subscribe("power", events.Groups(events.GroupPower), events.SubscriberFunc(
		func(_ context.Context, rec events.Record) error {
			got = append(got, rec)
			return nil
		}))

	m := NewPowerMonitor(events.NewEmitter(mgr, zerolog.Nop()))
	m.Check(context.Background(), rail(4.5))

	require.Len(t, got, 1)
	require.Equal(t, events.PowerLowBattery, got[0].Code)
	require.Equal(t, uint64(1), got[0].Seq)
}

func TestClock(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &recordingEmitter{}
	c := NewClock(func() time.Time { return base })
	c.Bind(rec)
	ctx := context.Background()

	require.Equal(t, base, c.Now())

	target := base.Add(36 * time.Hour)
	require.NoError(t, c.Set(ctx, target))
	require.Equal(t, target, c.Now())
	require.Error(t, c.Set(ctx, time.Unix(0, 0)))

	_, err := c.LastSync()
	require.ErrorIs(t, err, ErrNeverSynced)
	require.True(t, c.SyncDue())

	require.NoError(t, c.SyncFromGPS(ctx, base))
	last, err := c.LastSync()
	require.NoError(t, err)
	require.Equal(t, base, last)
	require.False(t, c.SyncDue())

	require.Equal(t, []emitted{
		{events.GroupClock, events.ClockChanged},
		{events.GroupClock, events.ClockGPSSync},
	}, rec.all())

	require.NoError(t, c.SetTimezoneOffset(-720))
	require.Equal(t, -720, c.TimezoneOffset())
	require.Error(t, c.SetTimezoneOffset(721))

	require.NoError(t, c.SetSyncInterval(time.Minute))
	require.Equal(t, time.Minute, c.SyncInterval())
	require.Error(t, c.SetSyncInterval(0))
}

func TestClock_UnboundDoesNotEmit(t *testing.T) {
	c := NewClock(nil)
	require.NoError(t, c.Set(context.Background(), time.Unix(1700000000, 0)))
}

func TestGPSMonitor(t *testing.T) {
	rec := &recordingEmitter{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClock(func() time.Time { return now })
	clock.Bind(rec)
	m := NewGPSMonitor(rec, clock, zerolog.Nop())
	ctx := context.Background()

	require.Empty(t, m.Update(ctx, Fix{}))
	require.False(t, m.Locked())

	fixTime := now.Add(5 * time.Second)
	require.Equal(t, []events.Code{events.GPSLock, events.GPSDataReady},
		m.Update(ctx, Fix{Valid: true, Time: fixTime, Latitude: 1}))
	require.True(t, m.Locked())
	require.Equal(t, fixTime, clock.Now())

	require.Equal(t, []events.Code{events.GPSDataReady},
		m.Update(ctx, Fix{Valid: true, Time: fixTime.Add(time.Second)}))
	require.Equal(t, []events.Code{events.GPSLost}, m.Update(ctx, Fix{}))

	last, ok := m.LastFix()
	require.True(t, ok)
	require.Equal(t, fixTime.Add(time.Second), last.Time)

	syncs := 0
	for _, e := range rec.all() {
		if e.group == events.GroupClock && e.code == events.ClockGPSSync {
			syncs++
		}
	}
	require.Equal(t, 1, syncs, "second fix falls inside the sync interval")
}

func TestFix_NMEA(t *testing.T) {
	fix := Fix{
		Valid:      true,
		Time:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Latitude:   -33.5,
		Longitude:  151.25,
		Satellites: 11,
		Altitude:   3,
	}
	require.Equal(t, "000000,3330.0000,S,15115.0000,E,0.0,010126", fix.RMC())
	require.Equal(t, "000000,3330.0000,S,15115.0000,E,1,11,3.0", fix.GGA())
}

func TestGPSMonitor_Power(t *testing.T) {
	rec := &recordingEmitter{}
	m := NewGPSMonitor(rec, nil, zerolog.Nop())
	ctx := context.Background()

	m.Update(ctx, Fix{Valid: true})
	m.SetPower(ctx, false)
	require.False(t, m.Powered())
	require.False(t, m.Locked())
	require.Nil(t, m.Update(ctx, Fix{Valid: true}), "ignored while powered off")

	m.SetPower(ctx, true)
	m.Fail(ctx, errors.New("uart overrun"))

	require.Equal(t, []emitted{
		{events.GroupGPS, events.GPSLock},
		{events.GroupGPS, events.GPSDataReady},
		{events.GroupGPS, events.GPSPowerOff},
		{events.GroupGPS, events.GPSPowerOn},
		{events.GroupGPS, events.GPSError},
	}, rec.all())
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator(1, nil)
	ctx := context.Background()

	sawLow, sawSolar := false, false
	for i := 0; i < 240; i++ {
		st, err := sim.ReadPower(ctx)
		require.NoError(t, err)
		if st.Voltage5V < VoltageLowThreshold {
			sawLow = true
		}
		if st.SolarCharging {
			sawSolar = true
			require.Positive(t, st.ChargeCurrentTotal())
		}
	}
	require.True(t, sawLow)
	require.True(t, sawSolar)

	fix, err := sim.ReadFix(ctx)
	require.NoError(t, err)
	require.True(t, fix.Valid)
}

func TestLoop_EmitsCoreStartAndStop(t *testing.T) {
	rec := &recordingEmitter{}
	sim := NewSimulator(7, nil)
	loop := &Loop{
		Interval:     time.Millisecond,
		Power:        sim,
		PowerMonitor: NewPowerMonitor(rec),
		GPS:          sim,
		GPSMonitor:   NewGPSMonitor(rec, nil, zerolog.Nop()),
		Emitter:      rec,
		Logger:       zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	got := rec.all()
	require.NotEmpty(t, got)
	require.Equal(t, emitted{events.GroupSystem, events.SystemCore1Start}, got[0])
	require.Equal(t, emitted{events.GroupSystem, events.SystemCore1Stop}, got[len(got)-1])
}
