// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package params

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"

	"github.com/kubisat/flightlink/pkg/command"
	"github.com/kubisat/flightlink/pkg/config"
	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/producers"
	"github.com/kubisat/flightlink/pkg/session"
)

// DefaultLastEvents is the number of records 5.1 returns without an argument
const DefaultLastEvents = 10

// ErrUnavailable is returned when a backing source cannot be read
var ErrUnavailable = errors.New("params: source unavailable")

// LinkStatser reports link statistics
type LinkStatser interface {
	Stats() session.Statistics
}

// Deps are the sources the catalog reads and writes. A nil source leaves
// its group out of the catalog.
type Deps struct {
	Build string
	// DeviceID defaults to the machine id hashed for this application
	DeviceID   func() (string, error)
	Link       LinkStatser
	Bootloader func() error

	Power producers.PowerSource
	Clock *producers.Clock
	GPS   *producers.GPSMonitor
	Log   *events.Log
}

// Register adds the catalog to reg
func Register(reg *command.Registry, d Deps) error {
	entries := diagnostics(reg, d)
	if d.Power != nil {
		entries = append(entries, power(d.Power)...)
	}
	if d.Clock != nil {
		entries = append(entries, clock(d.Clock)...)
	}
	if d.Log != nil {
		entries = append(entries, eventLog(d.Log)...)
	}
	if d.GPS != nil {
		entries = append(entries, gps(d.GPS)...)
	}
	return reg.RegisterAll(entries...)
}

func diagnostics(reg *command.Registry, d Deps) []command.Entry {
	deviceID := d.DeviceID
	if deviceID == nil {
		deviceID = func() (string, error) { return machineid.ProtectedID("kubisat") }
	}
	bootloader := d.Bootloader
	if bootloader == nil {
		bootloader = func() error { return fmt.Errorf("%w: no bootloader on this host", ErrUnavailable) }
	}

	entries := []command.Entry{
		{
			ID: CommandsList, Name: "commands_list",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: func() (kbst.Value, error) {
				all := reg.Entries()
				ids := make([]string, len(all))
				for i, e := range all {
					ids[i] = e.ID.String()
				}
				return kbst.Text(strings.Join(ids, ",")), nil
			},
		},
		{
			ID: BuildVersion, Name: "build_version",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitUndefined,
			Get: func() (kbst.Value, error) { return kbst.Undefined(d.Build), nil },
		},
		{
			ID: DeviceID, Name: "device_id",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: func() (kbst.Value, error) {
				id, err := deviceID()
				if err != nil {
					return kbst.Value{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				if len(id) > 16 {
					id = id[:16]
				}
				return kbst.Text(id), nil
			},
		},
		{
			ID: Verbosity, Name: "verbosity",
			Access: kbst.AccessReadWrite, Unit: kbst.UnitUndefined,
			Get: func() (kbst.Value, error) {
				return kbst.Undefined(strconv.Itoa(config.Verbosity())), nil
			},
			Set: func(v kbst.Value) (*kbst.Value, error) {
				level, err := strconv.Atoi(strings.TrimSpace(v.Text()))
				if err != nil {
					return nil, command.InvalidValue("verbosity %q is not a number", v.Text())
				}
				if err := config.SetVerbosity(level); err != nil {
					return nil, command.InvalidValue("%v", err)
				}
				out := kbst.Undefined(strconv.Itoa(level))
				return &out, nil
			},
		},
		{
			ID: EnterBootloader, Name: "enter_bootloader",
			Access: kbst.AccessWriteOnly,
			Action: bootloader,
		},
		{
			ID: EventNotice, Name: "event_notice",
			Access: kbst.AccessNone, Unit: kbst.UnitText,
		},
	}

	if d.Link != nil {
		entries = append(entries, command.Entry{
			ID: LinkStats, Name: "link_stats",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: func() (kbst.Value, error) {
				st := d.Link.Stats()
				return kbst.Text(st.Summary()), nil
			},
		})
	}
	return entries
}

func power(src producers.PowerSource) []command.Entry {
	read := func(pick func(producers.PowerState) float64, mk func(float64) kbst.Value) command.GetFunc {
		return func() (kbst.Value, error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			st, err := src.ReadPower(ctx)
			if err != nil {
				return kbst.Value{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return mk(pick(st)), nil
		}
	}

	entries := []command.Entry{
		{
			ID: BatteryVoltage, Name: "battery_voltage", Access: kbst.AccessReadOnly, Unit: kbst.UnitVolt,
			Get: read(func(s producers.PowerState) float64 { return s.BatteryVoltage }, kbst.Volts),
		},
		{
			ID: Voltage5V, Name: "voltage_5v", Access: kbst.AccessReadOnly, Unit: kbst.UnitVolt,
			Get: read(func(s producers.PowerState) float64 { return s.Voltage5V }, kbst.Volts),
		},
		{
			ID: ChargeCurrentUSB, Name: "charge_current_usb", Access: kbst.AccessReadOnly, Unit: kbst.UnitMiliamp,
			Get: read(func(s producers.PowerState) float64 { return s.ChargeCurrentUSB }, kbst.Miliamps),
		},
		{
			ID: ChargeCurrentSolar, Name: "charge_current_solar", Access: kbst.AccessReadOnly, Unit: kbst.UnitMiliamp,
			Get: read(func(s producers.PowerState) float64 { return s.ChargeCurrentSolar }, kbst.Miliamps),
		},
		{
			ID: ChargeCurrentTotal, Name: "charge_current_total", Access: kbst.AccessReadOnly, Unit: kbst.UnitMiliamp,
			Get: read(producers.PowerState.ChargeCurrentTotal, kbst.Miliamps),
		},
		{
			ID: CurrentDraw, Name: "current_draw", Access: kbst.AccessReadOnly, Unit: kbst.UnitMiliamp,
			Get: read(func(s producers.PowerState) float64 { return s.CurrentDraw }, kbst.Miliamps),
		},
	}

	if ider, ok := src.(producers.PowerIdentifier); ok {
		entries = append(entries, command.Entry{
			ID: PowerManagerIDs, Name: "power_manager_ids", Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: func() (kbst.Value, error) { return kbst.Text(ider.PowerManagerIDs()), nil },
		})
	}
	return entries
}

func clock(c *producers.Clock) []command.Entry {
	return []command.Entry{
		{
			ID: Time, Name: "time",
			Access: kbst.AccessReadWrite, Unit: kbst.UnitDatetime,
			Get: func() (kbst.Value, error) { return kbst.Datetime(c.Now()), nil },
			Set: func(v kbst.Value) (*kbst.Value, error) {
				if err := c.Set(context.Background(), v.Time()); err != nil {
					return nil, command.InvalidValue("%v", err)
				}
				out := kbst.Datetime(c.Now())
				return &out, nil
			},
		},
		{
			ID: TimezoneOffset, Name: "timezone_offset",
			Access: kbst.AccessReadWrite, Unit: kbst.UnitUndefined,
			Get: func() (kbst.Value, error) {
				return kbst.Undefined(strconv.Itoa(c.TimezoneOffset())), nil
			},
			Set: func(v kbst.Value) (*kbst.Value, error) {
				minutes, err := strconv.Atoi(strings.TrimSpace(v.Text()))
				if err != nil {
					return nil, command.InvalidValue("timezone offset %q is not a number", v.Text())
				}
				if err := c.SetTimezoneOffset(minutes); err != nil {
					return nil, command.InvalidValue("%v", err)
				}
				return nil, nil
			},
		},
		{
			ID: ClockSyncInterval, Name: "clock_sync_interval",
			Access: kbst.AccessReadWrite, Unit: kbst.UnitSecond,
			Get: func() (kbst.Value, error) { return kbst.Seconds(c.SyncInterval().Seconds()), nil },
			Set: func(v kbst.Value) (*kbst.Value, error) {
				d := time.Duration(v.Number() * float64(time.Second))
				if err := c.SetSyncInterval(d); err != nil {
					return nil, command.InvalidValue("%v", err)
				}
				return nil, nil
			},
		},
		{
			ID: LastSyncTime, Name: "last_sync_time",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitDatetime,
			Get: func() (kbst.Value, error) {
				t, err := c.LastSync()
				if err != nil {
					return kbst.Value{}, err
				}
				return kbst.Datetime(t), nil
			},
		},
	}
}

func eventLog(log *events.Log) []command.Entry {
	latest := func(n int) kbst.Value {
		recs := log.Latest(n)
		parts := make([]string, len(recs))
		for i, r := range recs {
			parts[len(recs)-1-i] = r.Compact() // newest first
		}
		return kbst.Text(strings.Join(parts, "-"))
	}

	return []command.Entry{
		{
			ID: LastEvents, Name: "last_events",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: func() (kbst.Value, error) {
				return latest(min(DefaultLastEvents, log.Capacity())), nil
			},
			Query: func(arg kbst.Value) (kbst.Value, error) {
				n, err := strconv.Atoi(strings.TrimSpace(arg.Format()))
				if err != nil {
					return kbst.Value{}, command.InvalidValue("count %q is not a number", arg.Format())
				}
				if n < 1 || n > log.Capacity() {
					return kbst.Value{}, command.InvalidValue("count %d outside 1..%d", n, log.Capacity())
				}
				return latest(n), nil
			},
		},
		{
			ID: EventCount, Name: "event_count",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitUndefined,
			Get: func() (kbst.Value, error) { return kbst.Undefined(strconv.Itoa(log.Len())), nil },
		},
		{
			ID: EventOverflows, Name: "event_overflows",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitUndefined,
			Get: func() (kbst.Value, error) {
				return kbst.Undefined(strconv.FormatUint(log.Overflows(), 10)), nil
			},
		},
		{
			ID: EventsSince, Name: "events_since",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Query: func(arg kbst.Value) (kbst.Value, error) {
				seq, err := strconv.ParseUint(strings.TrimSpace(arg.Format()), 10, 64)
				if err != nil {
					return kbst.Value{}, command.InvalidValue("sequence %q is not a number", arg.Format())
				}
				recs, lost := log.ReadSince(seq)
				parts := make([]string, len(recs))
				for i, r := range recs {
					parts[i] = r.Compact()
				}
				text := strings.Join(parts, "-")
				if lost {
					text = "!" + text
				}
				return kbst.Text(text), nil
			},
		},
	}
}

func gps(m *producers.GPSMonitor) []command.Entry {
	return []command.Entry{
		{
			ID: GPSPower, Name: "gps_power",
			Access: kbst.AccessReadWrite, Unit: kbst.UnitBool,
			Get: func() (kbst.Value, error) { return kbst.Bool(m.Powered()), nil },
			Set: func(v kbst.Value) (*kbst.Value, error) {
				m.SetPower(context.Background(), v.Bool())
				return nil, nil
			},
		},
		{
			ID: GPSRMC, Name: "gps_rmc",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: lastFix(m, producers.Fix.RMC),
		},
		{
			ID: GPSGGA, Name: "gps_gga",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitText,
			Get: lastFix(m, producers.Fix.GGA),
		},
		{
			ID: GPSLock, Name: "gps_lock",
			Access: kbst.AccessReadOnly, Unit: kbst.UnitBool,
			Get: func() (kbst.Value, error) { return kbst.Bool(m.Locked()), nil },
		},
	}
}

// lastFix renders the most recent valid fix, failing until there is one
func lastFix(m *producers.GPSMonitor, render func(producers.Fix) string) func() (kbst.Value, error) {
	return func() (kbst.Value, error) {
		fix, ok := m.LastFix()
		if !ok {
			return kbst.Value{}, producers.ErrNoFix
		}
		return kbst.Text(render(fix)), nil
	}
}
