// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package events implements the flight computer's event bus: a bounded,
// ordered log of subsystem events and the manager that fans them out to
// subscribers such as storage, telemetry and the ground link.
package events

import (
	"fmt"
	"strconv"
	"time"
)

// Group is the coarse event class
type Group uint8

// Event groups
const (
	GroupSystem Group = iota
	GroupPower
	GroupComms
	GroupGPS
	GroupClock
)

// AllGroups lists every known group in numeric order
var AllGroups = []Group{GroupSystem, GroupPower, GroupComms, GroupGPS, GroupClock}

// String returns the group name
func (g Group) String() string {
	switch g {
	case GroupSystem:
		return "SYSTEM"
	case GroupPower:
		return "POWER"
	case GroupComms:
		return "COMMS"
	case GroupGPS:
		return "GPS"
	case GroupClock:
		return "CLOCK"
	default:
		return fmt.Sprintf("GROUP(%d)", uint8(g))
	}
}

// Code is a group-specific event number
type Code uint8

// System events
const (
	SystemBoot          Code = 1
	SystemShutdown      Code = 2
	SystemWatchdogReset Code = 3
	SystemCore1Start    Code = 4
	SystemCore1Stop     Code = 5
)

// Power events
const (
	PowerLowBattery      Code = 1
	PowerOvercharge      Code = 2
	PowerFalling         Code = 3
	PowerNormal          Code = 4
	PowerSolarActive     Code = 5
	PowerSolarInactive   Code = 6
	PowerUSBConnected    Code = 7
	PowerUSBDisconnected Code = 8
)

// Comms events
const (
	CommsRadioInit   Code = 1
	CommsRadioError  Code = 2
	CommsMsgReceived Code = 3
	CommsMsgSent     Code = 4
	CommsUARTError   Code = 6
)

// GPS events
const (
	GPSLock             Code = 1
	GPSLost             Code = 2
	GPSError            Code = 3
	GPSPowerOn          Code = 4
	GPSPowerOff         Code = 5
	GPSDataReady        Code = 6
	GPSPassThroughStart Code = 7
	GPSPassThroughEnd   Code = 8
)

// Clock events
const (
	ClockChanged Code = 1
	ClockGPSSync Code = 2
)

var codeNames = map[Group]map[Code]string{
	GroupSystem: {
		SystemBoot:          "BOOT",
		SystemShutdown:      "SHUTDOWN",
		SystemWatchdogReset: "WATCHDOG_RESET",
		SystemCore1Start:    "CORE1_START",
		SystemCore1Stop:     "CORE1_STOP",
	},
	GroupPower: {
		PowerLowBattery:      "LOW_BATTERY",
		PowerOvercharge:      "OVERCHARGE",
		PowerFalling:         "POWER_FALLING",
		PowerNormal:          "POWER_NORMAL",
		PowerSolarActive:     "SOLAR_ACTIVE",
		PowerSolarInactive:   "SOLAR_INACTIVE",
		PowerUSBConnected:    "USB_CONNECTED",
		PowerUSBDisconnected: "USB_DISCONNECTED",
	},
	GroupComms: {
		CommsRadioInit:   "RADIO_INIT",
		CommsRadioError:  "RADIO_ERROR",
		CommsMsgReceived: "MSG_RECEIVED",
		CommsMsgSent:     "MSG_SENT",
		CommsUARTError:   "UART_ERROR",
	},
	GroupGPS: {
		GPSLock:             "LOCK",
		GPSLost:             "LOST",
		GPSError:            "ERROR",
		GPSPowerOn:          "POWER_ON",
		GPSPowerOff:         "POWER_OFF",
		GPSDataReady:        "DATA_READY",
		GPSPassThroughStart: "PASS_THROUGH_START",
		GPSPassThroughEnd:   "PASS_THROUGH_END",
	},
	GroupClock: {
		ClockChanged: "CHANGED",
		ClockGPSSync: "GPS_SYNC",
	},
}

// CodeName returns the name of a code within its group
func CodeName(g Group, c Code) string {
	if name, ok := codeNames[g][c]; ok {
		return name
	}
	return fmt.Sprintf("EVENT(%d)", uint8(c))
}

// Known reports whether the code is defined for the group
func Known(g Group, c Code) bool {
	_, ok := codeNames[g][c]
	return ok
}

// Record is one appended event. Records are immutable once appended.
type Record struct {
	Seq   uint64
	Time  time.Time
	Group Group
	Code  Code
}

// Name returns "GROUP/CODE"
func (r Record) Name() string {
	return r.Group.String() + "/" + CodeName(r.Group, r.Code)
}

// String renders the record for logs
func (r Record) String() string {
	return fmt.Sprintf("#%d %s %s", r.Seq, r.Time.UTC().Format(time.RFC3339), r.Name())
}

// Compact renders the record as SSSSSSSSTTTTTTTTGGEE: 32-bit sequence,
// 32-bit unix time, group and code, in uppercase hex.
func (r Record) Compact() string {
	return fmt.Sprintf("%08X%08X%02X%02X", uint32(r.Seq), uint32(r.Time.Unix()), uint8(r.Group), uint8(r.Code))
}

// ParseCompact parses the form produced by Compact. Sequence numbers are
// only recovered modulo 2^32.
func ParseCompact(s string) (Record, error) {
	if len(s) != 20 {
		return Record{}, fmt.Errorf("compact record %q: expected 20 hex digits", s)
	}
	seq, err := strconv.ParseUint(s[0:8], 16, 32)
	if err != nil {
		return Record{}, fmt.Errorf("compact record %q: sequence: %w", s, err)
	}
	ts, err := strconv.ParseUint(s[8:16], 16, 32)
	if err != nil {
		return Record{}, fmt.Errorf("compact record %q: time: %w", s, err)
	}
	group, err := strconv.ParseUint(s[16:18], 16, 8)
	if err != nil {
		return Record{}, fmt.Errorf("compact record %q: group: %w", s, err)
	}
	code, err := strconv.ParseUint(s[18:20], 16, 8)
	if err != nil {
		return Record{}, fmt.Errorf("compact record %q: code: %w", s, err)
	}
	return Record{
		Seq:   seq,
		Time:  time.Unix(int64(ts), 0).UTC(),
		Group: Group(group),
		Code:  Code(code),
	}, nil
}
