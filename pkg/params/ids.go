// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package params is the flight computer's parameter catalog: the command
// table the ground station addresses by group and command number.
package params

import "github.com/kubisat/flightlink/pkg/kbst"

// Diagnostics (group 1)
var (
	CommandsList    = kbst.NewParameterID(1, 0)
	BuildVersion    = kbst.NewParameterID(1, 1)
	DeviceID        = kbst.NewParameterID(1, 2)
	LinkStats       = kbst.NewParameterID(1, 3)
	Verbosity       = kbst.NewParameterID(1, 8)
	EnterBootloader = kbst.NewParameterID(1, 9)
)

// Power (group 2)
var (
	PowerManagerIDs    = kbst.NewParameterID(2, 0)
	BatteryVoltage     = kbst.NewParameterID(2, 2)
	Voltage5V          = kbst.NewParameterID(2, 3)
	ChargeCurrentUSB   = kbst.NewParameterID(2, 4)
	ChargeCurrentSolar = kbst.NewParameterID(2, 5)
	ChargeCurrentTotal = kbst.NewParameterID(2, 6)
	CurrentDraw        = kbst.NewParameterID(2, 7)
)

// Clock (group 3)
var (
	Time              = kbst.NewParameterID(3, 0)
	TimezoneOffset    = kbst.NewParameterID(3, 1)
	ClockSyncInterval = kbst.NewParameterID(3, 2)
	LastSyncTime      = kbst.NewParameterID(3, 3)
)

// Events (group 5)
var (
	EventNotice    = kbst.NewParameterID(5, 0)
	LastEvents     = kbst.NewParameterID(5, 1)
	EventCount     = kbst.NewParameterID(5, 2)
	EventOverflows = kbst.NewParameterID(5, 3)
	EventsSince    = kbst.NewParameterID(5, 4)
)

// GPS (group 7)
var (
	GPSPower = kbst.NewParameterID(7, 1)
	GPSRMC   = kbst.NewParameterID(7, 3)
	GPSGGA   = kbst.NewParameterID(7, 4)
	GPSLock  = kbst.NewParameterID(7, 5)
)
