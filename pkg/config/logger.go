// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Verbosity levels, numbered as the flight computer numbers them
const (
	VerbositySilent = iota
	VerbosityError
	VerbosityWarning
	VerbosityInfo
	VerbosityDebug
	VerbosityEvent
)

var verbosityLevels = [...]zerolog.Level{
	VerbositySilent:  zerolog.Disabled,
	VerbosityError:   zerolog.ErrorLevel,
	VerbosityWarning: zerolog.WarnLevel,
	VerbosityInfo:    zerolog.InfoLevel,
	VerbosityDebug:   zerolog.DebugLevel,
	VerbosityEvent:   zerolog.TraceLevel,
}

// VerbosityLevel maps a verbosity to its zerolog level
func VerbosityLevel(v int) (zerolog.Level, error) {
	if v < VerbositySilent || v > VerbosityEvent {
		return zerolog.NoLevel, fmt.Errorf("verbosity %d out of range 0-5", v)
	}
	return verbosityLevels[v], nil
}

// Verbosity returns the verbosity matching the global zerolog level
func Verbosity() int {
	level := zerolog.GlobalLevel()
	for v, l := range verbosityLevels {
		if l == level {
			return v
		}
	}
	if level > zerolog.ErrorLevel {
		return VerbosityError
	}
	return VerbosityEvent
}

// SetVerbosity changes the global log level at runtime
func SetVerbosity(v int) error {
	level, err := VerbosityLevel(v)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// NewLogger builds the console logger and applies the verbosity globally
func NewLogger(out io.Writer, cfg LogConfig) (zerolog.Logger, error) {
	if err := SetVerbosity(cfg.Level); err != nil {
		return zerolog.Nop(), err
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
	return zerolog.New(output).With().Timestamp().Str("app", "kubisat").Logger(), nil
}
