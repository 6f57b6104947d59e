// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"time"

	"github.com/rs/zerolog"
)

// LogHook mirrors warning and error log lines into the store
type LogHook struct {
	store  *Store
	source string
}

// NewLogHook returns a zerolog hook tagging entries with source
func NewLogHook(store *Store, source string) *LogHook {
	return &LogHook{store: store, source: source}
}

// Run implements zerolog.Hook
func (h *LogHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	l, ok := levelFromZerolog(level)
	if !ok || l > LevelWarning {
		return
	}
	_ = h.store.LogToStorage(Entry{
		Time:    time.Now(),
		Level:   l,
		Source:  h.source,
		Message: msg,
	})
}

func levelFromZerolog(level zerolog.Level) (Level, bool) {
	switch level {
	case zerolog.PanicLevel, zerolog.FatalLevel, zerolog.ErrorLevel:
		return LevelError, true
	case zerolog.WarnLevel:
		return LevelWarning, true
	case zerolog.InfoLevel:
		return LevelInfo, true
	case zerolog.DebugLevel:
		return LevelDebug, true
	case zerolog.TraceLevel:
		return LevelEvent, true
	default:
		return LevelSilent, false
	}
}
