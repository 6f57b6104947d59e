// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package producers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kubisat/flightlink/pkg/events"
)

// Loop polls the sources on a ticker and feeds the monitors. It is the
// second execution context next to the link session.
type Loop struct {
	Interval time.Duration

	Power        PowerSource
	PowerMonitor *PowerMonitor
	GPS          GPSSource
	GPSMonitor   *GPSMonitor

	Emitter events.Emitter
	Logger  zerolog.Logger
}

// Run polls until ctx is cancelled. SYSTEM/CORE1_START is emitted on entry
// and SYSTEM/CORE1_STOP on exit.
func (l *Loop) Run(ctx context.Context) error {
	system := events.ForGroup(l.Emitter, events.GroupSystem)
	logger := l.Logger.With().Str("component", "producers").Logger()

	system.Emit(ctx, events.SystemCore1Start)
	logger.Info().Dur("interval", l.Interval).Msg("producer loop started")
	defer func() {
		// ctx is already cancelled here
		system.Emit(context.WithoutCancel(ctx), events.SystemCore1Stop)
		logger.Info().Msg("producer loop stopped")
	}()

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.poll(ctx, logger)
		}
	}
}

func (l *Loop) poll(ctx context.Context, logger zerolog.Logger) {
	if l.Power != nil && l.PowerMonitor != nil {
		st, err := l.Power.ReadPower(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("power read failed")
		} else {
			l.PowerMonitor.Check(ctx, st)
		}
	}

	if l.GPS != nil && l.GPSMonitor != nil && l.GPSMonitor.Powered() {
		fix, err := l.GPS.ReadFix(ctx)
		if err != nil {
			l.GPSMonitor.Fail(ctx, err)
			return
		}
		l.GPSMonitor.Update(ctx, fix)
	}
}
