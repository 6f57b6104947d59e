// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/kubisat/flightlink/pkg/command"
	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/params"
	"github.com/kubisat/flightlink/pkg/producers"
	"github.com/kubisat/flightlink/pkg/session"
)

var (
	groundCatalogOnce sync.Once
	groundCatalog     *command.Registry
)

type noLink struct{}

func (noLink) Stats() session.Statistics { return session.Statistics{} }

// catalogNames resolves parameter names for ground tools. The full catalog
// is registered against idle sources; handlers are never called.
func catalogNames() kbst.NameFunc {
	groundCatalogOnce.Do(func() {
		groundCatalog = command.NewRegistry(zerolog.Nop())
		clock := producers.NewClock(nil)
		_ = params.Register(groundCatalog, params.Deps{
			Build: Build,
			Link:  noLink{},
			Power: producers.NewSimulator(0, nil),
			Clock: clock,
			GPS:   producers.NewGPSMonitor(nil, clock, zerolog.Nop()),
			Log:   events.NewLog(events.DefaultCapacity),
		})
	})
	return groundCatalog.Name
}
