// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/command"
	"github.com/kubisat/flightlink/pkg/config"
	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/params"
	"github.com/kubisat/flightlink/pkg/producers"
	"github.com/kubisat/flightlink/pkg/session"
	"github.com/kubisat/flightlink/pkg/storage"
	"github.com/kubisat/flightlink/pkg/telemetry"
)

var (
	flyStatusInterval time.Duration
	flySeed           int64
)

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Run the flight side of the link",
	Long: `Run the flight computer runtime on the configured link.

Startup order:
  config, logger, storage, event log and manager, parameter catalog,
  link session, event subscribers (storage, link INF, MQTT), producers.

The link session answers GET/SET requests and pushes every event record as
an INF notice on parameter 5.0. Records are also written to the storage
database and, when telemetry.mqtt_url is set, published to MQTT.

With power.simulate (the default) the power manager and GPS receiver are
simulated. On SIGINT/SIGTERM the producers stop, SYSTEM/SHUTDOWN is
recorded, subscribers are flushed and storage is closed.`,
	RunE: runFly,
}

func init() {
	rootCmd.AddCommand(flyCmd)
	flyCmd.Flags().DurationVar(&flyStatusInterval, "status-interval", 10*time.Second, "MQTT link status publish interval")
	flyCmd.Flags().Int64Var(&flySeed, "seed", 0, "Simulator seed (0 picks one from the clock)")
}

// flight is the assembled runtime
type flight struct {
	cfg    config.Config
	logger zerolog.Logger

	store     *storage.Store
	clock     *producers.Clock
	manager   *events.Manager
	emitter   *events.ManagerEmitter
	registry  *command.Registry
	session   *session.Session
	forwarder *telemetry.Forwarder
	loop      *producers.Loop
}

func runFly(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := assembleFlight(ctx, cfg, logger)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		f.shutdown()
		return err
	}
	f.logger.Info().Str("link", connInfo).Str("build", Build).Msg("flight runtime started")

	runErr := f.run(ctx, conn)
	f.shutdown()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func assembleFlight(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*flight, error) {
	f := &flight{cfg: cfg, logger: logger}

	if cfg.Storage.Path != "" {
		store, err := storage.Open(storage.Config{Path: cfg.Storage.Path}, logger)
		if err != nil {
			return nil, err
		}
		f.store = store
		f.logger = logger.Hook(storage.NewLogHook(store, "kubisat"))
	}

	f.clock = producers.NewClock(nil)
	log := events.NewLog(cfg.Events.BufferSize)
	f.manager = events.NewManager(log, f.logger, events.WithClock(f.clock.Now))
	f.emitter = events.NewEmitter(f.manager, f.logger)
	f.clock.Bind(f.emitter)

	mode, err := session.ParseMode(cfg.Link.Mode)
	if err != nil {
		f.shutdown()
		return nil, err
	}

	f.registry = command.NewRegistry(f.logger)
	f.session = session.New(f.registry, session.Config{
		Mode:      mode,
		InfoQueue: cfg.Link.InfoQueue,
		NoticeID:  params.EventNotice,
		Names:     f.registry.Name,
	}, f.logger)

	gps := producers.NewGPSMonitor(f.emitter, f.clock, f.logger)
	f.loop = &producers.Loop{
		Interval:     cfg.Power.PollInterval.Duration,
		PowerMonitor: producers.NewPowerMonitor(f.emitter),
		GPSMonitor:   gps,
		Emitter:      f.emitter,
		Logger:       f.logger,
	}

	deps := params.Deps{
		Build: Build,
		Link:  f.session,
		Clock: f.clock,
		GPS:   gps,
		Log:   log,
	}
	if cfg.Power.Simulate {
		seed := flySeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		sim := producers.NewSimulator(seed, f.clock.Now)
		deps.Power = sim
		f.loop.Power, f.loop.GPS = sim, sim
	}
	if err := params.Register(f.registry, deps); err != nil {
		f.shutdown()
		return nil, fmt.Errorf("register parameters: %w", err)
	}
	f.logger.Debug().Int("parameters", f.registry.Len()).Msg("catalog registered")

	if f.store != nil {
		f.manager.Subscribe("storage", events.AnyGroup, storage.NewEventSink(f.store, cfg.Events.FlushThreshold, f.logger))
	}
	f.manager.Subscribe("link", events.AnyGroup, f.session)

	if cfg.Telemetry.MQTTURL != "" {
		clientID, err := machineid.ProtectedID("kubisat")
		if err != nil || len(clientID) < 12 {
			clientID = "kubisat"
		} else {
			clientID = "kubisat-" + clientID[:12]
		}

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		forwarder, err := telemetry.Dial(dialCtx, cfg.Telemetry.MQTTURL, cfg.Telemetry.TopicPrefix, clientID, f.logger)
		cancel()
		if err != nil {
			// the link is more important than the uplink
			f.logger.Error().Err(err).Msg("telemetry disabled")
		} else {
			f.forwarder = forwarder
			f.manager.Subscribe("telemetry", events.AnyGroup, forwarder)
		}
	}

	f.emitter.Emit(ctx, events.GroupSystem, events.SystemBoot)
	return f, nil
}

// run drives the producers and the link session until ctx is cancelled or
// the link fails
func (f *flight) run(ctx context.Context, conn Connection) error {
	prodCtx, stopProducers := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.loop.Run(prodCtx); err != nil {
			f.logger.Error().Err(err).Msg("producer loop failed")
		}
	}()

	if f.forwarder != nil && flyStatusInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.publishStatus(prodCtx)
		}()
	}

	sessCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	err := f.session.Run(sessCtx, session.NewStreamTransport(conn))
	cancelSession()
	// unblocks the session's pending Receive
	conn.Close()

	stopProducers()
	wg.Wait()
	return err
}

func (f *flight) publishStatus(ctx context.Context) {
	ticker := time.NewTicker(flyStatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := f.session.Stats()
			f.forwarder.PublishStatus("link", st.Summary())
			f.forwarder.PublishStatus("events", fmt.Sprintf("count=%d overflows=%d",
				f.manager.Log().Len(), f.manager.Log().Overflows()))
		}
	}
}

// shutdown records SHUTDOWN, flushes and closes the subscribers through the
// manager, then closes storage. It tolerates a partially assembled flight.
func (f *flight) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if f.manager != nil {
		f.emitter.Emit(ctx, events.GroupSystem, events.SystemShutdown)
		if err := f.manager.Close(ctx); err != nil {
			f.logger.Error().Err(err).Msg("event manager close")
		}
	}
	if f.session != nil {
		st := f.session.Stats()
		f.logger.Info().Str("stats", st.Summary()).Msg("link session closed")
	}
	if f.store != nil {
		if err := f.store.Close(); err != nil {
			f.logger.Error().Err(err).Msg("storage close")
		}
	}
}
