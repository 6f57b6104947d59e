// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubisat.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[link]
port = " /dev/ttyACM0 "
mode = "lenient"

[events]
buffer_size = 32

[telemetry]
mqtt_url = "tcp://localhost:1883"

[power]
poll_interval = "250ms"
simulate = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Link.Port)
	require.Equal(t, "lenient", cfg.Link.Mode)
	require.Equal(t, 115200, cfg.Link.Baud, "unset keys keep their defaults")
	require.Equal(t, 32, cfg.Events.BufferSize)
	require.Equal(t, 8, cfg.Events.FlushThreshold)
	require.Equal(t, "tcp://localhost:1883", cfg.Telemetry.MQTTURL)
	require.Equal(t, 250*time.Millisecond, cfg.Power.PollInterval.Duration)
	require.False(t, cfg.Power.Simulate)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[link]
baudrate = 9600
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "link.baudrate")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
[power]
poll_interval = "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"port and url", func(c *Config) { c.Link.Port = "/dev/ttyUSB0"; c.Link.URL = "ws://host/link" }, "mutually exclusive"},
		{"bad mode", func(c *Config) { c.Link.Mode = "loose" }, "link.mode"},
		{"http url", func(c *Config) { c.Link.URL = "http://host" }, "link.url"},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, "events.buffer_size"},
		{"zero threshold", func(c *Config) { c.Events.FlushThreshold = 0 }, "events.flush_threshold"},
		{"verbosity", func(c *Config) { c.Log.Level = 6 }, "log.level"},
		{"poll interval", func(c *Config) { c.Power.PollInterval = Duration{} }, "power.poll_interval"},
		{"info queue", func(c *Config) { c.Link.InfoQueue = 0 }, "link.info_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestVerbosity(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	for v := VerbositySilent; v <= VerbosityEvent; v++ {
		require.NoError(t, SetVerbosity(v))
		require.Equal(t, v, Verbosity())
	}

	require.Error(t, SetVerbosity(-1))
	require.Error(t, SetVerbosity(6))

	level, err := VerbosityLevel(VerbosityWarning)
	require.NoError(t, err)
	require.Equal(t, zerolog.WarnLevel, level)
}

func TestNewLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: VerbosityWarning, NoColor: true})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "app=kubisat")

	_, err = NewLogger(&buf, LogConfig{Level: 9})
	require.Error(t, err)
}
