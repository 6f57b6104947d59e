// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the kubisat TOML configuration and builds the
// process logger.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration read from a TOML string such as "2s"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LinkConfig selects and tunes the ground link
type LinkConfig struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	NoSSLVerify bool   `toml:"no_ssl_verify"`
	Mode        string `toml:"mode"`
	InfoQueue   int    `toml:"info_queue"`
}

// EventsConfig sizes the event log and its storage sink
type EventsConfig struct {
	BufferSize     int `toml:"buffer_size"`
	FlushThreshold int `toml:"flush_threshold"`
}

// StorageConfig locates the block database. An empty path disables storage.
type StorageConfig struct {
	Path string `toml:"path"`
}

// TelemetryConfig configures the MQTT forwarder. An empty URL disables it.
type TelemetryConfig struct {
	MQTTURL     string `toml:"mqtt_url"`
	TopicPrefix string `toml:"topic_prefix"`
}

// LogConfig sets the initial verbosity (0 silent .. 5 event)
type LogConfig struct {
	Level   int  `toml:"level"`
	NoColor bool `toml:"no_color"`
}

// PowerConfig drives the power producer loop
type PowerConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	Simulate     bool     `toml:"simulate"`
}

// Config is the whole file
type Config struct {
	Link      LinkConfig      `toml:"link"`
	Events    EventsConfig    `toml:"events"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
	Power     PowerConfig     `toml:"power"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Link: LinkConfig{
			Baud:      115200,
			Mode:      "strict",
			InfoQueue: 32,
		},
		Events: EventsConfig{
			BufferSize:     10,
			FlushThreshold: 8,
		},
		Storage: StorageConfig{
			Path: "kubisat.db",
		},
		Telemetry: TelemetryConfig{
			TopicPrefix: "kubisat",
		},
		Log: LogConfig{
			Level: VerbosityInfo,
		},
		Power: PowerConfig{
			PollInterval: Duration{time.Second},
			Simulate:     true,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
	}

	cfg.Link.URL = strings.TrimSpace(cfg.Link.URL)
	cfg.Link.Port = strings.TrimSpace(cfg.Link.Port)
	return cfg, cfg.Validate()
}

// Validate checks value ranges
func (c Config) Validate() error {
	var errs []error

	if c.Link.Port != "" && c.Link.URL != "" {
		errs = append(errs, errors.New("link: port and url are mutually exclusive"))
	}
	if c.Link.Baud <= 0 {
		errs = append(errs, fmt.Errorf("link.baud: %d must be positive", c.Link.Baud))
	}
	switch strings.ToLower(c.Link.Mode) {
	case "strict", "lenient":
	default:
		errs = append(errs, fmt.Errorf("link.mode: %q must be strict or lenient", c.Link.Mode))
	}
	if c.Link.InfoQueue <= 0 {
		errs = append(errs, fmt.Errorf("link.info_queue: %d must be positive", c.Link.InfoQueue))
	}
	if c.Link.URL != "" {
		if u, err := url.Parse(c.Link.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("link.url: %q must be a ws:// or wss:// URL", c.Link.URL))
		}
	}

	if c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("events.buffer_size: %d must be positive", c.Events.BufferSize))
	}
	if c.Events.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("events.flush_threshold: %d must be positive", c.Events.FlushThreshold))
	}

	if c.Telemetry.MQTTURL != "" {
		if _, err := url.Parse(c.Telemetry.MQTTURL); err != nil {
			errs = append(errs, fmt.Errorf("telemetry.mqtt_url: %w", err))
		}
	}

	if c.Log.Level < VerbositySilent || c.Log.Level > VerbosityEvent {
		errs = append(errs, fmt.Errorf("log.level: %d out of range 0-5", c.Log.Level))
	}

	if c.Power.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("power.poll_interval: %s must be positive", c.Power.PollInterval))
	}

	return errors.Join(errs...)
}
