// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/config"
)

// Build is stamped by the linker (-X github.com/kubisat/flightlink/cmd.Build=...)
var Build = "dev"

var (
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	linkMode  string
	verbosity int
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "kubisat",
	Short: "Kubisat flight link",
	Long: `Kubisat - flight computer link runtime and ground station tools for the
KBST protocol.

"kubisat fly" runs the flight side: the parameter catalog, the event log and
its producers behind a KBST session on the link. The remaining commands are
ground tools that talk to a flying instance.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings are read from --config (TOML) and overridden by flags. For
WebSocket authentication, the password is read from the KUBISAT_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:       Build,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&linkMode, "mode", "strict", "Session mode for malformed input (strict or lenient)")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", config.VerbosityInfo, "Log verbosity (0 silent .. 5 event)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config and applies every flag the user set on top
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Link.Port, cfg.Link.URL = portName, ""
	}
	if flags.Changed("url") {
		cfg.Link.URL, cfg.Link.Port = wsURL, ""
	}
	if flags.Changed("baud") {
		cfg.Link.Baud = baudRate
	}
	if flags.Changed("username") {
		cfg.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("mode") {
		cfg.Link.Mode = linkMode
	}
	if flags.Changed("verbosity") {
		cfg.Log.Level = verbosity
	}
	if flags.Changed("no-color") {
		cfg.Log.NoColor = noColor
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger for cfg
func newLogger(cfg config.Config) (zerolog.Logger, error) {
	return config.NewLogger(os.Stderr, cfg.Log)
}
