// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/storage"
)

var (
	eventsLevel string
	eventsLimit int
	eventsDB    string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the log blocks recorded by a flight runtime",
	Long: `Read the storage database written by "kubisat fly".

Without --level the newest --limit entries of every level are printed.
With --level only that level is printed (EVENT for event records, WARNING
or ERROR for diagnostics mirrored from the log).

Blocks failing their checksum are skipped and reported on stderr.`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsLevel, "level", "", "Only print entries at this level (name or number)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Number of newest entries to print without --level")
	eventsCmd.Flags().StringVar(&eventsDB, "db", "", "Database path (defaults to storage.path)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	path := cfg.Storage.Path
	if eventsDB != "" {
		path = eventsDB
	}
	if path == "" {
		return errors.New("no database: set storage.path or --db")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("database %s: %w", path, err)
	}

	store, err := storage.Open(storage.Config{Path: path}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var entries []storage.Entry
	if eventsLevel != "" {
		var level storage.Level
		level, err = storage.ParseLevel(strings.ToUpper(eventsLevel))
		if err != nil {
			return err
		}
		entries, err = store.GetLogsByLevel(level)
	} else {
		entries, err = store.Recent(eventsLimit)
	}
	if err != nil && !errors.Is(err, storage.ErrCorruptBlock) {
		return err
	}

	for _, e := range entries {
		fmt.Printf("%6d %s\n", e.ID, e)
	}

	total, _ := store.Count()
	fmt.Printf("\n%d shown, %d stored\n", len(entries), total)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	return nil
}
