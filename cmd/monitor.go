// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/params"
)

var monitorRaw bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display link traffic in human-readable format",
	Long: `Continuously decode and display KBST frames as they arrive.

Each frame is printed with a timestamp, its operation, the parameter name
from the catalog and the value. INF event notices are expanded into the
event record they carry. Frames that fail to decode are printed with the
raw bytes.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Also print the raw wire text of each frame")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, cfg, err := openLink(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Kubisat - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	names := catalogNames()
	decoder := kbst.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			raw := append([]byte(nil), decoder.GetRawBytes()...)
			raw = append(raw, buf[i])

			frame, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), kbst.FormatDecodeError(decodeErr, raw))
				continue
			}
			if frame != nil {
				fmt.Print(formatMonitorLine(*frame, names, raw))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				logger.Info().Msg("connection closed")
				return nil
			}
			logger.Warn().Err(err).Msg("read error")
			return err
		}
	}
}

func formatMonitorLine(f kbst.Frame, names kbst.NameFunc, raw []byte) string {
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05.000"), kbst.FormatFrame(f, names))

	if f.Operation == kbst.OpInfo && f.Parameter == params.EventNotice && f.Value != nil {
		if rec, err := events.ParseCompact(f.Value.Text()); err == nil {
			line += fmt.Sprintf("  Event: %s\n", rec)
		}
	}
	if monitorRaw {
		line += fmt.Sprintf("  Raw: %s\n", raw)
	}
	return line
}
