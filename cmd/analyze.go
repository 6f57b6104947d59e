// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/session"
)

var (
	showAll       bool
	statsInterval int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect and count corrupted frames on the link",
	Long: `Track frame errors on the link with statistics.

Every frame is decoded and classified:
  - Checksum mismatches
  - Malformed frames (bad fields, missing trailer, oversize)
  - Truncated frames
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.
Decode errors before the first valid frame are counted as sync noise.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	analyzeCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	conn, connInfo, _, err := openLink(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Kubisat - Link Analysis\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	names := catalogNames()
	decoder := kbst.NewDecoder()
	stats := session.NewStatistics()

	synchronized := false
	invalidBeforeSync := 0

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	chunks := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case data := <-chunks:
			for _, b := range data {
				raw := append([]byte(nil), decoder.GetRawBytes()...)
				frame, decodeErr := decoder.DecodeByte(b)

				switch {
				case decodeErr != nil && !synchronized:
					invalidBeforeSync++
				case decodeErr != nil:
					stats.Update(decodeErr)
					printDecodeError(decodeErr, append(raw, b))
				case frame != nil:
					if !synchronized {
						synchronized = true
						if invalidBeforeSync > 0 {
							fmt.Printf("[SYNC] Synchronized after skipping %d invalid frames\n\n", invalidBeforeSync)
						} else {
							fmt.Printf("[SYNC] Synchronized\n\n")
						}
					}
					stats.Update(nil)
					if showAll {
						fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), kbst.FormatFrame(*frame, names))
					}
				}
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error, raw []byte) {
	timestamp := time.Now().Format("15:04:05.000")
	kind := "DECODE ERROR"
	var de *kbst.DecodeError
	if errors.As(err, &de) {
		kind = de.Kind.String()
	}
	fmt.Printf("[%s] \033[1;31m%s:\033[0m %v\n", timestamp, kind, err)
	fmt.Printf("  raw: %q\n", raw)
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}
