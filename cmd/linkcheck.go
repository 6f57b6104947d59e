// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/params"
)

var (
	linkTestTimeout int
	linkTestProbe   bool
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test connection by waiting for a valid KBST frame",
	Long: `Wait for a valid KBST frame on the connection until timeout.

By default a GET for build_version is sent first so that an idle flight
computer answers; use --probe=false to listen only (INF notices also count).
Invalid bytes are ignored until a complete frame passes its checksum.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	linkTestCmd.Flags().BoolVar(&linkTestProbe, "probe", true, "Send a build_version request first")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, _, err := openLink(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Kubisat - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)
	fmt.Printf("Waiting for valid KBST frame...\n\n")

	frameChan := make(chan *kbst.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		decoder := kbst.NewDecoder()
		buf := make([]byte, 256)
		invalid := 0
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalid++
					continue
				}
				if frame != nil {
					if invalid > 0 {
						fmt.Printf("(skipped %d invalid frames before sync)\n", invalid)
					}
					frameChan <- frame
					return
				}
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	if linkTestProbe {
		if _, err := conn.Write(kbst.MustEncode(kbst.NewGet(params.BuildVersion, nil))); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  %s\n", kbst.FormatFrame(*frame, catalogNames()))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(linkTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	}

	return nil
}
