// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/params"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request round trips to the flight computer",
	Long: `Send GET device_id requests and wait for each ANS.

This is useful for verifying:
  - The link is established (serial or WebSocket bridge)
  - HTTP Basic authentication works
  - The flight session is dispatching requests
  - Round trip time over the link

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, _, err := openLink(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	client := newLinkClient(conn, nil)
	defer client.Close()

	fmt.Printf("Kubisat - Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(pingTimeout)*time.Second)
		start := time.Now()
		reply, err := client.Request(ctx, kbst.NewGet(params.DeviceID, nil))
		cancel()
		rtt := time.Since(start)

		switch {
		case err == nil && reply.Value != nil:
			fmt.Printf("ANS from %s, rtt=%v\n", reply.Value.Text(), rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		case err == nil:
			fmt.Printf("ANS, rtt=%v\n", rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		case reply.Operation == kbst.OpError:
			// still a round trip
			fmt.Printf("ERR %s, rtt=%v\n", reply.Exception, rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v, skipped frames=%d\n", (total / time.Duration(successCount)).Round(time.Millisecond), client.Skipped())
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
