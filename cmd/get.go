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
)

var (
	requestTimeout time.Duration
	requestUnit    string
)

var getCmd = &cobra.Command{
	Use:   "get <group.command> [argument...]",
	Short: "Read a parameter from the flight computer",
	Long: `Send a GET request and print the reply.

Query parameters take an argument, for example the record count of
last_events or the sequence number of events_since:

  kubisat get 2.2 --port /dev/ttyUSB0
  kubisat get 5.1 3 --port /dev/ttyUSB0

INF notices received while waiting are printed to stderr.

Exit codes:
  0 - ANS received
  1 - ERR received or no reply before the timeout
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, "get", args)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	addRequestFlags(getCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&requestTimeout, "timeout", 3*time.Second, "Time to wait for the reply")
	cmd.Flags().StringVar(&requestUnit, "unit", "", "Value unit token (u s V mA b t x); guessed when empty")
}

func runRequest(cmd *cobra.Command, op string, args []string) error {
	tokens := []string{op, args[0]}
	if requestUnit != "" {
		tokens = append(tokens, requestUnit)
	}
	tokens = append(tokens, args[1:]...)

	req, err := parseRequest(tokens)
	if err != nil {
		return err
	}

	conn, _, _, err := openLink(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	client := newLinkClient(conn, func(f kbst.Frame) {
		fmt.Fprintf(os.Stderr, "%s\n", kbst.FormatFrame(f, nil))
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	reply, err := client.Request(ctx, req)
	if reply.Operation == kbst.OpAnswer || reply.Operation == kbst.OpError {
		fmt.Println(kbst.FormatFrame(reply, nil))
	}
	return err
}
