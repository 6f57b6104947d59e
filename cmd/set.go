// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <group.command> [value...]",
	Short: "Write a parameter or trigger an action on the flight computer",
	Long: `Send a SET request and print the reply.

Actions such as enter_bootloader take no value. The value unit is guessed
from the first token when it is a unit token, or given with --unit:

  kubisat set 1.8 4
  kubisat set 3.0 t 1767225600
  kubisat set 7.1 false --unit b

Exit codes:
  0 - ANS received
  1 - ERR received or no reply before the timeout
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, "set", args)
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
	addRequestFlags(setCmd)
}
