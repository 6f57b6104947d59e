// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Kubisat - flight computer link runtime and ground station tools
//
// "kubisat fly" serves the KBST parameter catalog and event notices over a
// serial or WebSocket link; the other commands talk to it from the ground.

package main

import (
	"fmt"
	"os"

	"github.com/kubisat/flightlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
