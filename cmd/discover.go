// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/params"
)

var discoverTimeout int

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the parameters a flight computer exposes and read them",
	Long: `Read commands_list, then GET every listed parameter once.

Write-only parameters answer NOT_ALLOWED and query parameters that need an
argument answer INVALID_PARAM; both are shown in the table rather than
treated as failures.

Exit codes:
  0 - Discovery successful
  1 - commands_list could not be read
  2 - Connection error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 3, "Timeout in seconds for each request")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	conn, connInfo, _, err := openLink(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	client := newLinkClient(conn, nil)
	defer client.Close()

	fmt.Printf("Kubisat - Parameter Discovery\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	get := func(id kbst.ParameterID) (kbst.Frame, error) {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(discoverTimeout)*time.Second)
		defer cancel()
		return client.Request(ctx, kbst.NewGet(id, nil))
	}

	list, err := get(params.CommandsList)
	if err == nil && list.Value == nil {
		err = errors.New("empty reply")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "commands_list: %v\n", err)
		os.Exit(1)
	}

	names := catalogNames()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREPLY")

	ids := strings.Split(list.Value.Text(), ",")
	for _, s := range ids {
		id, err := kbst.ParseParameterID(s)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t%v\n", s, err)
			continue
		}
		name, _ := names(id)

		reply, err := get(id)
		var rejected *ReplyError
		switch {
		case err == nil && reply.Value != nil:
			fmt.Fprintf(w, "%s\t%s\t%s [%s]\n", id, name, reply.Value, reply.Value.Unit())
		case err == nil:
			fmt.Fprintf(w, "%s\t%s\tANS\n", id, name)
		case errors.As(err, &rejected):
			fmt.Fprintf(w, "%s\t%s\t! %s\n", id, name, rejected.Reply.Exception)
		default:
			fmt.Fprintf(w, "%s\t%s\t%v\n", id, name, err)
		}
	}
	w.Flush()

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Parameters listed: %d\n", len(ids))
	return nil
}
