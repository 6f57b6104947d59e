// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubisat/flightlink/pkg/kbst"
)

var decodeHex bool

var decodeCmd = &cobra.Command{
	Use:   "decode <frame>",
	Short: "Decode a KBST frame given as text or hex",
	Long: `Decode a single frame offline and print its fields.

  kubisat decode "$(kubisat encode GET 2.2 | head -n1)"
  kubisat decode --hex '4B 42 53 54 3B 47 45 54 ...'

A checksum or layout failure is reported with the decode error kind.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

var encodeCmd = &cobra.Command{
	Use:   "encode <OP> <group.command> [unit] [value...]",
	Short: "Encode a KBST frame",
	Long: `Build a frame from its fields and print the wire text and hex.

  kubisat encode GET 2.2
  kubisat encode SET 3.0 t 1767225600
  kubisat encode ERR 1.8 --exception INVALID_PARAM`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEncode,
}

var encodeException string

func init() {
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
	decodeCmd.Flags().BoolVar(&decodeHex, "hex", false, "Input is a hex dump")
	encodeCmd.Flags().StringVar(&encodeException, "exception", "", "Exception for ERR frames")
}

func runDecode(cmd *cobra.Command, args []string) error {
	input := strings.Join(args, " ")

	data := []byte(input)
	if decodeHex {
		var err error
		data, err = kbst.HexStringToBytes(input)
		if err != nil {
			return err
		}
	}

	frame, err := kbst.Decode(data)
	if err != nil {
		var de *kbst.DecodeError
		if errors.As(err, &de) {
			fmt.Printf("Kind:      %s\n", de.Kind)
			if de.HasParameter {
				fmt.Printf("Parameter: %s\n", de.Parameter)
			}
		}
		return errors.New(kbst.FormatDecodeError(err, data))
	}

	fmt.Println(kbst.FormatFrame(frame, nil))
	fmt.Printf("  Operation: %s\n", frame.Operation)
	fmt.Printf("  Parameter: %s (group %d, command %d)\n", frame.Parameter, frame.Parameter.Group(), frame.Parameter.Command())
	if frame.Value != nil {
		fmt.Printf("  Unit:      %s\n", frame.Value.Unit())
		fmt.Printf("  Value:     %s\n", frame.Value)
	}
	if frame.Exception != kbst.ExceptionNone {
		fmt.Printf("  Exception: %s\n", frame.Exception)
	}
	fmt.Printf("  Checksum:  %04X\n", frame.Checksum)
	return nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	op, err := kbst.ParseOperation(strings.ToUpper(args[0]))
	if err != nil {
		return err
	}
	id, err := kbst.ParseParameterID(args[1])
	if err != nil {
		return err
	}
	value, err := parseValueTokens(args[2:])
	if err != nil {
		return err
	}

	frame := kbst.Frame{Operation: op, Parameter: id, Value: value}
	if encodeException != "" {
		frame.Exception, err = kbst.ParseException(strings.ToUpper(encodeException))
		if err != nil {
			return err
		}
	}

	data, err := kbst.EncodeFrame(frame)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	fmt.Println(kbst.BytesToHexString(data))
	return nil
}
