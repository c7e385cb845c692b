// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "logstor [command] (flags)",
	Short: "logstor device management/introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		formatCmd,
		infoCmd,
		dumpCmd,
		benchCmd,
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable verbose event logging")

	formatCmd.Flags().Int64Var(
		&formatSize, "size", 64<<20, "size in bytes of the device file to create")

	benchCmd.Flags().DurationVarP(
		&benchDuration, "duration", "d", benchDuration, "the duration to run")
	benchCmd.Flags().IntVar(
		&benchBatch, "batch", benchBatch, "number of blocks per write")
	benchCmd.Flags().IntVar(
		&benchReadPercent, "read-percent", benchReadPercent,
		"percent (0-100) of operations that are reads")
	benchCmd.Flags().Uint64Var(
		&benchSeed, "seed", benchSeed, "block address generator seed")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
