// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"fmt"
	"os"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Wuyang-Chung/logstor"
	"github.com/Wuyang-Chung/logstor/device"
)

var formatSize int64

var formatCmd = &cobra.Command{
	Use:   "format <device-or-file>",
	Short: "create an empty logstor layout",
	Long: `
Lay out an empty logstor store on the given device. A regular file is
created (or truncated) with the --size flag; a block device is used at its
full size.
`,
	Args: cobra.ExactArgs(1),
	RunE: runFormat,
}

func runFormat(cmd *cobra.Command, args []string) error {
	dev, err := openOrCreate(args[0], true)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := logstor.Format(dev, cliOptions()); err != nil {
		return err
	}
	m, err := logstor.Peek(dev)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "formatted %s: %d segments, %d blocks\n",
		args[0], m.SegmentCount, m.BlockCount)
	return nil
}

var infoCmd = &cobra.Command{
	Use:   "info <device-or-file>",
	Short: "print the persisted superblock state",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	dev, err := device.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer dev.Close()
	m, err := logstor.Peek(dev)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"superblock gen", fmt.Sprint(m.SuperblockGen)})
	table.Append([]string{"segments", fmt.Sprint(m.SegmentCount)})
	table.Append([]string{"free segments", fmt.Sprint(m.FreeSegments)})
	table.Append([]string{"blocks", fmt.Sprint(m.BlockCount)})
	table.Append([]string{"capacity", fmt.Sprintf("%d MiB",
		int64(m.BlockCount)*logstor.SectorSize>>20)})
	table.Render()
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump <device-or-file>",
	Short: "dump per-segment utilization",
	Long: `
Open the store and probe every segment summary against the forward map, the
same scoring the cleaner uses, then render the per-segment live counts.
`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	dev, err := device.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer dev.Close()
	s, err := logstor.Open(dev, cliOptions())
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.SegmentUtilization()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"segment", "state", "age", "allocated", "live"})
	util := make([]float64, 0, len(infos))
	for _, info := range infos {
		table.Append([]string{
			info.Segment.String(),
			info.State,
			fmt.Sprint(info.Age),
			fmt.Sprint(info.Allocated),
			fmt.Sprint(info.Live),
		})
		if info.State != "superblock" {
			util = append(util, 100*float64(info.Live)/float64(logstor.BlocksPerSeg))
		}
	}
	table.Render()
	fmt.Fprintln(os.Stdout, "\nlive sectors per segment (%):")
	fmt.Fprintln(os.Stdout, asciigraph.Plot(util, asciigraph.Height(10)))
	return nil
}

func openOrCreate(path string, create bool) (*device.File, error) {
	if create {
		fi, err := os.Stat(path)
		if os.IsNotExist(err) || (err == nil && fi.Mode().IsRegular()) {
			return device.Create(path, formatSize)
		}
	}
	return device.OpenFile(path)
}

func cliOptions() *logstor.Options {
	opts := &logstor.Options{}
	if verbose {
		opts.EventListener = logstor.MakeLoggingEventListener(logstor.DefaultLogger)
	}
	return opts
}
