// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/Wuyang-Chung/logstor"
	"github.com/Wuyang-Chung/logstor/device"
)

var (
	benchDuration    = 10 * time.Second
	benchBatch       = 1
	benchReadPercent = 0
	benchSeed        = uint64(1)
)

const (
	minLatency = 10 * time.Microsecond
	maxLatency = 10 * time.Second
)

var benchCmd = &cobra.Command{
	Use:   "bench <device-or-file>",
	Short: "run a mixed read/write load and report latencies",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

func runBench(cmd *cobra.Command, args []string) error {
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

	readHist := hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1)
	writeHist := hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1)
	rng := rand.New(rand.NewSource(benchSeed))
	buf := make([]byte, benchBatch*logstor.SectorSize)
	rng.Read(buf)

	blockCnt := int64(s.BlockCount()) - int64(benchBatch)
	if blockCnt <= 0 {
		return fmt.Errorf("device too small for batch %d", benchBatch)
	}
	var reads, writes uint64
	start := time.Now()
	for time.Since(start) < benchDuration {
		off := (rng.Int63n(blockCnt)) * logstor.SectorSize
		opStart := time.Now()
		if int(rng.Uint32()%100) < benchReadPercent {
			_, err = s.ReadAt(buf, off)
			_ = readHist.RecordValue(time.Since(opStart).Nanoseconds())
			reads++
		} else {
			_, err = s.WriteAt(buf, off)
			_ = writeHist.RecordValue(time.Since(opStart).Nanoseconds())
			writes++
		}
		if err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	report := func(name string, ops uint64, h *hdrhistogram.Histogram) {
		if ops == 0 {
			return
		}
		fmt.Fprintf(os.Stdout, "%s: %d ops, %.0f ops/sec, p50 %s, p95 %s, p99 %s, max %s\n",
			name, ops, float64(ops)/elapsed.Seconds(),
			time.Duration(h.ValueAtQuantile(50)),
			time.Duration(h.ValueAtQuantile(95)),
			time.Duration(h.ValueAtQuantile(99)),
			time.Duration(h.Max()))
	}
	report("read", reads, readHist)
	report("write", writes, writeHist)
	m := s.Metrics()
	fmt.Fprintf(os.Stdout, "write amplification: %.2f\n", m.WriteAmp())
	return nil
}
