// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Metrics holds metrics for the store.
type Metrics struct {
	// BlockCount is the number of addressable blocks.
	BlockCount uint32
	// SegmentCount and FreeSegments describe the segment pool.
	SegmentCount int32
	FreeSegments int32
	// SuperblockGen is the current superblock generation.
	SuperblockGen uint16

	// DataWriteSectors counts user payload sectors written to the device;
	// OtherWriteSectors counts everything else: metadata blocks, segment
	// summaries, superblocks, and sectors moved by the cleaner. Their sum
	// over DataWriteSectors is the write amplification.
	DataWriteSectors  uint64
	OtherWriteSectors uint64
	DeleteOps         uint64

	// Metadata cache counters.
	CacheSlots  int
	CacheDirty  int
	CacheHits   uint64
	CacheMisses uint64

	// Cleaner counters.
	CleanerRuns     uint64
	SegmentsCleaned uint64

	// Persistence counters.
	SummaryFlushes   uint64
	SuperblockWrites uint64
}

// WriteAmp returns the write amplification observed so far.
func (m *Metrics) WriteAmp() float64 {
	if m.DataWriteSectors == 0 {
		return 0
	}
	return float64(m.DataWriteSectors+m.OtherWriteSectors) / float64(m.DataWriteSectors)
}

// String pretty-prints the metrics.
func (m *Metrics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "blocks: %s (%s)\n",
		crhumanize.Count(m.BlockCount, crhumanize.Compact),
		crhumanize.Bytes(uint64(m.BlockCount)*base.SectorSize, crhumanize.Compact))
	fmt.Fprintf(&b, "segments: %d (%d free)\n", m.SegmentCount, m.FreeSegments)
	fmt.Fprintf(&b, "written: %s data, %s other (amp %.2f)\n",
		crhumanize.Bytes(m.DataWriteSectors*base.SectorSize, crhumanize.Compact),
		crhumanize.Bytes(m.OtherWriteSectors*base.SectorSize, crhumanize.Compact),
		m.WriteAmp())
	fmt.Fprintf(&b, "metadata cache: %d slots (%d dirty), %d hits, %d misses\n",
		m.CacheSlots, m.CacheDirty, m.CacheHits, m.CacheMisses)
	fmt.Fprintf(&b, "cleaner: %d runs, %d segments cleaned\n",
		m.CleanerRuns, m.SegmentsCleaned)
	return b.String()
}

// Metrics returns a snapshot of the store's metrics.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		BlockCount:        s.sb.maxBlockCnt,
		SegmentCount:      s.sb.segCnt,
		FreeSegments:      s.sb.segFreeCnt,
		SuperblockGen:     s.sb.gen,
		DataWriteSectors:  s.dataWriteCount,
		OtherWriteSectors: s.otherWriteCount,
		DeleteOps:         s.deleteCount,
		CacheSlots:        len(s.fc.slots),
		CacheDirty:        s.fc.modifiedCount,
		CacheHits:         s.fc.hits,
		CacheMisses:       s.fc.misses,
		CleanerRuns:       s.cleanerRuns,
		SegmentsCleaned:   s.segmentsCleaned,
		SummaryFlushes:    s.summaryFlushes,
		SuperblockWrites:  s.superblockWrites,
	}
}

// MetricsCollector exposes a store's metrics as a prometheus.Collector.
type MetricsCollector struct {
	s *Store

	freeSegments    *prometheus.Desc
	dataSectors     *prometheus.Desc
	otherSectors    *prometheus.Desc
	deleteOps       *prometheus.Desc
	cacheHits       *prometheus.Desc
	cacheMisses     *prometheus.Desc
	cacheDirty      *prometheus.Desc
	cleanerRuns     *prometheus.Desc
	segmentsCleaned *prometheus.Desc
}

var _ prometheus.Collector = (*MetricsCollector)(nil)

// NewMetricsCollector creates a collector for the store's metrics.
func NewMetricsCollector(s *Store) *MetricsCollector {
	return &MetricsCollector{
		s: s,
		freeSegments: prometheus.NewDesc(
			"logstor_free_segments", "Number of free segments.", nil, nil),
		dataSectors: prometheus.NewDesc(
			"logstor_data_write_sectors_total", "User payload sectors written.", nil, nil),
		otherSectors: prometheus.NewDesc(
			"logstor_other_write_sectors_total",
			"Metadata, summary, superblock and cleaner sectors written.", nil, nil),
		deleteOps: prometheus.NewDesc(
			"logstor_delete_ops_total", "Delete operations.", nil, nil),
		cacheHits: prometheus.NewDesc(
			"logstor_metadata_cache_hits_total", "Metadata cache hits.", nil, nil),
		cacheMisses: prometheus.NewDesc(
			"logstor_metadata_cache_misses_total", "Metadata cache misses.", nil, nil),
		cacheDirty: prometheus.NewDesc(
			"logstor_metadata_cache_dirty", "Dirty metadata cache slots.", nil, nil),
		cleanerRuns: prometheus.NewDesc(
			"logstor_cleaner_runs_total", "Cleaner passes.", nil, nil),
		segmentsCleaned: prometheus.NewDesc(
			"logstor_segments_cleaned_total", "Segments compacted by the cleaner.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.freeSegments
	ch <- c.dataSectors
	ch <- c.otherSectors
	ch <- c.deleteOps
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheDirty
	ch <- c.cleanerRuns
	ch <- c.segmentsCleaned
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.s.Metrics()
	ch <- prometheus.MustNewConstMetric(c.freeSegments, prometheus.GaugeValue, float64(m.FreeSegments))
	ch <- prometheus.MustNewConstMetric(c.dataSectors, prometheus.CounterValue, float64(m.DataWriteSectors))
	ch <- prometheus.MustNewConstMetric(c.otherSectors, prometheus.CounterValue, float64(m.OtherWriteSectors))
	ch <- prometheus.MustNewConstMetric(c.deleteOps, prometheus.CounterValue, float64(m.DeleteOps))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(m.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(m.CacheMisses))
	ch <- prometheus.MustNewConstMetric(c.cacheDirty, prometheus.GaugeValue, float64(m.CacheDirty))
	ch <- prometheus.MustNewConstMetric(c.cleanerRuns, prometheus.CounterValue, float64(m.CleanerRuns))
	ch <- prometheus.MustNewConstMetric(c.segmentsCleaned, prometheus.CounterValue, float64(m.SegmentsCleaned))
}
