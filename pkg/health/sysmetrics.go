/*
 * Copyright 2025 MindHaven, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

// SystemSampler collects host-level metrics. Network send/receive rates
// derive from the delta between consecutive samples, so the first
// sample reports zero rates. A failing subsystem logs a warning and
// reports zeroes instead of failing the sample.
type SystemSampler struct {
	mu     sync.Mutex
	logger logger.Logger

	cpuCollector  func(context.Context, time.Duration, bool) ([]float64, error)
	memCollector  func(context.Context) (*mem.VirtualMemoryStat, error)
	diskCollector func(context.Context, string) (*disk.UsageStat, error)
	netCollector  func(context.Context, bool) ([]gopsnet.IOCountersStat, error)
	now           func() time.Time

	diskPath string

	prevSent uint64
	prevRecv uint64
	prevAt   time.Time
}

// SamplerOption customizes a SystemSampler.
type SamplerOption func(*SystemSampler)

// WithDiskPath overrides the mount point measured for disk usage.
func WithDiskPath(path string) SamplerOption {
	return func(s *SystemSampler) {
		s.diskPath = path
	}
}

// NewSystemSampler creates a sampler backed by gopsutil.
func NewSystemSampler(log logger.Logger, opts ...SamplerOption) *SystemSampler {
	s := &SystemSampler{
		logger:        log,
		cpuCollector:  cpu.PercentWithContext,
		memCollector:  mem.VirtualMemoryWithContext,
		diskCollector: disk.UsageWithContext,
		netCollector:  gopsnet.IOCountersWithContext,
		now:           time.Now,
		diskPath:      "/",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sample collects one snapshot of host metrics.
func (s *SystemSampler) Sample(ctx context.Context) *models.SystemMetrics {
	metrics := &models.SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  s.now(),
	}

	if percents, err := s.cpuCollector(ctx, 0, false); err != nil {
		s.logger.Warn().Err(err).Msg("CPU sampling failed; reporting zeroes")
	} else if len(percents) > 0 {
		metrics.CPUPercent = percents[0]
	}

	if vmStats, err := s.memCollector(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Memory sampling failed; reporting zeroes")
	} else {
		metrics.MemoryUsedBytes = vmStats.Used
		metrics.MemoryTotalBytes = vmStats.Total
		metrics.MemoryPercent = vmStats.UsedPercent
	}

	if usage, err := s.diskCollector(ctx, s.diskPath); err != nil {
		s.logger.Warn().Err(err).Str("path", s.diskPath).Msg("Disk sampling failed; reporting zeroes")
	} else {
		metrics.DiskUsedBytes = usage.Used
		metrics.DiskTotalBytes = usage.Total
		metrics.DiskPercent = usage.UsedPercent
	}

	if counters, err := s.netCollector(ctx, false); err != nil {
		s.logger.Warn().Err(err).Msg("Network sampling failed; reporting zeroes")
	} else if len(counters) > 0 {
		s.deriveNetRates(metrics, counters[0])
	}

	return metrics
}

func (s *SystemSampler) deriveNetRates(metrics *models.SystemMetrics, counters gopsnet.IOCountersStat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.NetBytesSent = counters.BytesSent
	metrics.NetBytesRecv = counters.BytesRecv

	if !s.prevAt.IsZero() {
		elapsed := metrics.Timestamp.Sub(s.prevAt).Seconds()
		if elapsed > 0 && counters.BytesSent >= s.prevSent && counters.BytesRecv >= s.prevRecv {
			metrics.NetSendRate = float64(counters.BytesSent-s.prevSent) / elapsed
			metrics.NetRecvRate = float64(counters.BytesRecv-s.prevRecv) / elapsed
		}
	}

	s.prevSent = counters.BytesSent
	s.prevRecv = counters.BytesRecv
	s.prevAt = metrics.Timestamp
}
