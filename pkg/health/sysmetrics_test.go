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
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"

	"github.com/mindhaven/vitals/pkg/logger"
)

func stubbedSampler(sent, recv uint64, at time.Time) *SystemSampler {
	s := NewSystemSampler(logger.NewTestLogger())

	s.cpuCollector = func(context.Context, time.Duration, bool) ([]float64, error) {
		return []float64{42.5}, nil
	}
	s.memCollector = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 2 << 30, Total: 8 << 30, UsedPercent: 25.0}, nil
	}
	s.diskCollector = func(context.Context, string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Used: 10 << 30, Total: 100 << 30, UsedPercent: 10.0}, nil
	}
	s.netCollector = func(context.Context, bool) ([]gopsnet.IOCountersStat, error) {
		return []gopsnet.IOCountersStat{{BytesSent: sent, BytesRecv: recv}}, nil
	}
	s.now = func() time.Time { return at }

	return s
}

func TestSystemSamplerCollectsSubsystems(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := stubbedSampler(1000, 2000, at)

	sample := s.Sample(context.Background())

	assert.InDelta(t, 42.5, sample.CPUPercent, 0.001)
	assert.Equal(t, uint64(2<<30), sample.MemoryUsedBytes)
	assert.InDelta(t, 25.0, sample.MemoryPercent, 0.001)
	assert.Equal(t, uint64(100<<30), sample.DiskTotalBytes)
	assert.Equal(t, uint64(1000), sample.NetBytesSent)
	assert.Greater(t, sample.Goroutines, 0)
	assert.Equal(t, at, sample.Timestamp)

	// No previous sample to diff against.
	assert.Zero(t, sample.NetSendRate)
	assert.Zero(t, sample.NetRecvRate)
}

func TestSystemSamplerDerivesNetRates(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := stubbedSampler(1000, 2000, at)

	s.Sample(context.Background())

	s.netCollector = func(context.Context, bool) ([]gopsnet.IOCountersStat, error) {
		return []gopsnet.IOCountersStat{{BytesSent: 11000, BytesRecv: 4000}}, nil
	}
	s.now = func() time.Time { return at.Add(10 * time.Second) }

	sample := s.Sample(context.Background())

	assert.InDelta(t, 1000.0, sample.NetSendRate, 0.001)
	assert.InDelta(t, 200.0, sample.NetRecvRate, 0.001)
}

func TestSystemSamplerCounterResetReportsZeroRates(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := stubbedSampler(50000, 60000, at)

	s.Sample(context.Background())

	// Counters went backwards, e.g. after an interface reset.
	s.netCollector = func(context.Context, bool) ([]gopsnet.IOCountersStat, error) {
		return []gopsnet.IOCountersStat{{BytesSent: 100, BytesRecv: 200}}, nil
	}
	s.now = func() time.Time { return at.Add(10 * time.Second) }

	sample := s.Sample(context.Background())

	assert.Zero(t, sample.NetSendRate)
	assert.Zero(t, sample.NetRecvRate)
	assert.Equal(t, uint64(100), sample.NetBytesSent)
}

func TestSystemSamplerSubsystemFailureReportsZeroes(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := stubbedSampler(1000, 2000, at)

	s.cpuCollector = func(context.Context, time.Duration, bool) ([]float64, error) {
		return nil, errors.New("cpu unavailable")
	}
	s.memCollector = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("mem unavailable")
	}

	sample := s.Sample(context.Background())

	assert.Zero(t, sample.CPUPercent)
	assert.Zero(t, sample.MemoryUsedBytes)
	assert.Equal(t, uint64(100<<30), sample.DiskTotalBytes, "disk still sampled")
}
