// Package agent records the local host as a fleetscope agent. It samples
// system telemetry with gopsutil and writes it through the store.
package agent

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Metric types written by the Collector.
const (
	TypeCPU     = "cpu"
	TypeMemory  = "memory"
	TypeDisk    = "disk"
	TypeTCP     = "tcp_connections"
	TypeUDP     = "udp_connections"
	TypeRx      = "rx_bytes"
	TypeTx      = "tx_bytes"
	TypeUptime  = "uptime"
	TypeProcess = "processes"
)

// Reading is one sampled value, already encoded as a string.
type Reading struct {
	Type  string
	Value string
}

// Collector samples host telemetry. Network throughput is a delta between
// consecutive samples, so the first sample reports 0 bytes/s.
type Collector struct {
	mu          sync.Mutex
	prevRx      uint64
	prevTx      uint64
	prevTime    time.Time
	initialized bool
}

// NewCollector creates a ready-to-use Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Sample gathers one round of readings. Probes that fail on this platform
// are skipped rather than failing the round.
func (c *Collector) Sample(ctx context.Context) ([]Reading, error) {
	var out []Reading
	add := func(typ string, v float64) {
		out = append(out, Reading{Type: typ, Value: strconv.FormatFloat(v, 'f', 2, 64)})
	}
	addInt := func(typ string, v int64) {
		out = append(out, Reading{Type: typ, Value: strconv.FormatInt(v, 10)})
	}

	if pcts, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false); err == nil && len(pcts) > 0 {
		add(TypeCPU, pcts[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		add(TypeMemory, vm.UsedPercent)
	}

	if pct, ok := maxDiskUsage(ctx); ok {
		add(TypeDisk, pct)
	}

	if conns, err := psnet.ConnectionsWithContext(ctx, "tcp"); err == nil {
		addInt(TypeTCP, int64(len(conns)))
	}
	if conns, err := psnet.ConnectionsWithContext(ctx, "udp"); err == nil {
		addInt(TypeUDP, int64(len(conns)))
	}

	if rx, tx, ok := c.netBandwidth(ctx); ok {
		addInt(TypeRx, rx)
		addInt(TypeTx, tx)
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		addInt(TypeUptime, int64(info.Uptime))
		addInt(TypeProcess, int64(info.Procs))
	}

	return out, nil
}

// maxDiskUsage returns the used percentage of the fullest partition.
func maxDiskUsage(ctx context.Context) (float64, bool) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil || len(partitions) == 0 {
		return 0, false
	}
	var max float64
	found := false
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		found = true
		if usage.UsedPercent > max {
			max = usage.UsedPercent
		}
	}
	return max, found
}

// netBandwidth computes bytes/s since the last call using IOCounters deltas.
func (c *Collector) netBandwidth(ctx context.Context) (rxBps, txBps int64, ok bool) {
	stats, err := psnet.IOCountersWithContext(ctx, false) // aggregate all interfaces
	if err != nil || len(stats) == 0 {
		return 0, 0, false
	}
	now := time.Now()
	curRx := stats[0].BytesRecv
	curTx := stats[0].BytesSent

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		rxBps = rate(c.prevRx, curRx, now.Sub(c.prevTime))
		txBps = rate(c.prevTx, curTx, now.Sub(c.prevTime))
	}

	c.prevRx = curRx
	c.prevTx = curTx
	c.prevTime = now
	c.initialized = true
	return rxBps, txBps, true
}

// rate is the per-second delta between two counter values. A counter that
// went backwards (reboot, interface reset) yields 0.
func rate(prev, cur uint64, dt time.Duration) int64 {
	if dt <= 0 || cur < prev {
		return 0
	}
	return int64(float64(cur-prev) / dt.Seconds())
}
