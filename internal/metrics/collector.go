// Package metrics tracks pipeline counters and periodically samples host
// resource usage during an import.
package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics is one sample of host usage
type SystemMetrics struct {
	CPUPercent        float64 // system wide, 0-100
	ProcessCPUPercent float64 // this process, can exceed 100 on multi-core
	IOWaitPercent     float64
	MemoryUsedBytes   uint64
	MemoryPercent     float64
	ProcessRSSBytes   uint64
	DiskReadBps       float64
	DiskWriteBps      float64
	Timestamp         time.Time
}

// Collector samples system metrics on an interval and logs them together
// with the pipeline counters, if any
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	counters *Counters
	proc     *process.Process

	lastCPU   cpu.TimesStat
	hasCPU    bool
	lastDisk  map[string]disk.IOCountersStat
	lastDiskT time.Time

	mu   sync.RWMutex
	last *SystemMetrics
}

// NewCollector creates a collector. Intervals under a second fall back to
// 30 seconds. counters may be nil.
func NewCollector(interval time.Duration, logger *zap.Logger, counters *Counters) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		counters: counters,
		proc:     proc,
	}
}

// Start samples until ctx is done
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the cpu and disk baselines
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent sample or nil
func (c *Collector) Last() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	m := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSSBytes = info.RSS
		}
	}
	m.IOWaitPercent = c.ioWait()
	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsedBytes = vm.Used
		m.MemoryPercent = vm.UsedPercent
	}
	m.DiskReadBps, m.DiskWriteBps = c.diskRates(m.Timestamp)

	c.mu.Lock()
	c.last = m
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.Float64("iowait", m.IOWaitPercent),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("rss", FormatBytes(int64(m.ProcessRSSBytes))),
		zap.String("disk_r", FormatBytes(int64(m.DiskReadBps))+"/s"),
		zap.String("disk_w", FormatBytes(int64(m.DiskWriteBps))+"/s"),
	}
	if c.counters != nil {
		fields = append(fields,
			zap.Int64("blocks", c.counters.Blocks()),
			zap.Int64("entities", c.counters.Entities()),
		)
	}
	c.logger.Info("System metrics", fields...)
}

// ioWait returns the share of cpu time spent waiting on I/O since the
// previous call
func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !c.hasCPU {
		c.lastCPU, c.hasCPU = cur, true
		return 0
	}

	last := c.lastCPU
	c.lastCPU = cur
	total := (cur.User - last.User) + (cur.System - last.System) + (cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) + (cur.Irq - last.Irq) + (cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - last.Iowait) / total * 100
}

// diskRates returns bytes read and written per second across all disks
func (c *Collector) diskRates(now time.Time) (read, write float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	last, lastT := c.lastDisk, c.lastDiskT
	c.lastDisk, c.lastDiskT = counters, now
	if last == nil {
		return 0, 0
	}

	elapsed := now.Sub(lastT).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}
	var r, w uint64
	for name, cur := range counters {
		prev, ok := last[name]
		if !ok {
			continue
		}
		// counters can wrap
		if cur.ReadBytes >= prev.ReadBytes {
			r += cur.ReadBytes - prev.ReadBytes
		}
		if cur.WriteBytes >= prev.WriteBytes {
			w += cur.WriteBytes - prev.WriteBytes
		}
	}
	return float64(r) / elapsed, float64(w) / elapsed
}
