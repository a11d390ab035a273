package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/metrics"
)

// Progress is one progress reading of an import
type Progress struct {
	Scanned    int64
	Total      int64
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Throughput float64 // entities per second
}

// ProgressTracker derives percentage, ETA and throughput from bytes scanned
// and entities emitted
type ProgressTracker struct {
	totalBytes int64
	startTime  time.Time
}

// NewProgressTracker starts tracking an input of totalBytes
func NewProgressTracker(totalBytes int64) *ProgressTracker {
	return &ProgressTracker{totalBytes: totalBytes, startTime: time.Now()}
}

// Calculate returns the progress for the given counts
func (p *ProgressTracker) Calculate(entities, scanned int64) Progress {
	return p.calculate(entities, scanned, time.Since(p.startTime))
}

func (p *ProgressTracker) calculate(entities, scanned int64, elapsed time.Duration) Progress {
	var pct float64
	var eta time.Duration
	if p.totalBytes > 0 && scanned > 0 {
		pct = float64(scanned) / float64(p.totalBytes) * 100
		if pct < 100 && elapsed > 0 {
			bytesPerSec := float64(scanned) / elapsed.Seconds()
			eta = time.Duration(float64(p.totalBytes-scanned) / bytesPerSec * float64(time.Second))
		}
	}

	var throughput float64
	if elapsed > 0 {
		throughput = float64(entities) / elapsed.Seconds()
	}

	return Progress{
		Scanned:    scanned,
		Total:      p.totalBytes,
		Percentage: pct,
		Elapsed:    elapsed.Round(time.Second),
		ETA:        eta.Round(time.Second),
		Throughput: throughput,
	}
}

// ProgressTicker calls a function periodically until its context is done
type ProgressTicker struct {
	callback func()
	interval time.Duration
}

// NewProgressTicker creates a ticker. Intervals of zero or less use 5s.
func NewProgressTicker(interval time.Duration, callback func()) *ProgressTicker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProgressTicker{callback: callback, interval: interval}
}

// Run blocks until ctx is done
func (p *ProgressTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.callback()
		}
	}
}

// progressReporter logs import progress from the reader, the counters and
// the writer
type progressReporter struct {
	tracker  *ProgressTracker
	scanned  func() int64
	loaded   func() int64
	counters *metrics.Counters
}

func (r *progressReporter) report() {
	p := r.tracker.Calculate(r.counters.Entities(), r.scanned())
	logger.Get().Info("Import progress",
		zap.String("progress", formatPercent(p.Percentage)),
		zap.String("scanned", metrics.FormatBytes(p.Scanned)),
		zap.Int64("blocks", r.counters.Blocks()),
		zap.Int64("entities", r.counters.Entities()),
		zap.Int64("rows_loaded", r.loaded()),
		zap.String("rate", metrics.FormatThroughput(p.Throughput)),
		zap.String("eta", metrics.FormatETA(p.ETA)),
	)
}

func formatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}
