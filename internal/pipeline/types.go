// Package pipeline wires the import stages together: block source,
// processor, position index feed and storage writer.
package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmgeodb/internal/metrics"
	"github.com/wegman-software/osmgeodb/internal/posindex"
	"github.com/wegman-software/osmgeodb/internal/storage"
)

// ImportStats summarizes a completed import
type ImportStats struct {
	Processing   metrics.Snapshot
	Load         *storage.LoadStats
	Index        *posindex.Index
	IndexEntries int
	BytesRead    int64
	Duration     time.Duration
}

// Fields renders the stats as log fields
func (s *ImportStats) Fields() []zap.Field {
	fields := s.Processing.Fields()
	fields = append(fields,
		zap.Int("index_entries", s.IndexEntries),
		zap.String("read", metrics.FormatBytes(s.BytesRead)),
	)
	if s.Load != nil {
		fields = append(fields,
			zap.Int64("rows", s.Load.TotalRows()),
			zap.Int64("flushes", s.Load.Flushes),
			zap.Duration("copy_time", s.Load.CopyTime),
		)
	}
	var rate float64
	if s.Duration > 0 {
		rate = float64(s.Processing.Points+s.Processing.Lines) / s.Duration.Seconds()
	}
	return append(fields,
		zap.String("rate", metrics.FormatThroughput(rate)),
		zap.Duration("duration", s.Duration.Round(time.Millisecond)),
	)
}
