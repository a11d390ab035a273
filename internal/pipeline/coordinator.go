package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmgeodb/internal/config"
	"github.com/wegman-software/osmgeodb/internal/decode"
	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/metrics"
	"github.com/wegman-software/osmgeodb/internal/posindex"
	"github.com/wegman-software/osmgeodb/internal/proj"
	"github.com/wegman-software/osmgeodb/internal/source"
	"github.com/wegman-software/osmgeodb/internal/storage"
)

// Coordinator runs one import from a PBF file into the store
type Coordinator struct {
	cfg       *config.Config
	conn      storage.Conn
	decoder   *decode.Decoder
	transform *proj.Transformer

	// ProgressInterval sets how often progress is logged
	ProgressInterval time.Duration
}

// NewCoordinator creates a coordinator. transform may be nil to store
// WGS84 coordinates.
func NewCoordinator(cfg *config.Config, conn storage.Conn, decoder *decode.Decoder, transform *proj.Transformer) *Coordinator {
	return &Coordinator{
		cfg:              cfg,
		conn:             conn,
		decoder:          decoder,
		transform:        transform,
		ProgressInterval: 5 * time.Second,
	}
}

// Run executes the import. Every stage runs in one errgroup: the first
// failure cancels the others and the storage transaction rolls back.
func (c *Coordinator) Run(ctx context.Context) (*ImportStats, error) {
	log := logger.Get()
	start := time.Now()

	reader, err := source.Open(c.cfg.InputFile)
	if err != nil {
		return nil, err
	}
	// blocks alias the mapping, so it is released only after every stage
	defer reader.Close()

	counters := metrics.NewCounters()
	processor := NewProcessor(c.decoder, counters)
	writer := storage.NewWriter(c.conn, c.cfg.DBSchema, c.transform)

	blocks := make(chan source.Block, c.cfg.ChannelBuffer)
	entries := make(chan posindex.Entry, c.cfg.ChannelBuffer)
	points := storage.NewPointBatch(c.cfg.PointTable, c.cfg.BatchSize, c.cfg.BatchSize)
	lines := storage.NewLineBatch(c.cfg.LineTable, c.cfg.BatchSize, c.cfg.BatchSize)

	idx := posindex.New()
	pr, pw := io.Pipe()
	indexed := make(chan struct{})
	var indexEntries int

	// the index must be complete before the rows are committed
	writer.BeforeCommit(func(ctx context.Context) error {
		select {
		case <-indexed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	if c.cfg.MetricsInterval > 0 {
		collector := metrics.NewCollector(c.cfg.MetricsInterval, log, counters)
		go collector.Start(bgCtx)
		log.Info("System metrics collection started", zap.Duration("interval", c.cfg.MetricsInterval))
	}
	reporter := &progressReporter{
		tracker:  NewProgressTracker(reader.Size()),
		scanned:  reader.Scanned,
		loaded:   writer.Loaded,
		counters: counters,
	}
	go NewProgressTicker(c.ProgressInterval, reporter.report).Run(bgCtx)

	log.Info("Import started",
		zap.String("file", c.cfg.InputFile),
		zap.String("size", metrics.FormatBytes(reader.Size())),
		zap.String("points", c.cfg.PointTable),
		zap.String("lines", c.cfg.LineTable),
	)

	var loadStats *storage.LoadStats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reader.Run(gctx, blocks)
	})
	g.Go(func() error {
		return processor.Run(gctx, blocks, entries, points, lines)
	})
	g.Go(func() error {
		err := posindex.Send(gctx, pw, entries)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		n, err := posindex.Receive(pr, idx)
		if err != nil {
			pr.CloseWithError(err)
			return fmt.Errorf("failed to receive index entries: %w", err)
		}
		indexEntries = n
		close(indexed)
		return nil
	})
	g.Go(func() error {
		var err error
		loadStats, err = writer.Load(gctx, points, lines)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Import failed", append(counters.Snapshot().Fields(), zap.Error(err))...)
		return nil, err
	}
	cancelBg()

	stats := &ImportStats{
		Processing:   counters.Snapshot(),
		Load:         loadStats,
		Index:        idx,
		IndexEntries: indexEntries,
		BytesRead:    reader.Scanned(),
		Duration:     time.Since(start),
	}

	if c.cfg.IndexOutput != "" {
		if err := posindex.WriteParquet(c.cfg.IndexOutput, idx); err != nil {
			return stats, fmt.Errorf("failed to export position index: %w", err)
		}
		log.Info("Position index exported",
			zap.String("path", c.cfg.IndexOutput),
			zap.Int("entries", idx.Len()),
		)
	}

	log.Info("Import complete", stats.Fields()...)
	return stats, nil
}
