// Package storage bulk loads decoded entities into PostgreSQL in a single
// transaction.
package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/proj"
)

// Conn is a store connection able to open transactions
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the part of pgx.Tx the writer uses
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LoadStats summarizes one load
type LoadStats struct {
	Rows     map[string]int64
	Flushes  int64
	CopyTime time.Duration
	Duration time.Duration
}

// TotalRows returns the number of rows copied into all tables
func (s *LoadStats) TotalRows() int64 {
	var n int64
	for _, r := range s.Rows {
		n += r
	}
	return n
}

// Writer loads batches through one connection
type Writer struct {
	conn      Conn
	schema    string
	transform *proj.Transformer

	// copyMu serializes COPY calls on the shared connection
	copyMu sync.Mutex

	beforeCommit func(ctx context.Context) error
	loaded       atomic.Int64
}

// NewWriter creates a writer. transform may be nil to store WGS84.
func NewWriter(conn Conn, schema string, transform *proj.Transformer) *Writer {
	return &Writer{conn: conn, schema: schema, transform: transform}
}

// BeforeCommit registers fn to run once every batch is drained and before
// the transaction commits. An error from fn rolls the load back.
func (w *Writer) BeforeCommit(fn func(ctx context.Context) error) {
	w.beforeCommit = fn
}

// Loaded returns the number of rows copied so far, for progress reporting
func (w *Writer) Loaded() int64 {
	return w.loaded.Load()
}

// Load drains every batch into its table inside one transaction. Batches are
// drained concurrently but each COPY holds the connection lock. Any failure
// rolls the whole transaction back.
func (w *Writer) Load(ctx context.Context, batches ...*Batch) (_ *LoadStats, err error) {
	log := logger.Get()
	start := time.Now()

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Warn("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if _, err := tx.Exec(ctx, "SET LOCAL synchronous_commit TO OFF"); err != nil {
		return nil, fmt.Errorf("failed to relax durability: %w", err)
	}
	if _, err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return nil, fmt.Errorf("failed to defer constraints: %w", err)
	}

	stats := &LoadStats{Rows: make(map[string]int64, len(batches))}
	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			rows, flushes, copyTime, err := w.drain(gctx, tx, b)
			statsMu.Lock()
			stats.Rows[b.Table()] += rows
			stats.Flushes += flushes
			stats.CopyTime += copyTime
			statsMu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if w.beforeCommit != nil {
		if err := w.beforeCommit(ctx); err != nil {
			return nil, err
		}
	}

	// a canceled run must not commit what it drained
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	stats.Duration = time.Since(start)
	log.Info("Load committed",
		zap.Int64("rows", stats.TotalRows()),
		zap.Int64("flushes", stats.Flushes),
		zap.Duration("copy_time", stats.CopyTime),
		zap.Duration("elapsed", stats.Duration),
	)
	return stats, nil
}

func (w *Writer) drain(ctx context.Context, tx Tx, b *Batch) (rows, flushes int64, copyTime time.Duration, err error) {
	log := logger.Get()
	enc := newRowEncoder(w.transform)
	table := pgx.Identifier{b.Table()}
	if w.schema != "" {
		table = pgx.Identifier{w.schema, b.Table()}
	}

	buf := make([]osmdata.Entity, 0, b.flushSize)
	for {
		var more bool
		buf, more, err = b.fill(ctx, buf[:0])
		if err != nil {
			return rows, flushes, copyTime, err
		}

		if len(buf) > 0 {
			n, took, err := w.copy(ctx, tx, table, b.Columns(), &rowSource{entities: buf, enc: enc})
			copyTime += took
			if err != nil {
				return rows, flushes, copyTime, fmt.Errorf("COPY into %s failed: %w", b.Table(), err)
			}
			rows += n
			flushes++
			w.loaded.Add(n)
			log.Debug("Batch flushed",
				zap.String("table", b.Table()),
				zap.Int64("rows", n),
				zap.Duration("took", took),
			)
		}

		if !more {
			return rows, flushes, copyTime, nil
		}
	}
}

func (w *Writer) copy(ctx context.Context, tx Tx, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, time.Duration, error) {
	w.copyMu.Lock()
	defer w.copyMu.Unlock()

	start := time.Now()
	n, err := tx.CopyFrom(ctx, table, columns, src)
	return n, time.Since(start), err
}
