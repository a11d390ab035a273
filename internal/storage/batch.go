package storage

import (
	"context"
	"sync"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

// Column lists of the destination tables
var (
	PointColumns = []string{"id", "location", "tags"}
	LineColumns  = []string{"id", "refs", "tags"}
)

// Batch accumulates entities bound for one table. A single producer calls
// Add and then Close; the writer drains it. Add blocks once buffer entities
// are waiting, so a slow store slows the producer down instead of losing data.
type Batch struct {
	table     string
	columns   []string
	flushSize int

	entities  chan osmdata.Entity
	closeOnce sync.Once
}

// NewBatch creates a batch for table. A flush happens every flushSize
// entities and once more at end of stream.
func NewBatch(table string, columns []string, flushSize, buffer int) *Batch {
	if flushSize < 1 {
		flushSize = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Batch{
		table:     table,
		columns:   columns,
		flushSize: flushSize,
		entities:  make(chan osmdata.Entity, buffer),
	}
}

// NewPointBatch creates a batch for a point table
func NewPointBatch(table string, flushSize, buffer int) *Batch {
	return NewBatch(table, PointColumns, flushSize, buffer)
}

// NewLineBatch creates a batch for a line table
func NewLineBatch(table string, flushSize, buffer int) *Batch {
	return NewBatch(table, LineColumns, flushSize, buffer)
}

// Table returns the destination table name
func (b *Batch) Table() string {
	return b.table
}

// Columns returns the fixed column list
func (b *Batch) Columns() []string {
	return b.columns
}

// Add queues an entity, waiting for room if the batch is full
func (b *Batch) Add(ctx context.Context, e osmdata.Entity) error {
	select {
	case b.entities <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. Add must not be called afterwards.
func (b *Batch) Close() {
	b.closeOnce.Do(func() { close(b.entities) })
}

// fill appends entities to buf until it holds flushSize entities or the
// stream ends. more is false once the stream has ended.
func (b *Batch) fill(ctx context.Context, buf []osmdata.Entity) (_ []osmdata.Entity, more bool, err error) {
	for len(buf) < b.flushSize {
		select {
		case e, ok := <-b.entities:
			if !ok {
				return buf, false, nil
			}
			buf = append(buf, e)
		case <-ctx.Done():
			return buf, false, ctx.Err()
		}
	}
	return buf, true, nil
}
