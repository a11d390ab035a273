package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/wegman-software/osmgeodb/internal/decode"
	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/metrics"
	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/osmpb"
	"github.com/wegman-software/osmgeodb/internal/posindex"
	"github.com/wegman-software/osmgeodb/internal/source"
	"github.com/wegman-software/osmgeodb/internal/storage"
)

// ErrRawSize is returned when a block inflates to a size other than the
// one its blob declares
var ErrRawSize = errors.New("decompressed size mismatch")

// Processor turns compressed blocks into index entries and entities
type Processor struct {
	decoder  *decode.Decoder
	counters *metrics.Counters

	zr  io.ReadCloser
	buf bytes.Buffer
}

// NewProcessor creates a processor. counters may be shared with progress
// reporting.
func NewProcessor(decoder *decode.Decoder, counters *metrics.Counters) *Processor {
	if counters == nil {
		counters = metrics.NewCounters()
	}
	return &Processor{decoder: decoder, counters: counters}
}

// Counters returns the counters the processor updates
func (p *Processor) Counters() *metrics.Counters {
	return p.counters
}

// Run processes blocks in arrival order until the channel closes. Each
// decoded group yields one index entry followed by its entities, points to
// the points batch and lines to the lines batch. Sends block when the
// consumer is behind.
//
// When blocks is exhausted, index and both batches are closed. On error
// nothing is closed; callers cancel the shared context instead.
func (p *Processor) Run(ctx context.Context, blocks <-chan source.Block, index chan<- posindex.Entry, points, lines *storage.Batch) error {
	log := logger.Get()

	for {
		var (
			blk source.Block
			ok  bool
		)
		select {
		case blk, ok = <-blocks:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}
		if err := p.processBlock(ctx, blk, index, points, lines); err != nil {
			return fmt.Errorf("block at offset %d: %w", blk.Offset, err)
		}
	}

	close(index)
	points.Close()
	lines.Close()
	log.Debug("Processor finished", p.counters.Snapshot().Fields()...)
	return nil
}

func (p *Processor) processBlock(ctx context.Context, blk source.Block, index chan<- posindex.Entry, points, lines *storage.Batch) error {
	start := time.Now()
	raw, err := p.inflate(blk)
	p.counters.Since(metrics.StageDecompress, start)
	if err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}
	p.counters.AddBlock(len(blk.Data), len(raw))

	start = time.Now()
	block, err := osmpb.ParsePrimitiveBlock(raw)
	p.counters.Since(metrics.StageParse, start)
	if err != nil {
		return fmt.Errorf("failed to parse primitive block: %w", err)
	}

	start = time.Now()
	groups, skipped, err := p.decoder.DecodeBlock(block)
	p.counters.Since(metrics.StageDecode, start)
	if err != nil {
		return err
	}
	p.counters.AddGroups(len(groups), skipped)
	if skipped > 0 {
		logger.Get().Debug("Skipped groups without a decoder",
			zap.Int("groups", skipped),
			zap.Uint64("offset", blk.Offset),
		)
	}

	for _, group := range groups {
		entry := posindex.Entry{Kind: group.Kind, Offset: blk.Offset, ID: group.FirstID}
		select {
		case index <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := p.emit(ctx, group.Entities, points, lines); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) emit(ctx context.Context, entities []osmdata.Entity, points, lines *storage.Batch) error {
	var np, nl int
	for _, e := range entities {
		var err error
		switch e.(type) {
		case *osmdata.Point:
			err = points.Add(ctx, e)
			np++
		case *osmdata.Line:
			err = lines.Add(ctx, e)
			nl++
		default:
			err = fmt.Errorf("unexpected entity %T", e)
		}
		if err != nil {
			return err
		}
	}
	p.counters.AddEntities(np, nl)
	return nil
}

// inflate decompresses a block into the processor's buffer. The result is
// only valid until the next call.
func (p *Processor) inflate(blk source.Block) ([]byte, error) {
	src := bytes.NewReader(blk.Data)
	if p.zr == nil {
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, err
		}
		p.zr = zr
	} else if err := p.zr.(zlib.Resetter).Reset(src, nil); err != nil {
		return nil, err
	}

	p.buf.Reset()
	if blk.RawSize > 0 {
		p.buf.Grow(blk.RawSize)
	}
	if _, err := p.buf.ReadFrom(p.zr); err != nil {
		return nil, err
	}
	if blk.RawSize > 0 && p.buf.Len() != blk.RawSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrRawSize, p.buf.Len(), blk.RawSize)
	}
	return p.buf.Bytes(), nil
}
