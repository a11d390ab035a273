package metrics

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stage is a timed step of block processing
type Stage int

const (
	StageDecompress Stage = iota
	StageParse
	StageDecode
	numStages
)

func (s Stage) String() string {
	switch s {
	case StageDecompress:
		return "decompress"
	case StageParse:
		return "parse"
	case StageDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Counters accumulates pipeline statistics. It is safe for concurrent use;
// the processor updates it and progress reporting reads it.
type Counters struct {
	blocks          atomic.Int64
	compressedBytes atomic.Int64
	rawBytes        atomic.Int64
	groups          atomic.Int64
	skippedGroups   atomic.Int64
	points          atomic.Int64
	lines           atomic.Int64
	stages          [numStages]atomic.Int64
}

// NewCounters returns zeroed counters
func NewCounters() *Counters {
	return &Counters{}
}

// Observe adds d to the total time spent in stage s
func (c *Counters) Observe(s Stage, d time.Duration) {
	c.stages[s].Add(int64(d))
}

// Since adds the time elapsed since start to stage s
func (c *Counters) Since(s Stage, start time.Time) {
	c.Observe(s, time.Since(start))
}

// AddBlock counts one block with its compressed and decompressed sizes
func (c *Counters) AddBlock(compressed, raw int) {
	c.blocks.Add(1)
	c.compressedBytes.Add(int64(compressed))
	c.rawBytes.Add(int64(raw))
}

// AddGroups counts decoded and skipped primitive groups
func (c *Counters) AddGroups(decoded, skipped int) {
	c.groups.Add(int64(decoded))
	c.skippedGroups.Add(int64(skipped))
}

// AddEntities counts emitted points and lines
func (c *Counters) AddEntities(points, lines int) {
	c.points.Add(int64(points))
	c.lines.Add(int64(lines))
}

// Blocks returns the number of blocks processed so far
func (c *Counters) Blocks() int64 {
	return c.blocks.Load()
}

// Entities returns the number of entities emitted so far
func (c *Counters) Entities() int64 {
	return c.points.Load() + c.lines.Load()
}

// Snapshot is a point in time copy of Counters
type Snapshot struct {
	Blocks          int64
	CompressedBytes int64
	RawBytes        int64
	Groups          int64
	SkippedGroups   int64
	Points          int64
	Lines           int64
	Decompress      time.Duration
	Parse           time.Duration
	Decode          time.Duration
}

// Snapshot copies the current values
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Blocks:          c.blocks.Load(),
		CompressedBytes: c.compressedBytes.Load(),
		RawBytes:        c.rawBytes.Load(),
		Groups:          c.groups.Load(),
		SkippedGroups:   c.skippedGroups.Load(),
		Points:          c.points.Load(),
		Lines:           c.lines.Load(),
		Decompress:      time.Duration(c.stages[StageDecompress].Load()),
		Parse:           time.Duration(c.stages[StageParse].Load()),
		Decode:          time.Duration(c.stages[StageDecode].Load()),
	}
}

// Fields renders the snapshot as log fields
func (s Snapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("blocks", s.Blocks),
		zap.Int64("groups", s.Groups),
		zap.Int64("skipped_groups", s.SkippedGroups),
		zap.Int64("points", s.Points),
		zap.Int64("lines", s.Lines),
		zap.String("compressed", FormatBytes(s.CompressedBytes)),
		zap.String("raw", FormatBytes(s.RawBytes)),
		zap.Duration("decompress_time", s.Decompress),
		zap.Duration("parse_time", s.Parse),
		zap.Duration("decode_time", s.Decode),
	}
}
