package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zlib"

	"github.com/wegman-software/osmgeodb/internal/osmpb"
	"github.com/wegman-software/osmgeodb/internal/osmpb/osmpbtest"
	"github.com/wegman-software/osmgeodb/internal/storage"
)

var stringTable = [][]byte{
	{},
	[]byte("amenity"),
	[]byte("cafe"),
	[]byte("created_by"),
	[]byte("JOSM"),
	[]byte("highway"),
	[]byte("residential"),
	[]byte("name"),
	[]byte("Main St"),
}

// firstBlock holds one tagged node (1), a tagged way (10) and a relation
// group that is skipped
func firstBlock() *osmpb.PrimitiveBlock {
	return &osmpb.PrimitiveBlock{
		StringTable: stringTable,
		Groups: []*osmpb.PrimitiveGroup{
			{Dense: &osmpb.DenseNodes{
				IDs:      []int64{1, 1, 1},
				Lats:     []int64{437_000_000, 10, 10},
				Lons:     []int64{74_000_000, 10, 10},
				KeysVals: []int32{1, 2, 0, 0, 3, 4, 0},
			}},
			{Ways: []*osmpb.Way{
				{ID: 10, Keys: []uint32{5}, Vals: []uint32{6}, Refs: []int64{1, 1}},
				{ID: 11, Keys: []uint32{3}, Vals: []uint32{4}, Refs: []int64{2, 1}},
			}},
			{Relations: []*osmpb.Relation{{ID: 500, Keys: []uint32{7}, Vals: []uint32{8}}}},
		},
	}
}

// secondBlock holds two named nodes, 100 and 101
func secondBlock() *osmpb.PrimitiveBlock {
	return &osmpb.PrimitiveBlock{
		StringTable: stringTable,
		Groups: []*osmpb.PrimitiveGroup{
			{Dense: &osmpb.DenseNodes{
				IDs:      []int64{100, 1},
				Lats:     []int64{0, 1000},
				Lons:     []int64{0, 1000},
				KeysVals: []int32{7, 8, 0, 7, 8, 0},
			}},
		},
	}
}

func zlibBlob(t *testing.T, raw []byte) *osmpb.Blob {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &osmpb.Blob{ZlibData: buf.Bytes(), RawSize: int32(len(raw))}
}

func dataFrame(t *testing.T, raw []byte) []byte {
	return osmpbtest.Frame(osmpb.BlobTypeData, zlibBlob(t, raw))
}

// writePBF writes a header frame followed by the given frames and returns
// the path and the offset of every data frame
func writePBF(t *testing.T, frames ...[]byte) (string, []uint64) {
	t.Helper()
	all := [][]byte{osmpbtest.Frame(osmpb.BlobTypeHeader, &osmpb.Blob{Raw: []byte("header")})}
	all = append(all, frames...)

	var offsets []uint64
	var pos uint64
	for i, f := range all {
		if i > 0 {
			offsets = append(offsets, pos)
		}
		pos += uint64(len(f))
	}

	path := filepath.Join(t.TempDir(), "input.osm.pbf")
	if err := os.WriteFile(path, bytes.Join(all, nil), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, offsets
}

// fakeConn is an in-memory store; rows become visible on commit
type fakeConn struct {
	mu        sync.Mutex
	pending   map[string][][]any
	committed map[string][][]any
	rolled    bool
	commits   int
	failTable string
}

func newFakeConn() *fakeConn {
	return &fakeConn{pending: map[string][][]any{}, committed: map[string][][]any{}}
}

func (c *fakeConn) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fakeTx{c: c}, nil
}

func (c *fakeConn) ids(table string) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for _, row := range c.committed[table] {
		ids = append(ids, row[0].(int64))
	}
	return ids
}

type fakeTx struct {
	c *fakeConn
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	name := strings.Join(table, ".")
	if name == t.c.failTable {
		return 0, errors.New("disk full")
	}
	var rows [][]any
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	t.c.mu.Lock()
	t.c.pending[name] = append(t.c.pending[name], rows...)
	t.c.mu.Unlock()
	return int64(len(rows)), nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for k, v := range t.c.pending {
		t.c.committed[k] = append(t.c.committed[k], v...)
	}
	t.c.pending = map[string][][]any{}
	t.c.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.c.pending = map[string][][]any{}
	t.c.rolled = true
	return nil
}
