package posindex

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

const parquetBatchSize = 64 * 1024

var parquetSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "kind", Type: arrow.PrimitiveTypes.Uint8, Nullable: false},
	{Name: "offset", Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
}, nil)

// WriteParquet exports the index to a Parquet file in id order
func WriteParquet(path string, idx *Index) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(parquetSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, parquetSchema)
	defer builder.Release()

	ids := builder.Field(0).(*array.Int64Builder)
	kinds := builder.Field(1).(*array.Uint8Builder)
	offsets := builder.Field(2).(*array.Uint64Builder)

	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}
		return writer.Write(rec)
	}

	count := 0
	idx.Ascend(func(e Entry) bool {
		ids.Append(e.ID)
		kinds.Append(uint8(e.Kind))
		offsets.Append(e.Offset)
		count++
		if count%parquetBatchSize == 0 {
			err = flush()
		}
		return err == nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		writer.Close()
		f.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	// the parquet writer closes its sink
	f.Close()
	return nil
}

// ReadParquet loads an index exported by WriteParquet
func ReadParquet(ctx context.Context, path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index table: %w", err)
	}
	defer tbl.Release()

	if int(tbl.NumCols()) != len(parquetSchema.Fields()) {
		return nil, fmt.Errorf("%w: unexpected index schema %s", ErrCorrupt, tbl.Schema())
	}
	for i, f := range parquetSchema.Fields() {
		got := tbl.Schema().Field(i)
		if got.Name != f.Name || !arrow.TypeEqual(got.Type, f.Type) {
			return nil, fmt.Errorf("%w: unexpected index schema %s", ErrCorrupt, tbl.Schema())
		}
	}

	idx := New()
	tr := array.NewTableReader(tbl, parquetBatchSize)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		ids := rec.Column(0).(*array.Int64)
		kinds := rec.Column(1).(*array.Uint8)
		offsets := rec.Column(2).(*array.Uint64)

		for i := 0; i < int(rec.NumRows()); i++ {
			kind := osmdata.Kind(kinds.Value(i))
			if !kind.Valid() {
				return nil, fmt.Errorf("%w: kind %d", ErrCorrupt, kind)
			}
			idx.Insert(Entry{Kind: kind, Offset: offsets.Value(i), ID: ids.Value(i)})
		}
	}
	return idx, nil
}
