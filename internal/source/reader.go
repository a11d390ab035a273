// Package source reads OSMData blocks from a memory mapped .osm.pbf file.
package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/osmpb"
)

const (
	// maxHeaderSize and maxBlobSize are the limits the PBF format sets
	maxHeaderSize = 64 * 1024
	maxBlobSize   = 32 * 1024 * 1024
)

var (
	// ErrFrame is returned when the file framing is broken
	ErrFrame = errors.New("malformed blob frame")
	// ErrEncoding is returned for blobs not compressed with zlib
	ErrEncoding = errors.New("unsupported blob encoding")
)

// Block is one compressed OSMData payload. Offset is the file offset of the
// frame holding it. Data aliases the file mapping and stays valid until the
// Reader is closed.
type Block struct {
	Offset  uint64
	Data    []byte
	RawSize int
}

// Reader walks the blob frames of a PBF file
type Reader struct {
	path    string
	file    *os.File
	data    mmap.MMap
	size    int64
	scanned atomic.Int64
}

// Open maps the file read only
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	r := &Reader{path: path, file: f, size: info.Size()}
	// an empty file cannot be mapped and simply has no blocks
	if r.size > 0 {
		r.data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
		}
	}
	return r, nil
}

// Size returns the file size in bytes
func (r *Reader) Size() int64 {
	return r.size
}

// Scanned returns how many bytes have been walked so far
func (r *Reader) Scanned() int64 {
	return r.scanned.Load()
}

// Close unmaps and closes the file. Blocks emitted by Run are invalid after.
func (r *Reader) Close() error {
	var err error
	if r.data != nil {
		err = r.data.Unmap()
		r.data = nil
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run sends every OSMData block to out in file order. out is closed when
// the file is exhausted; on error it is left open and the error returned.
func (r *Reader) Run(ctx context.Context, out chan<- Block) error {
	log := logger.Get()
	var blocks, skipped int

	var pos int64
	for pos < r.size {
		offset := pos
		typ, blob, next, err := r.frame(pos)
		if err != nil {
			return fmt.Errorf("%s at offset %d: %w", r.path, offset, err)
		}
		pos = next
		r.scanned.Store(pos)

		switch typ {
		case osmpb.BlobTypeHeader:
			continue
		case osmpb.BlobTypeData:
		default:
			skipped++
			log.Debug("Skipping unknown blob", zap.String("type", typ), zap.Int64("offset", offset))
			continue
		}

		if blob.ZlibData == nil {
			return fmt.Errorf("%s at offset %d: %w: %s", r.path, offset, ErrEncoding, blob.Encoding())
		}

		select {
		case out <- Block{Offset: uint64(offset), Data: blob.ZlibData, RawSize: int(blob.RawSize)}:
			blocks++
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Debug("Input exhausted",
		zap.String("file", r.path),
		zap.Int("blocks", blocks),
		zap.Int("skipped", skipped),
		zap.Int64("bytes", r.size),
	)
	close(out)
	return nil
}

// frame decodes the header and blob starting at pos and returns the offset
// of the following frame
func (r *Reader) frame(pos int64) (string, *osmpb.Blob, int64, error) {
	if r.size-pos < 4 {
		return "", nil, 0, fmt.Errorf("%w: truncated header length", ErrFrame)
	}
	hlen := int64(binary.BigEndian.Uint32(r.data[pos:]))
	pos += 4
	if hlen > maxHeaderSize {
		return "", nil, 0, fmt.Errorf("%w: header of %d bytes", ErrFrame, hlen)
	}
	if r.size-pos < hlen {
		return "", nil, 0, fmt.Errorf("%w: truncated header", ErrFrame)
	}
	header, err := osmpb.ParseBlobHeader(r.data[pos : pos+hlen])
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to parse blob header: %w", err)
	}
	pos += hlen

	size := int64(header.DataSize)
	if size < 0 || size > maxBlobSize {
		return "", nil, 0, fmt.Errorf("%w: blob of %d bytes", ErrFrame, size)
	}
	if r.size-pos < size {
		return "", nil, 0, fmt.Errorf("%w: truncated blob", ErrFrame)
	}
	blob, err := osmpb.ParseBlob(r.data[pos : pos+size])
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to parse blob: %w", err)
	}
	return header.Type, blob, pos + size, nil
}
