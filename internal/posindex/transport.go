package posindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

// Entries travel as length prefixed records. Each record is a protobuf
// message {1: kind, 2: offset, 3: sint64 id}; a zero length record ends the
// stream.

var (
	// ErrTruncated is returned when a stream ends without its end record
	ErrTruncated = errors.New("posindex: stream ended without end marker")
	// ErrCorrupt is returned for records that cannot be decoded
	ErrCorrupt = errors.New("posindex: corrupt record")
)

const maxRecordSize = 64

const (
	fieldKind   protowire.Number = 1
	fieldOffset protowire.Number = 2
	fieldID     protowire.Number = 3
)

// Encoder writes entries to a stream
type Encoder struct {
	w   *bufio.Writer
	buf []byte
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), buf: make([]byte, 0, maxRecordSize)}
}

// Encode buffers one entry
func (e *Encoder) Encode(entry Entry) error {
	rec := e.buf[:0]
	rec = protowire.AppendTag(rec, fieldKind, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(entry.Kind))
	rec = protowire.AppendTag(rec, fieldOffset, protowire.VarintType)
	rec = protowire.AppendVarint(rec, entry.Offset)
	rec = protowire.AppendTag(rec, fieldID, protowire.VarintType)
	rec = protowire.AppendVarint(rec, protowire.EncodeZigZag(entry.ID))
	e.buf = rec

	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(rec)))
	if _, err := e.w.Write(hdr[:n]); err != nil {
		return err
	}
	_, err := e.w.Write(rec)
	return err
}

// Flush writes buffered records to the underlying writer
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// Close writes the end record and flushes. It does not close the
// underlying writer.
func (e *Encoder) Close() error {
	if err := e.w.WriteByte(0); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads entries from a stream
type Decoder struct {
	r    *bufio.Reader
	buf  []byte
	done bool
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), buf: make([]byte, maxRecordSize)}
}

// Decode reads the next entry. It returns io.EOF after the end record and
// ErrTruncated if the stream stops before it.
func (d *Decoder) Decode() (Entry, error) {
	if d.done {
		return Entry{}, io.EOF
	}

	size, err := binary.ReadUvarint(d.r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, ErrTruncated
		}
		return Entry{}, err
	}
	if size == 0 {
		d.done = true
		return Entry{}, io.EOF
	}
	if size > maxRecordSize {
		return Entry{}, fmt.Errorf("%w: record of %d bytes", ErrCorrupt, size)
	}

	rec := d.buf[:size]
	if _, err := io.ReadFull(d.r, rec); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, ErrTruncated
		}
		return Entry{}, err
	}
	return parseRecord(rec)
}

func parseRecord(rec []byte) (Entry, error) {
	var e Entry
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		rec = rec[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			rec = rec[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(rec)
		if n < 0 {
			return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		rec = rec[n:]

		switch num {
		case fieldKind:
			e.Kind = osmdata.Kind(v)
			if !e.Kind.Valid() {
				return Entry{}, fmt.Errorf("%w: kind %d", ErrCorrupt, v)
			}
		case fieldOffset:
			e.Offset = v
		case fieldID:
			e.ID = protowire.DecodeZigZag(v)
		}
	}
	return e, nil
}

// Send encodes entries from the channel to w until the channel is closed,
// then writes the end record. Records are flushed whenever the channel is
// momentarily empty.
func Send(ctx context.Context, w io.Writer, entries <-chan Entry) error {
	enc := NewEncoder(w)
	for {
		var (
			entry Entry
			ok    bool
		)
		select {
		case entry, ok = <-entries:
		default:
			if err := enc.Flush(); err != nil {
				return fmt.Errorf("failed to flush index entries: %w", err)
			}
			select {
			case entry, ok = <-entries:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !ok {
			return enc.Close()
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to send index entry: %w", err)
		}
	}
}

// Receive decodes entries from r into idx until the end record and returns
// how many were inserted
func Receive(r io.Reader, idx *Index) (int, error) {
	dec := NewDecoder(r)
	n := 0
	for {
		e, err := dec.Decode()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		idx.Insert(e)
		n++
	}
}
