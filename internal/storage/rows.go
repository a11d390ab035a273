package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/proj"
	"github.com/wegman-software/osmgeodb/internal/wkb"
)

// rowEncoder converts entities to COPY rows. It is not safe for concurrent
// use; each drainer owns one.
type rowEncoder struct {
	transform *proj.Transformer
	wkb       *wkb.Encoder
}

func newRowEncoder(transform *proj.Transformer) *rowEncoder {
	srid := wkb.SRID4326
	if transform != nil {
		srid = transform.TargetSRID
	}
	return &rowEncoder{
		transform: transform,
		wkb:       wkb.NewEncoderWithSRID(32, srid),
	}
}

func (r *rowEncoder) encode(e osmdata.Entity) ([]any, error) {
	switch v := e.(type) {
	case *osmdata.Point:
		loc := v.Location
		if r.transform != nil {
			loc = r.transform.Point(loc)
		}
		// the encoder reuses its buffer
		geom := append([]byte(nil), r.wkb.EncodePoint(loc)...)
		return []any{int64(v.ID), geom, toHstore(v.Tags)}, nil
	case *osmdata.Line:
		return []any{int64(v.ID), v.RefIDs(), toHstore(v.Tags)}, nil
	default:
		return nil, fmt.Errorf("unsupported entity type %T", e)
	}
}

func toHstore(tags osmdata.Tags) pgtype.Hstore {
	h := make(pgtype.Hstore, len(tags))
	for k, v := range tags {
		v := v
		h[k] = &v
	}
	return h
}

// rowSource implements pgx.CopyFromSource over a slice of entities
type rowSource struct {
	entities []osmdata.Entity
	enc      *rowEncoder
	pos      int
	current  []any
	err      error
}

func (r *rowSource) Next() bool {
	if r.err != nil || r.pos >= len(r.entities) {
		return false
	}
	r.current, r.err = r.enc.encode(r.entities[r.pos])
	r.pos++
	return r.err == nil
}

func (r *rowSource) Values() ([]any, error) {
	return r.current, r.err
}

func (r *rowSource) Err() error {
	return r.err
}
