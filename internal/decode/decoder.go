package decode

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/osmpb"
	"github.com/wegman-software/osmgeodb/internal/style"
)

var (
	// ErrLengthMismatch is returned when parallel arrays of a group disagree
	ErrLengthMismatch = errors.New("decode: array length mismatch")
	// ErrStringIndex is returned for tag indices outside the string table
	ErrStringIndex = errors.New("decode: string table index out of range")
)

// Transform rewrites tags that passed the filter. Returning an empty set
// drops the entity.
type Transform interface {
	TransformNode(tags osmdata.Tags) (osmdata.Tags, error)
	TransformWay(tags osmdata.Tags) (osmdata.Tags, error)
}

// Decoder turns primitive groups into entities. It keeps no reference to a
// block or its entities after a call returns.
type Decoder struct {
	filter    *style.Filter
	transform Transform
}

// NewDecoder creates a decoder. transform may be nil.
func NewDecoder(filter *style.Filter, transform Transform) *Decoder {
	if filter == nil {
		filter = style.NewFilter(nil)
	}
	return &Decoder{filter: filter, transform: transform}
}

// DecodeDense decodes a dense node collection into points. Only nodes with
// interesting tags are returned, in their original order.
func (d *Decoder) DecodeDense(block *osmpb.PrimitiveBlock, dense *osmpb.DenseNodes) ([]osmdata.Entity, error) {
	n := len(dense.IDs)
	if len(dense.Lats) != n || len(dense.Lons) != n {
		return nil, fmt.Errorf("%w: dense ids=%d lats=%d lons=%d",
			ErrLengthMismatch, n, len(dense.Lats), len(dense.Lons))
	}

	kv := dense.KeysVals
	// Index 0 terminates each node's run, so it must be the empty string
	if len(kv) > 0 {
		if s, ok := block.String(0); !ok || s != "" {
			return nil, fmt.Errorf("%w: entry 0 must be the empty string", ErrStringIndex)
		}
	}
	pos := 0

	ids, lats, lons := CumSum(dense.IDs), CumSum(dense.Lats), CumSum(dense.Lons)

	var entities []osmdata.Entity
	for i := 0; i < n; i++ {
		id, lat, lon := ids[i], lats[i], lons[i]

		// An empty key/value array means no node of the group has tags
		var raw map[string]string
		if len(kv) > 0 {
			var err error
			raw, pos, err = denseRun(block, kv, pos)
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", id, err)
			}
		}

		tags := d.filter.ApplyDense(raw)
		if len(tags) > 0 && d.transform != nil {
			var err error
			if tags, err = d.transform.TransformNode(tags); err != nil {
				return nil, fmt.Errorf("node %d: %w", id, err)
			}
			if d.filter.OnlyProvenance(tags) {
				tags = nil
			}
		}
		if len(tags) == 0 {
			continue
		}

		entities = append(entities, &osmdata.Point{
			ID: osm.NodeID(id),
			Location: orb.Point{
				coord(lon, block.Granularity, block.LonOffset),
				coord(lat, block.Granularity, block.LatOffset),
			},
			Tags: tags,
		})
	}

	if len(kv) > 0 && pos != len(kv) {
		return nil, fmt.Errorf("%w: %d key/value indices left after %d nodes",
			ErrLengthMismatch, len(kv)-pos, n)
	}
	return entities, nil
}

// denseRun reads one node's zero terminated key/value run starting at pos
func denseRun(block *osmpb.PrimitiveBlock, kv []int32, pos int) (map[string]string, int, error) {
	var raw map[string]string
	for {
		if pos >= len(kv) {
			return nil, pos, fmt.Errorf("%w: key/value runs end before nodes", ErrLengthMismatch)
		}
		k := kv[pos]
		pos++
		if k == 0 {
			return raw, pos, nil
		}
		if pos >= len(kv) {
			return nil, pos, fmt.Errorf("%w: key %d has no value", ErrLengthMismatch, k)
		}
		v := kv[pos]
		pos++

		key, val, err := resolve(block, int(k), int(v))
		if err != nil {
			return nil, pos, err
		}
		if raw == nil {
			raw = make(map[string]string, 4)
		}
		raw[key] = val
	}
}

// DecodeWays decodes ways into lines. Only ways with whitelisted tags are
// returned, in their original order.
func (d *Decoder) DecodeWays(block *osmpb.PrimitiveBlock, ways []*osmpb.Way) ([]osmdata.Entity, error) {
	var entities []osmdata.Entity
	for _, w := range ways {
		if len(w.Keys) != len(w.Vals) {
			return nil, fmt.Errorf("%w: way %d keys=%d vals=%d",
				ErrLengthMismatch, w.ID, len(w.Keys), len(w.Vals))
		}

		var raw map[string]string
		for i := range w.Keys {
			key, val, err := resolve(block, int(w.Keys[i]), int(w.Vals[i]))
			if err != nil {
				return nil, fmt.Errorf("way %d: %w", w.ID, err)
			}
			if raw == nil {
				raw = make(map[string]string, len(w.Keys))
			}
			raw[key] = val
		}

		tags := d.filter.Apply(raw)
		if len(tags) > 0 && d.transform != nil {
			var err error
			if tags, err = d.transform.TransformWay(tags); err != nil {
				return nil, fmt.Errorf("way %d: %w", w.ID, err)
			}
		}
		if len(tags) == 0 {
			continue
		}

		refs := make([]osm.NodeID, len(w.Refs))
		for i, ref := range CumSum(w.Refs) {
			refs[i] = osm.NodeID(ref)
		}

		entities = append(entities, &osmdata.Line{
			ID:   osm.WayID(w.ID),
			Refs: refs,
			Tags: tags,
		})
	}
	return entities, nil
}

func resolve(block *osmpb.PrimitiveBlock, k, v int) (string, string, error) {
	key, ok := block.String(k)
	if !ok {
		return "", "", fmt.Errorf("%w: key %d (table size %d)", ErrStringIndex, k, len(block.StringTable))
	}
	val, ok := block.String(v)
	if !ok {
		return "", "", fmt.Errorf("%w: value %d (table size %d)", ErrStringIndex, v, len(block.StringTable))
	}
	return key, val, nil
}
