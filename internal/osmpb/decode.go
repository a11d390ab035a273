package osmpb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for bytes that are not a valid message
var ErrMalformed = errors.New("osmpb: malformed message")

// message walks the fields of one protobuf message
type message struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func newMessage(b []byte) *message {
	return &message{b: b}
}

func (m *message) next() bool {
	if m.err != nil || len(m.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(m.b)
	if n < 0 {
		m.fail(n)
		return false
	}
	m.b = m.b[n:]
	m.num, m.typ = num, typ
	return true
}

func (m *message) fail(n int) {
	m.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, m.num, protowire.ParseError(n))
}

func (m *message) wrongType() {
	m.err = fmt.Errorf("%w: field %d: unexpected wire type %d", ErrMalformed, m.num, m.typ)
}

func (m *message) skip() {
	n := protowire.ConsumeFieldValue(m.num, m.typ, m.b)
	if n < 0 {
		m.fail(n)
		return
	}
	m.b = m.b[n:]
}

func (m *message) varint() uint64 {
	if m.typ != protowire.VarintType {
		m.wrongType()
		return 0
	}
	v, n := protowire.ConsumeVarint(m.b)
	if n < 0 {
		m.fail(n)
		return 0
	}
	m.b = m.b[n:]
	return v
}

func (m *message) bytes() []byte {
	if m.typ != protowire.BytesType {
		m.wrongType()
		return nil
	}
	v, n := protowire.ConsumeBytes(m.b)
	if n < 0 {
		m.fail(n)
		return nil
	}
	m.b = m.b[n:]
	// Non-nil even when empty so presence is visible to the caller.
	if v == nil {
		v = []byte{}
	}
	return v
}

// repeated appends a repeated varint field, packed or not
func repeated[T any](m *message, dst []T, conv func(uint64) T) []T {
	if m.typ == protowire.VarintType {
		return append(dst, conv(m.varint()))
	}
	data := m.bytes()
	for len(data) > 0 && m.err == nil {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			m.fail(n)
			return dst
		}
		dst = append(dst, conv(v))
		data = data[n:]
	}
	return dst
}

func asSint64(v uint64) int64 { return protowire.DecodeZigZag(v) }
func asInt32(v uint64) int32  { return int32(v) }
func asUint32(v uint64) uint32 { return uint32(v) }

// ParsePrimitiveBlock decodes an uncompressed OSMData block
func ParsePrimitiveBlock(data []byte) (*PrimitiveBlock, error) {
	block := &PrimitiveBlock{
		Granularity:     DefaultGranularity,
		DateGranularity: DefaultDateGranularity,
	}

	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			block.StringTable = parseStringTable(m, m.bytes())
		case 2:
			d := m.bytes()
			if m.err != nil {
				break
			}
			g, err := parsePrimitiveGroup(d)
			if err != nil {
				return nil, fmt.Errorf("primitive group %d: %w", len(block.Groups), err)
			}
			block.Groups = append(block.Groups, g)
		case 17:
			block.Granularity = int64(int32(m.varint()))
		case 18:
			block.DateGranularity = int64(int32(m.varint()))
		case 19:
			block.LatOffset = int64(m.varint())
		case 20:
			block.LonOffset = int64(m.varint())
		default:
			m.skip()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return block, nil
}

func parseStringTable(parent *message, data []byte) [][]byte {
	var table [][]byte
	m := newMessage(data)
	for m.next() {
		if m.num == 1 {
			table = append(table, m.bytes())
			continue
		}
		m.skip()
	}
	if m.err != nil {
		parent.err = m.err
	}
	return table
}

func parsePrimitiveGroup(data []byte) (*PrimitiveGroup, error) {
	g := &PrimitiveGroup{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			n, err := parseNode(m.bytes())
			if err != nil {
				return nil, err
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			d, err := parseDenseNodes(m.bytes())
			if err != nil {
				return nil, err
			}
			g.Dense = d
		case 3:
			w, err := parseWay(m.bytes())
			if err != nil {
				return nil, err
			}
			g.Ways = append(g.Ways, w)
		case 4:
			r, err := parseRelation(m.bytes())
			if err != nil {
				return nil, err
			}
			g.Relations = append(g.Relations, r)
		case 5:
			m.bytes()
			g.ChangeSets++
		default:
			m.skip()
		}
	}
	return g, m.err
}

func parseNode(data []byte) (*Node, error) {
	n := &Node{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			n.ID = asSint64(m.varint())
		case 2:
			n.Keys = repeated(m, n.Keys, asUint32)
		case 3:
			n.Vals = repeated(m, n.Vals, asUint32)
		case 8:
			n.Lat = asSint64(m.varint())
		case 9:
			n.Lon = asSint64(m.varint())
		default:
			m.skip()
		}
	}
	return n, m.err
}

func parseDenseNodes(data []byte) (*DenseNodes, error) {
	d := &DenseNodes{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			d.IDs = repeated(m, d.IDs, asSint64)
		case 8:
			d.Lats = repeated(m, d.Lats, asSint64)
		case 9:
			d.Lons = repeated(m, d.Lons, asSint64)
		case 10:
			d.KeysVals = repeated(m, d.KeysVals, asInt32)
		default:
			m.skip()
		}
	}
	return d, m.err
}

func parseWay(data []byte) (*Way, error) {
	w := &Way{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			w.ID = int64(m.varint())
		case 2:
			w.Keys = repeated(m, w.Keys, asUint32)
		case 3:
			w.Vals = repeated(m, w.Vals, asUint32)
		case 8:
			w.Refs = repeated(m, w.Refs, asSint64)
		default:
			m.skip()
		}
	}
	return w, m.err
}

func parseRelation(data []byte) (*Relation, error) {
	r := &Relation{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			r.ID = int64(m.varint())
		case 2:
			r.Keys = repeated(m, r.Keys, asUint32)
		case 3:
			r.Vals = repeated(m, r.Vals, asUint32)
		default:
			m.skip()
		}
	}
	return r, m.err
}

// ParseBlobHeader decodes a BlobHeader message
func ParseBlobHeader(data []byte) (*BlobHeader, error) {
	h := &BlobHeader{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			h.Type = string(m.bytes())
		case 2:
			h.IndexData = m.bytes()
		case 3:
			h.DataSize = int32(m.varint())
		default:
			m.skip()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return h, nil
}

// ParseBlob decodes a Blob message. Payload slices alias data.
func ParseBlob(data []byte) (*Blob, error) {
	b := &Blob{}
	m := newMessage(data)
	for m.next() {
		switch m.num {
		case 1:
			b.Raw = m.bytes()
		case 2:
			b.RawSize = int32(m.varint())
		case 3:
			b.ZlibData = m.bytes()
		case 4:
			b.LzmaData = m.bytes()
		case 6:
			b.Lz4Data = m.bytes()
		case 7:
			b.ZstdData = m.bytes()
		default:
			m.skip()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return b, nil
}
