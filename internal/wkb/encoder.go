package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint = 1

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// Common SRID constants
const (
	SRID4326 = 4326 // WGS84
	SRID3857 = 3857 // Web Mercator
)

// Encoder encodes orb points to little endian EWKB with an SRID.
// The returned slice is reused by the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoderWithSRID creates an encoder for the given SRID
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: uint32(srid),
	}
}

// EncodePoint encodes a point as EWKB
func (e *Encoder) EncodePoint(p orb.Point) []byte {
	// 1 (byte order) + 4 (type) + 4 (srid) + 16 (x, y)
	e.header(wkbPoint, 25)
	e.appendPoint(p)
	return e.buf
}

func (e *Encoder) header(typ uint32, size int) {
	if cap(e.buf) < size {
		e.buf = make([]byte, 0, size)
	}
	e.buf = append(e.buf[:0], 0x01)
	e.appendUint32(typ | wkbSRIDFlag)
	e.appendUint32(e.srid)
}

func (e *Encoder) appendPoint(p orb.Point) {
	e.appendUint64(math.Float64bits(p.X()))
	e.appendUint64(math.Float64bits(p.Y()))
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}
