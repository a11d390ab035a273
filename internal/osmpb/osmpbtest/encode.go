// Package osmpbtest encodes PBF wire messages for tests.
package osmpbtest

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wegman-software/osmgeodb/internal/osmpb"
)

// Block encodes a primitive block. Granularity and date granularity are
// written only when they differ from the defaults.
func Block(b *osmpb.PrimitiveBlock) []byte {
	var st []byte
	for _, s := range b.StringTable {
		st = AppendBytesField(st, 1, s)
	}

	var buf []byte
	buf = AppendBytesField(buf, 1, st)
	for _, g := range b.Groups {
		buf = AppendBytesField(buf, 2, Group(g))
	}
	if b.Granularity != 0 && b.Granularity != osmpb.DefaultGranularity {
		buf = AppendVarintField(buf, 17, uint64(int32(b.Granularity)))
	}
	if b.DateGranularity != 0 && b.DateGranularity != osmpb.DefaultDateGranularity {
		buf = AppendVarintField(buf, 18, uint64(int32(b.DateGranularity)))
	}
	if b.LatOffset != 0 {
		buf = AppendVarintField(buf, 19, uint64(b.LatOffset))
	}
	if b.LonOffset != 0 {
		buf = AppendVarintField(buf, 20, uint64(b.LonOffset))
	}
	return buf
}

// Group encodes a primitive group
func Group(g *osmpb.PrimitiveGroup) []byte {
	var buf []byte
	for _, n := range g.Nodes {
		var nb []byte
		nb = AppendVarintField(nb, 1, protowire.EncodeZigZag(n.ID))
		nb = appendPacked(nb, 2, n.Keys, func(v uint32) uint64 { return uint64(v) })
		nb = appendPacked(nb, 3, n.Vals, func(v uint32) uint64 { return uint64(v) })
		nb = AppendVarintField(nb, 8, protowire.EncodeZigZag(n.Lat))
		nb = AppendVarintField(nb, 9, protowire.EncodeZigZag(n.Lon))
		buf = AppendBytesField(buf, 1, nb)
	}
	if g.Dense != nil {
		var db []byte
		db = appendPacked(db, 1, g.Dense.IDs, protowire.EncodeZigZag)
		db = appendPacked(db, 8, g.Dense.Lats, protowire.EncodeZigZag)
		db = appendPacked(db, 9, g.Dense.Lons, protowire.EncodeZigZag)
		db = appendPacked(db, 10, g.Dense.KeysVals, func(v int32) uint64 { return uint64(v) })
		buf = AppendBytesField(buf, 2, db)
	}
	for _, w := range g.Ways {
		var wb []byte
		wb = AppendVarintField(wb, 1, uint64(w.ID))
		wb = appendPacked(wb, 2, w.Keys, func(v uint32) uint64 { return uint64(v) })
		wb = appendPacked(wb, 3, w.Vals, func(v uint32) uint64 { return uint64(v) })
		wb = appendPacked(wb, 8, w.Refs, protowire.EncodeZigZag)
		buf = AppendBytesField(buf, 3, wb)
	}
	for _, r := range g.Relations {
		var rb []byte
		rb = AppendVarintField(rb, 1, uint64(r.ID))
		rb = appendPacked(rb, 2, r.Keys, func(v uint32) uint64 { return uint64(v) })
		rb = appendPacked(rb, 3, r.Vals, func(v uint32) uint64 { return uint64(v) })
		buf = AppendBytesField(buf, 4, rb)
	}
	for i := 0; i < g.ChangeSets; i++ {
		buf = AppendBytesField(buf, 5, AppendVarintField(nil, 1, 0))
	}
	return buf
}

// BlobHeader encodes a blob header
func BlobHeader(h *osmpb.BlobHeader) []byte {
	var buf []byte
	buf = AppendBytesField(buf, 1, []byte(h.Type))
	if h.IndexData != nil {
		buf = AppendBytesField(buf, 2, h.IndexData)
	}
	buf = AppendVarintField(buf, 3, uint64(h.DataSize))
	return buf
}

// Blob encodes a blob
func Blob(b *osmpb.Blob) []byte {
	var buf []byte
	if b.Raw != nil {
		buf = AppendBytesField(buf, 1, b.Raw)
	}
	if b.RawSize != 0 {
		buf = AppendVarintField(buf, 2, uint64(b.RawSize))
	}
	if b.ZlibData != nil {
		buf = AppendBytesField(buf, 3, b.ZlibData)
	}
	if b.LzmaData != nil {
		buf = AppendBytesField(buf, 4, b.LzmaData)
	}
	if b.Lz4Data != nil {
		buf = AppendBytesField(buf, 6, b.Lz4Data)
	}
	if b.ZstdData != nil {
		buf = AppendBytesField(buf, 7, b.ZstdData)
	}
	return buf
}

// Frame encodes a length prefixed blob header followed by the blob
func Frame(typ string, blob *osmpb.Blob) []byte {
	body := Blob(blob)
	header := BlobHeader(&osmpb.BlobHeader{Type: typ, DataSize: int32(len(body))})
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(header)))
	buf = append(buf, header...)
	return append(buf, body...)
}

// AppendVarintField appends a varint field
func AppendVarintField(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

// AppendBytesField appends a length delimited field
func AppendBytesField(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

func appendPacked[T any](buf []byte, num protowire.Number, vals []T, conv func(T) uint64) []byte {
	if len(vals) == 0 {
		return buf
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, conv(v))
	}
	return AppendBytesField(buf, num, packed)
}
