// Package osmpb reads and writes the subset of the OSM PBF wire schema used
// by the importer: file blobs and primitive blocks.
//
// Messages are decoded straight from protobuf wire bytes. Fields the
// importer does not use (node info, relation members) are skipped.
package osmpb

const (
	// DefaultGranularity is the coordinate granularity in nanodegrees when
	// a block does not set one.
	DefaultGranularity = 100
	// DefaultDateGranularity is the timestamp granularity in milliseconds.
	DefaultDateGranularity = 1000

	BlobTypeHeader = "OSMHeader"
	BlobTypeData   = "OSMData"
)

// PrimitiveBlock is a decoded OSMData block
type PrimitiveBlock struct {
	StringTable     [][]byte
	Groups          []*PrimitiveGroup
	Granularity     int64
	LatOffset       int64
	LonOffset       int64
	DateGranularity int64
}

// String returns the string table entry at index i
func (b *PrimitiveBlock) String(i int) (string, bool) {
	if i < 0 || i >= len(b.StringTable) {
		return "", false
	}
	return string(b.StringTable[i]), true
}

// PrimitiveGroup holds one kind of primitives. A well formed group carries
// exactly one non-empty collection.
type PrimitiveGroup struct {
	Nodes      []*Node
	Dense      *DenseNodes
	Ways       []*Way
	Relations  []*Relation
	ChangeSets int
}

// DenseNodes is the column oriented node encoding. IDs, Lats and Lons are
// delta coded. KeysVals holds key/value string indices for every node, each
// node's run terminated by 0.
type DenseNodes struct {
	IDs      []int64
	Lats     []int64
	Lons     []int64
	KeysVals []int32
}

// Node is a plain, non-dense node
type Node struct {
	ID   int64
	Keys []uint32
	Vals []uint32
	Lat  int64
	Lon  int64
}

// Way holds a way id, tag indices and delta coded node references
type Way struct {
	ID   int64
	Keys []uint32
	Vals []uint32
	Refs []int64
}

// Relation keeps only the id and tag indices; members are skipped
type Relation struct {
	ID   int64
	Keys []uint32
	Vals []uint32
}

// BlobHeader precedes every blob in a PBF file
type BlobHeader struct {
	Type      string
	IndexData []byte
	DataSize  int32
}

// Blob holds one block's payload in exactly one of its encodings
type Blob struct {
	Raw      []byte
	RawSize  int32
	ZlibData []byte
	LzmaData []byte
	Lz4Data  []byte
	ZstdData []byte
}

// Encoding names the payload encoding of the blob
func (b *Blob) Encoding() string {
	switch {
	case b.ZlibData != nil:
		return "zlib"
	case b.Raw != nil:
		return "raw"
	case b.LzmaData != nil:
		return "lzma"
	case b.Lz4Data != nil:
		return "lz4"
	case b.ZstdData != nil:
		return "zstd"
	default:
		return "none"
	}
}
