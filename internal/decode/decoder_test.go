package decode

import (
	"errors"
	"reflect"
	"testing"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/osmpb"
	"github.com/wegman-software/osmgeodb/internal/osmpb/osmpbtest"
	"github.com/wegman-software/osmgeodb/internal/style"
	"github.com/wegman-software/osmgeodb/internal/tagtransform"
)

func testBlock(groups ...*osmpb.PrimitiveGroup) *osmpb.PrimitiveBlock {
	return &osmpb.PrimitiveBlock{
		StringTable: [][]byte{
			{},
			[]byte("highway"),
			[]byte("residential"),
			[]byte("created_by"),
			[]byte("JOSM"),
			[]byte("name"),
			[]byte("Main St"),
			[]byte("tiger:cfcc"),
			[]byte("A41"),
		},
		Granularity: osmpb.DefaultGranularity,
		Groups:      groups,
	}
}

func TestCumSumRoundTrip(t *testing.T) {
	tests := [][]int64{
		nil,
		{5},
		{1, 1, 1},
		{100, -3, 0, 7, -200},
		{-1 << 40, 1 << 40, 12},
	}
	for _, deltas := range tests {
		got := Delta(CumSum(deltas))
		if len(deltas) == 0 && len(got) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, deltas) {
			t.Errorf("Delta(CumSum(%v)) = %v", deltas, got)
		}
	}

	if got := CumSum([]int64{1, 1, 3}); !reflect.DeepEqual(got, []int64{1, 2, 5}) {
		t.Errorf("CumSum = %v, want [1 2 5]", got)
	}
}

func TestDecodeDenseScenario(t *testing.T) {
	block := testBlock()
	dense := &osmpb.DenseNodes{
		IDs:      []int64{1, 1},
		Lons:     []int64{100000000, 0},
		Lats:     []int64{200000000, 0},
		KeysVals: []int32{1, 2, 0, 0},
	}

	d := NewDecoder(nil, nil)
	got, err := d.DecodeDense(block, dense)
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entities, want 1", len(got))
	}

	p := got[0].(*osmdata.Point)
	if p.ID != 1 {
		t.Errorf("id = %d, want 1", p.ID)
	}
	// 1e8 * 100 nanodegrees
	if p.Location.Lon() != 10 || p.Location.Lat() != 20 {
		t.Errorf("location = %v, want [10 20]", p.Location)
	}
	if !reflect.DeepEqual(p.Tags, osmdata.Tags{"highway": "residential"}) {
		t.Errorf("tags = %v", p.Tags)
	}
}

func TestDecodeDenseCoordinates(t *testing.T) {
	tests := []struct {
		name        string
		granularity int64
		lonOffset   int64
		latOffset   int64
		lon, lat    int64
		wantLon     float64
		wantLat     float64
	}{
		{"centidegrees", 100, 0, 0, 100000, 200000, 0.01, 0.02},
		{"with offsets", 100, 1000000000, -2000000000, 0, 0, 1, -2},
		{"coarse granularity", 1000, 0, 0, 7424600, 43738400, 7.4246, 43.7384},
		{"negative", 100, 0, 0, -1278000, 515074000, -0.1278, 51.5074},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := testBlock()
			block.Granularity = tt.granularity
			block.LonOffset = tt.lonOffset
			block.LatOffset = tt.latOffset

			dense := &osmpb.DenseNodes{
				IDs:      []int64{9},
				Lons:     []int64{tt.lon},
				Lats:     []int64{tt.lat},
				KeysVals: []int32{1, 2, 0},
			}
			got, err := NewDecoder(nil, nil).DecodeDense(block, dense)
			if err != nil {
				t.Fatalf("DecodeDense: %v", err)
			}
			p := got[0].(*osmdata.Point)
			want := [2]float64{
				float64(tt.lon*tt.granularity+tt.lonOffset) / 1e9,
				float64(tt.lat*tt.granularity+tt.latOffset) / 1e9,
			}
			if p.Location.Lon() != want[0] || p.Location.Lat() != want[1] {
				t.Errorf("location = %v, want %v", p.Location, want)
			}
			if diff := p.Location.Lon() - tt.wantLon; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("lon = %v, want about %v", p.Location.Lon(), tt.wantLon)
			}
			if diff := p.Location.Lat() - tt.wantLat; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("lat = %v, want about %v", p.Location.Lat(), tt.wantLat)
			}
		})
	}
}

func TestDecodeDenseFiltering(t *testing.T) {
	block := testBlock()
	dense := &osmpb.DenseNodes{
		IDs:  []int64{10, 1, 1, 1, 1},
		Lons: []int64{0, 0, 0, 0, 0},
		Lats: []int64{0, 0, 0, 0, 0},
		KeysVals: []int32{
			5, 6, 0, // name
			0, // untagged
			7, 8, 0, // not whitelisted
			1, 2, 3, 4, 0, // highway + created_by
			3, 4, 0, // provenance only
		},
	}

	got, err := NewDecoder(nil, nil).DecodeDense(block, dense)
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}

	var ids []int64
	for _, e := range got {
		if len(e.EntityTags()) == 0 {
			t.Errorf("entity %d emitted with empty tags", e.EntityID())
		}
		ids = append(ids, e.EntityID())
	}
	if !reflect.DeepEqual(ids, []int64{10, 13}) {
		t.Errorf("ids = %v, want [10 13]", ids)
	}
	if tags := got[1].EntityTags(); len(tags) != 1 || tags["highway"] != "residential" {
		t.Errorf("tags = %v, want highway only", tags)
	}
}

func TestDecodeDenseProvenanceBlacklist(t *testing.T) {
	block := testBlock()
	filter := style.NewFilter(&style.Config{
		Keys:       []string{"created_by", "highway"},
		Provenance: []string{"created_by"},
	})
	dense := &osmpb.DenseNodes{
		IDs:      []int64{1, 1},
		Lons:     []int64{0, 0},
		Lats:     []int64{0, 0},
		KeysVals: []int32{3, 4, 0, 3, 4, 1, 2, 0},
	}

	got, err := NewDecoder(filter, nil).DecodeDense(block, dense)
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}
	if len(got) != 1 || got[0].EntityID() != 2 {
		t.Fatalf("got %d entities, want only node 2", len(got))
	}
	if len(got[0].EntityTags()) != 2 {
		t.Errorf("tags = %v, want created_by and highway", got[0].EntityTags())
	}
}

func TestDecodeDenseNoTags(t *testing.T) {
	dense := &osmpb.DenseNodes{
		IDs:  []int64{1, 1, 1},
		Lons: []int64{0, 0, 0},
		Lats: []int64{0, 0, 0},
	}
	got, err := NewDecoder(nil, nil).DecodeDense(testBlock(), dense)
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entities, want 0", len(got))
	}
}

func TestDecodeDenseErrors(t *testing.T) {
	tests := []struct {
		name  string
		dense *osmpb.DenseNodes
		want  error
	}{
		{
			name:  "lat length",
			dense: &osmpb.DenseNodes{IDs: []int64{1, 1}, Lats: []int64{0}, Lons: []int64{0, 0}},
			want:  ErrLengthMismatch,
		},
		{
			name:  "too few runs",
			dense: &osmpb.DenseNodes{IDs: []int64{1, 1}, Lats: []int64{0, 0}, Lons: []int64{0, 0}, KeysVals: []int32{1, 2, 0}},
			want:  ErrLengthMismatch,
		},
		{
			name:  "too many runs",
			dense: &osmpb.DenseNodes{IDs: []int64{1}, Lats: []int64{0}, Lons: []int64{0}, KeysVals: []int32{0, 1, 2, 0}},
			want:  ErrLengthMismatch,
		},
		{
			name:  "dangling key",
			dense: &osmpb.DenseNodes{IDs: []int64{1}, Lats: []int64{0}, Lons: []int64{0}, KeysVals: []int32{1}},
			want:  ErrLengthMismatch,
		},
		{
			name:  "string index",
			dense: &osmpb.DenseNodes{IDs: []int64{1}, Lats: []int64{0}, Lons: []int64{0}, KeysVals: []int32{1, 99, 0}},
			want:  ErrStringIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(nil, nil).DecodeDense(testBlock(), tt.dense)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeDenseStringTableEntryZero(t *testing.T) {
	dense := &osmpb.DenseNodes{IDs: []int64{1}, Lats: []int64{0}, Lons: []int64{0}, KeysVals: []int32{1, 2, 0}}

	tests := []struct {
		name  string
		table [][]byte
	}{
		{"non-empty entry 0", [][]byte{[]byte("name"), []byte("highway"), []byte("residential")}},
		{"empty table", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := testBlock()
			block.StringTable = tt.table
			got, err := NewDecoder(nil, nil).DecodeDense(block, dense)
			if !errors.Is(err, ErrStringIndex) {
				t.Errorf("DecodeDense = %d entities, %v; want ErrStringIndex", len(got), err)
			}
		})
	}

	// Untagged groups never read the table
	block := testBlock()
	block.StringTable = nil
	untagged := &osmpb.DenseNodes{IDs: []int64{1}, Lats: []int64{0}, Lons: []int64{0}}
	if _, err := NewDecoder(nil, nil).DecodeDense(block, untagged); err != nil {
		t.Errorf("untagged group: %v", err)
	}
}

func TestDecodeDeltaRoundTrip(t *testing.T) {
	dense := &osmpb.DenseNodes{
		IDs:      []int64{100, -3, 0, 7, 1 << 40},
		Lats:     []int64{5, 5, -5, 0, 1},
		Lons:     []int64{-1, 2, -3, 4, -5},
		KeysVals: []int32{1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2, 0},
	}
	points, err := NewDecoder(nil, nil).DecodeDense(testBlock(), dense)
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}
	var ids []int64
	for _, e := range points {
		ids = append(ids, e.EntityID())
	}
	if got := Delta(ids); !reflect.DeepEqual(got, dense.IDs) {
		t.Errorf("Delta(ids) = %v, want %v", got, dense.IDs)
	}

	way := &osmpb.Way{ID: 1, Keys: []uint32{1}, Vals: []uint32{2}, Refs: []int64{10, -4, 0, 9, -20}}
	lines, err := NewDecoder(nil, nil).DecodeWays(testBlock(), []*osmpb.Way{way})
	if err != nil {
		t.Fatalf("DecodeWays: %v", err)
	}
	if got := Delta(lines[0].(*osmdata.Line).RefIDs()); !reflect.DeepEqual(got, way.Refs) {
		t.Errorf("Delta(refs) = %v, want %v", got, way.Refs)
	}
}

func TestDecodeWays(t *testing.T) {
	ways := []*osmpb.Way{
		{ID: 100, Keys: []uint32{1, 5}, Vals: []uint32{2, 6}, Refs: []int64{10, 1, 5, -2}},
		{ID: 101, Keys: []uint32{7}, Vals: []uint32{8}, Refs: []int64{1, 1}},
		{ID: 102, Refs: []int64{3}},
		{ID: 103, Keys: []uint32{3}, Vals: []uint32{4}, Refs: []int64{3, 3}},
	}

	filter := style.NewFilter(&style.Config{
		Keys:       append(style.DefaultConfig().Keys, "created_by"),
		Provenance: []string{"created_by"},
	})
	got, err := NewDecoder(filter, nil).DecodeWays(testBlock(), ways)
	if err != nil {
		t.Fatalf("DecodeWays: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}

	line := got[0].(*osmdata.Line)
	if line.ID != 100 {
		t.Errorf("id = %d, want 100", line.ID)
	}
	if !reflect.DeepEqual(line.Refs, []osm.NodeID{10, 11, 16, 14}) {
		t.Errorf("refs = %v, want [10 11 16 14]", line.Refs)
	}
	if !reflect.DeepEqual(line.Tags, osmdata.Tags{"highway": "residential", "name": "Main St"}) {
		t.Errorf("tags = %v", line.Tags)
	}

	// Ways use the whitelist only, so a provenance key is enough
	if got[1].EntityID() != 103 {
		t.Errorf("second line = %d, want 103", got[1].EntityID())
	}
}

func TestDecodeWaysErrors(t *testing.T) {
	_, err := NewDecoder(nil, nil).DecodeWays(testBlock(), []*osmpb.Way{
		{ID: 1, Keys: []uint32{1, 5}, Vals: []uint32{2}},
	})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", err)
	}

	_, err = NewDecoder(nil, nil).DecodeWays(testBlock(), []*osmpb.Way{
		{ID: 1, Keys: []uint32{42}, Vals: []uint32{2}},
	})
	if !errors.Is(err, ErrStringIndex) {
		t.Errorf("err = %v, want ErrStringIndex", err)
	}
}

func TestDecodeDeterministic(t *testing.T) {
	block := testBlock(
		&osmpb.PrimitiveGroup{Dense: &osmpb.DenseNodes{
			IDs:      []int64{5, 1, 1},
			Lons:     []int64{74246000, 12, -7},
			Lats:     []int64{437384000, -3, 9},
			KeysVals: []int32{1, 2, 5, 6, 0, 0, 5, 6, 0},
		}},
		&osmpb.PrimitiveGroup{Ways: []*osmpb.Way{
			{ID: 9, Keys: []uint32{1, 5}, Vals: []uint32{2, 6}, Refs: []int64{5, 1, 1}},
		}},
	)
	data := osmpbtest.Block(block)

	decodeAll := func() []Group {
		parsed, err := osmpb.ParsePrimitiveBlock(data)
		if err != nil {
			t.Fatalf("ParsePrimitiveBlock: %v", err)
		}
		groups, _, err := NewDecoder(nil, nil).DecodeBlock(parsed)
		if err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
		return groups
	}

	first, second := decodeAll(), decodeAll()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decoding twice differs:\n%+v\n%+v", first, second)
	}
	if len(first) != 2 || len(first[0].Entities) != 2 || len(first[1].Entities) != 1 {
		t.Errorf("unexpected decode result: %+v", first)
	}
}

func TestDecodeWithTransform(t *testing.T) {
	script, err := tagtransform.LoadString(`
function filter_tags_node(tags)
	if tags.name == "Main St" then return 1, tags end
	return 0, tags
end
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	defer script.Close()

	dense := &osmpb.DenseNodes{
		IDs:      []int64{1, 1},
		Lons:     []int64{0, 0},
		Lats:     []int64{0, 0},
		KeysVals: []int32{5, 6, 0, 1, 2, 0},
	}
	got, err := NewDecoder(nil, script).DecodeDense(testBlock(), dense)
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}
	if len(got) != 1 || got[0].EntityID() != 2 {
		t.Errorf("got %v, want only node 2", got)
	}

	// A transform that leaves only provenance keys drops the node
	provenance, err := tagtransform.LoadString(`
function filter_tags_node(tags) return 0, {source = "survey"} end
function filter_tags_way(tags) return 0, {source = "survey"} end
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	defer provenance.Close()

	d := NewDecoder(nil, provenance)
	got, err = d.DecodeDense(testBlock(), &osmpb.DenseNodes{
		IDs: []int64{1}, Lons: []int64{0}, Lats: []int64{0}, KeysVals: []int32{1, 2, 0},
	})
	if err != nil {
		t.Fatalf("DecodeDense: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d points, want none: %v", len(got), got[0].EntityTags())
	}

	// Ways have no provenance step
	lines, err := d.DecodeWays(testBlock(), []*osmpb.Way{{ID: 5, Keys: []uint32{1}, Vals: []uint32{2}}})
	if err != nil {
		t.Fatalf("DecodeWays: %v", err)
	}
	if len(lines) != 1 || !reflect.DeepEqual(lines[0].EntityTags(), osmdata.Tags{"source": "survey"}) {
		t.Errorf("lines = %v", lines)
	}
}
