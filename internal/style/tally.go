package style

import (
	"github.com/paulmach/osm"
)

// Tally counts OSM objects and how many of them keep tags after filtering.
// Nodes are filtered like dense nodes, ways with the whitelist only.
type Tally struct {
	Nodes     int64
	Ways      int64
	Relations int64
	Points    int64 // nodes with tags left
	Lines     int64 // ways with tags left
}

// Add counts one object
func (t *Tally) Add(f *Filter, obj osm.Object) {
	switch o := obj.(type) {
	case *osm.Node:
		t.Nodes++
		if len(f.ApplyDense(o.Tags.Map())) > 0 {
			t.Points++
		}
	case *osm.Way:
		t.Ways++
		if len(f.Apply(o.Tags.Map())) > 0 {
			t.Lines++
		}
	case *osm.Relation:
		t.Relations++
	}
}
