package osmdata

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Kind identifies the collection a primitive group carries
type Kind uint8

const (
	KindDenseNodes Kind = iota
	KindNodes
	KindWays
	KindRelations
)

func (k Kind) String() string {
	switch k {
	case KindDenseNodes:
		return "dense_nodes"
	case KindNodes:
		return "nodes"
	case KindWays:
		return "ways"
	case KindRelations:
		return "relations"
	default:
		return "unknown"
	}
}

// ParseKind parses the String form of a kind
func ParseKind(s string) (Kind, error) {
	for k := KindDenseNodes; k <= KindRelations; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown group kind %q", s)
}

// Valid reports whether k is one of the known group kinds
func (k Kind) Valid() bool {
	return k <= KindRelations
}

// Tags is a filtered OSM tag set. Keys are unique; order carries no meaning.
type Tags map[string]string

// Entity is a decoded OSM object ready for storage. It is either a Point or a Line.
type Entity interface {
	EntityID() int64
	EntityTags() Tags
	isEntity()
}

// Point is a tagged node with its location in degrees
type Point struct {
	ID       osm.NodeID
	Location orb.Point // X=lon, Y=lat
	Tags     Tags
}

func (p *Point) EntityID() int64  { return int64(p.ID) }
func (p *Point) EntityTags() Tags { return p.Tags }
func (*Point) isEntity()          {}

// Line is a tagged way with its ordered node references
type Line struct {
	ID   osm.WayID
	Refs []osm.NodeID
	Tags Tags
}

func (l *Line) EntityID() int64  { return int64(l.ID) }
func (l *Line) EntityTags() Tags { return l.Tags }
func (*Line) isEntity()          {}

// RefIDs returns the node references as plain int64 values
func (l *Line) RefIDs() []int64 {
	ids := make([]int64, len(l.Refs))
	for i, r := range l.Refs {
		ids[i] = int64(r)
	}
	return ids
}
