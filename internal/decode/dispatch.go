package decode

import (
	"errors"
	"fmt"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/osmpb"
)

// ErrUnknownGroup is returned for a group that carries no primitives
var ErrUnknownGroup = errors.New("decode: group has no nodes, ways or relations")

// Group is the decoded content of one primitive group
type Group struct {
	Kind osmdata.Kind
	// FirstID is the first identifier stored in the group, before filtering
	FirstID  int64
	Entities []osmdata.Entity
}

// Classify returns the kind of a group, checking dense nodes, nodes, ways
// and relations in that order
func Classify(g *osmpb.PrimitiveGroup) (osmdata.Kind, error) {
	switch {
	case g.Dense != nil && len(g.Dense.IDs) > 0:
		return osmdata.KindDenseNodes, nil
	case len(g.Nodes) > 0:
		return osmdata.KindNodes, nil
	case len(g.Ways) > 0:
		return osmdata.KindWays, nil
	case len(g.Relations) > 0:
		return osmdata.KindRelations, nil
	}
	return 0, ErrUnknownGroup
}

// DecodeGroup classifies and decodes one group. The boolean is false when
// no decoder handles the group's kind; such groups are skipped, not errors.
func (d *Decoder) DecodeGroup(block *osmpb.PrimitiveBlock, g *osmpb.PrimitiveGroup) (Group, bool, error) {
	kind, err := Classify(g)
	if err != nil {
		return Group{}, false, err
	}

	switch kind {
	case osmdata.KindDenseNodes:
		entities, err := d.DecodeDense(block, g.Dense)
		if err != nil {
			return Group{}, false, err
		}
		return Group{Kind: kind, FirstID: g.Dense.IDs[0], Entities: entities}, true, nil

	case osmdata.KindWays:
		entities, err := d.DecodeWays(block, g.Ways)
		if err != nil {
			return Group{}, false, err
		}
		return Group{Kind: kind, FirstID: g.Ways[0].ID, Entities: entities}, true, nil

	case osmdata.KindNodes, osmdata.KindRelations:
		// No decoder for plain nodes or relations
		return Group{Kind: kind}, false, nil
	}
	return Group{}, false, ErrUnknownGroup
}

// DecodeBlock decodes every handled group of a block in order. Groups no
// decoder handles are left out and counted in skipped.
func (d *Decoder) DecodeBlock(block *osmpb.PrimitiveBlock) (groups []Group, skipped int, err error) {
	for i, g := range block.Groups {
		group, ok, err := d.DecodeGroup(block, g)
		if err != nil {
			return nil, 0, fmt.Errorf("group %d: %w", i, err)
		}
		if !ok {
			skipped++
			continue
		}
		groups = append(groups, group)
	}
	return groups, skipped, nil
}
