// Package region implements the region registry: named, tagged volumes kept
// in a grid spatial index, per-tick occupancy tracking of agents with
// enter/exit events, and an immutable query snapshot published after every
// tick.
package region

import (
	"cmp"
	"slices"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/tag"
)

// ID is a stable region handle. IDs are never reused within a registry.
type ID uint64

// AgentHandle identifies a trackable entity. The registry never owns agents.
type AgentHandle uint64

// Type classifies a region by the depth of its area tag below the area root.
type Type uint8

const (
	TypeMaster Type = iota
	TypeSection
	TypeSubsection
	TypeRoom
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeMaster:
		return "Master"
	case TypeSection:
		return "Section"
	case TypeSubsection:
		return "Subsection"
	default:
		return "Room"
	}
}

// TypeOf maps an area tag to a region type relative to root:
// root itself is Master, one level below is Section, two is Subsection, deeper is Room.
func TypeOf(areaTag, root tag.Tag) Type {
	if !areaTag.Matches(root) {
		return TypeMaster
	}
	switch areaTag.Depth() - root.Depth() {
	case 0:
		return TypeMaster
	case 1:
		return TypeSection
	case 2:
		return TypeSubsection
	default:
		return TypeRoom
	}
}

// Spec describes a region to create.
type Spec struct {
	Name     string
	Volume   geom.Volume
	Tags     []tag.Tag
	Priority int
	POIs     []geom.Point3
}

// region is the registry-owned mutable record. Only the tick goroutine touches it.
type region struct {
	id        ID
	name      string
	volume    geom.Volume
	tags      tag.Set
	priority  int
	pois      []geom.Point3
	occupants map[AgentHandle]struct{}
}

func (r *region) info(root tag.Tag) RegionInfo {
	area := areaTag(r.tags, root)
	return RegionInfo{
		ID:       r.id,
		Name:     r.name,
		Volume:   r.volume,
		Tags:     r.tags,
		Priority: r.priority,
		POIs:     slices.Clone(r.pois),
		AreaTag:  area,
		Type:     TypeOf(area, root),
	}
}

// RegionInfo is a read-only view of a region as of a published snapshot.
type RegionInfo struct {
	ID       ID
	Name     string
	Volume   geom.Volume
	Tags     tag.Set
	Priority int
	POIs     []geom.Point3
	// AreaTag is the most detailed tag under the area root, if any.
	AreaTag tag.Tag
	Type    Type
}

// areaTag picks the deepest tag that lives under root.
func areaTag(tags tag.Set, root tag.Tag) tag.Tag {
	var best tag.Tag
	for _, t := range tags.Slice() {
		if t.Matches(root) && t.Depth() > best.Depth() {
			best = t
		}
	}
	return best
}

// byPriority orders regions highest priority first, ties by ascending ID.
func byPriority(prio func(ID) int) func(a, b ID) int {
	return func(a, b ID) int {
		if c := cmp.Compare(prio(b), prio(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	}
}
