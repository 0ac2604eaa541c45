package region

import (
	"fmt"
	"slices"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/tag"
)

// Regions form a tree through their area tags: the parent of
// Regions.Areas.Town.Inn is the region tagged Regions.Areas.Town, or the
// nearest tagged ancestor above it. Regions without an area tag are outside
// the tree.

// ParentOf returns the nearest region whose area tag is an ancestor of the
// area tag of id. ok is false for roots and for regions outside the tree.
func (s *Snapshot) ParentOf(id ID) (res Result[ID], ok bool, err error) {
	info, found := s.regions[id]
	if !found {
		return stamp(s, ID(0)), false, fmt.Errorf("parent of region %d: %w", id, ErrNotFound)
	}
	if !info.AreaTag.IsValid() {
		return stamp(s, ID(0)), false, nil
	}
	for cur := info.AreaTag.Parent(); cur.IsValid() && cur.Matches(s.root); cur = cur.Parent() {
		if p, ok := s.regionWithArea(cur); ok {
			return stamp(s, p), true, nil
		}
	}
	return stamp(s, ID(0)), false, nil
}

// ChildrenOf returns every region below id in the tree, deepest last and by
// priority within a level.
func (s *Snapshot) ChildrenOf(id ID) (Result[[]ID], error) {
	info, found := s.regions[id]
	if !found {
		return stamp(s, []ID{}), fmt.Errorf("children of region %d: %w", id, ErrNotFound)
	}
	ids := []ID{}
	if !info.AreaTag.IsValid() {
		return stamp(s, ids), nil
	}
	for other, o := range s.regions {
		if other != id && o.AreaTag.Matches(info.AreaTag) && !o.AreaTag.MatchesExact(info.AreaTag) {
			ids = append(ids, other)
		}
	}
	slices.SortFunc(ids, s.byDepth(false))
	return stamp(s, ids), nil
}

// RegionOfType walks from id up the tree and returns the first region of
// type want. If the walk passes above want without a match, ok is false
// unless allowWrong is set, in which case the last region visited is returned.
func (s *Snapshot) RegionOfType(id ID, want Type, allowWrong bool) (res Result[ID], ok bool, err error) {
	if _, found := s.regions[id]; !found {
		return stamp(s, ID(0)), false, fmt.Errorf("region of type %s from %d: %w", want, id, ErrNotFound)
	}
	cur := id
	for {
		info := s.regions[cur]
		if info.Type == want && info.AreaTag.IsValid() {
			return stamp(s, cur), true, nil
		}
		if info.Type < want {
			break
		}
		parent, ok, _ := s.ParentOf(cur)
		if !ok {
			break
		}
		cur = parent.Value
	}
	if allowWrong {
		return stamp(s, cur), true, nil
	}
	return stamp(s, ID(0)), false, nil
}

// RegionAt returns the most detailed region of type want containing p. When
// none has that type, the most detailed containing region is returned
// instead; exact tells the two apart. ok is false when p is in no region.
func (s *Snapshot) RegionAt(p geom.Point3, want Type) (res Result[ID], exact, ok bool) {
	ids := s.RegionsAt(p).Value
	if len(ids) == 0 {
		return stamp(s, ID(0)), false, false
	}
	slices.SortFunc(ids, s.byDepth(true))
	for _, id := range ids {
		if info := s.regions[id]; info.Type == want && info.AreaTag.IsValid() {
			return stamp(s, id), true, true
		}
	}
	return stamp(s, ids[0]), false, true
}

// ContainingRegionOfType resolves the containing region of an agent and then
// walks up to the region of type want.
func (s *Snapshot) ContainingRegionOfType(agent AgentHandle, want Type) (Result[ID], bool) {
	cur, ok := s.ContainingRegion(agent)
	if !ok {
		return cur, false
	}
	res, ok, _ := s.RegionOfType(cur.Value, want, false)
	return res, ok
}

func (s *Snapshot) regionWithArea(t tag.Tag) (ID, bool) {
	var (
		best  ID
		found bool
	)
	order := byPriority(s.priorityOf)
	for id, info := range s.regions {
		if info.AreaTag.MatchesExact(t) && (!found || order(id, best) < 0) {
			best, found = id, true
		}
	}
	return best, found
}

// byDepth orders by area tag depth, then priority and ID.
func (s *Snapshot) byDepth(deepestFirst bool) func(a, b ID) int {
	order := byPriority(s.priorityOf)
	return func(a, b ID) int {
		da, db := s.regions[a].AreaTag.Depth(), s.regions[b].AreaTag.Depth()
		if da != db {
			if deepestFirst {
				return db - da
			}
			return da - db
		}
		return order(a, b)
	}
}
