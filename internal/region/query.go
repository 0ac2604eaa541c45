package region

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/tag"
)

// Result wraps a query answer with the stamps of the snapshot it came from,
// so callers can tell whether a cached decision is stale.
type Result[T any] struct {
	Value      T
	Generation uint64
	Tick       uint64
}

// Snapshot is an immutable, tick-consistent view of the registry. It is the
// query surface for gameplay and AI code; none of its methods trigger a scan
// of agents. Hold one snapshot to get consistent answers across calls.
type Snapshot struct {
	generation uint64
	tick       uint64
	root       tag.Tag

	regions    map[ID]RegionInfo
	index      *Index
	occupants  map[ID][]AgentHandle // ascending
	membership map[AgentHandle][]ID // priority order
	agents     int
}

func emptySnapshot(index *Index, root tag.Tag) *Snapshot {
	return &Snapshot{
		root:       root,
		regions:    map[ID]RegionInfo{},
		index:      index,
		occupants:  map[ID][]AgentHandle{},
		membership: map[AgentHandle][]ID{},
	}
}

// publish builds the next snapshot. Unchanged parts are shared with the
// previous snapshot, so a quiet tick costs one allocation.
func (r *Registry) publish(regionsChanged, occupancyChanged bool) {
	prev := r.snapshot.Load()
	next := &Snapshot{
		generation: r.generation.Load(),
		tick:       r.tick,
		root:       r.opts.AreaRoot,
		regions:    prev.regions,
		index:      prev.index,
		occupants:  prev.occupants,
		membership: prev.membership,
		agents:     len(r.agents),
	}

	if regionsChanged {
		next.regions = make(map[ID]RegionInfo, len(r.regions))
		for id, reg := range r.regions {
			next.regions[id] = reg.info(r.opts.AreaRoot)
		}
		next.index = r.index.Clone()
	}

	if occupancyChanged {
		next.occupants = make(map[ID][]AgentHandle, len(r.regions))
		for id, reg := range r.regions {
			if len(reg.occupants) == 0 {
				continue
			}
			hs := make([]AgentHandle, 0, len(reg.occupants))
			for h := range reg.occupants {
				hs = append(hs, h)
			}
			slices.Sort(hs)
			next.occupants[id] = hs
		}

		order := byPriority(r.priorityOf)
		next.membership = make(map[AgentHandle][]ID, len(r.agents))
		for h, a := range r.agents {
			if len(a.members) == 0 {
				continue
			}
			ids := make([]ID, 0, len(a.members))
			for id := range a.members {
				ids = append(ids, id)
			}
			slices.SortFunc(ids, order)
			next.membership[h] = ids
		}
	}

	r.snapshot.Store(next)
}

func stamp[T any](s *Snapshot, v T) Result[T] {
	return Result[T]{Value: v, Generation: s.generation, Tick: s.tick}
}

// Generation returns the generation counter at publication time.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Tick returns the tick that published this snapshot (0 before the first tick).
func (s *Snapshot) Tick() uint64 { return s.tick }

// AreaRoot returns the tag under which region types are classified.
func (s *Snapshot) AreaRoot() tag.Tag { return s.root }

// TrackedAgents returns the number of tracked agents.
func (s *Snapshot) TrackedAgents() int { return s.agents }

// IsInside reports whether the agent occupies any region with a tag matching t
// hierarchically.
func (s *Snapshot) IsInside(agent AgentHandle, t tag.Tag) Result[bool] {
	for _, id := range s.membership[agent] {
		if s.regions[id].Tags.HasMatch(t) {
			return stamp(s, true)
		}
	}
	return stamp(s, false)
}

// RegionsAt returns the regions containing p, highest priority first, ties by ID.
func (s *Snapshot) RegionsAt(p geom.Point3) Result[[]ID] {
	if !geom.IsFinite(p) {
		return stamp(s, []ID{})
	}
	ids := s.index.Query(p)
	n := 0
	for _, id := range ids {
		if s.regions[id].Volume.Contains(p) {
			ids[n] = id
			n++
		}
	}
	ids = ids[:n]
	slices.SortFunc(ids, byPriority(s.priorityOf))
	return stamp(s, ids)
}

// AgentsIn returns the occupants of a region in ascending handle order.
func (s *Snapshot) AgentsIn(id ID) (Result[[]AgentHandle], error) {
	if _, ok := s.regions[id]; !ok {
		return stamp(s, []AgentHandle{}), fmt.Errorf("agents in region %d: %w", id, ErrNotFound)
	}
	return stamp(s, slices.Clone(s.occupants[id])), nil
}

// RegionsOf returns the regions an agent occupies, highest priority first.
func (s *Snapshot) RegionsOf(agent AgentHandle) Result[[]ID] {
	return stamp(s, slices.Clone(s.membership[agent]))
}

// ContainingRegion returns the most relevant region an agent is in: the one
// with the deepest area tag, falling back to priority order. ok is false when
// the agent is in no region.
func (s *Snapshot) ContainingRegion(agent AgentHandle) (res Result[ID], ok bool) {
	ids := s.membership[agent]
	if len(ids) == 0 {
		return stamp(s, ID(0)), false
	}
	best := ids[0]
	for _, id := range ids[1:] {
		if s.regions[id].AreaTag.Depth() > s.regions[best].AreaTag.Depth() {
			best = id
		}
	}
	return stamp(s, best), true
}

// Region returns the view of one region.
func (s *Snapshot) Region(id ID) (Result[RegionInfo], error) {
	info, ok := s.regions[id]
	if !ok {
		return stamp(s, RegionInfo{}), fmt.Errorf("region %d: %w", id, ErrNotFound)
	}
	return stamp(s, info), nil
}

// Regions returns all regions in ascending ID order.
func (s *Snapshot) Regions() Result[[]RegionInfo] {
	out := make([]RegionInfo, 0, len(s.regions))
	for _, info := range s.regions {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b RegionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return stamp(s, out)
}

// RegionsWithTag returns regions carrying a tag that matches t, by priority.
func (s *Snapshot) RegionsWithTag(t tag.Tag) Result[[]ID] {
	ids := []ID{}
	for id, info := range s.regions {
		if info.Tags.HasMatch(t) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, byPriority(s.priorityOf))
	return stamp(s, ids)
}

// RegionByTag finds the region tagged exactly t. With allowParents, it walks
// up the tag hierarchy until a tagged region is found. Ties go to priority order.
func (s *Snapshot) RegionByTag(t tag.Tag, allowParents bool) (Result[RegionInfo], bool) {
	for cur := t; cur.IsValid(); cur = cur.Parent() {
		var ids []ID
		for id, info := range s.regions {
			if info.Tags.Has(cur) {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			slices.SortFunc(ids, byPriority(s.priorityOf))
			return stamp(s, s.regions[ids[0]]), true
		}
		if !allowParents {
			break
		}
	}
	return stamp(s, RegionInfo{}), false
}

// RegionsInBox returns regions whose bounds overlap b, in ascending ID order.
// Editors use it for bulk operations.
func (s *Snapshot) RegionsInBox(b geom.AABB) Result[[]ID] {
	return stamp(s, s.index.QueryBox(b))
}

// RegionsContainingBox returns regions that fully contain b, by priority.
func (s *Snapshot) RegionsContainingBox(b geom.AABB) Result[[]ID] {
	ids := s.index.QueryBox(b)
	n := 0
	for _, id := range ids {
		if geom.ContainsBox(s.regions[id].Volume, b) {
			ids[n] = id
			n++
		}
	}
	ids = ids[:n]
	slices.SortFunc(ids, byPriority(s.priorityOf))
	return stamp(s, ids)
}

// ClosestPOI returns the point of interest of a region nearest to p.
// ok is false when the region has none.
func (s *Snapshot) ClosestPOI(id ID, p geom.Point3) (poi geom.Point3, ok bool, err error) {
	res, err := s.Region(id)
	if err != nil {
		return geom.Point3{}, false, err
	}
	best := -1.0
	for _, c := range res.Value.POIs {
		d := c.Sub(p).Len()
		if best < 0 || d < best {
			best, poi, ok = d, c, true
		}
	}
	return poi, ok, nil
}

// RandomPOI returns a random point of interest of a region.
func (s *Snapshot) RandomPOI(id ID, rng *rand.Rand) (poi geom.Point3, ok bool, err error) {
	res, err := s.Region(id)
	if err != nil {
		return geom.Point3{}, false, err
	}
	pois := res.Value.POIs
	if len(pois) == 0 {
		return geom.Point3{}, false, nil
	}
	return pois[rng.IntN(len(pois))], true, nil
}

func (s *Snapshot) priorityOf(id ID) int { return s.regions[id].Priority }
