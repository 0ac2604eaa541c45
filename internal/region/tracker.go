package region

import (
	"log/slog"
	"slices"

	"github.com/udisondev/regionsys/internal/geom"
)

// Phase is the state of one (agent, region) pair. Entering and Exiting only
// exist while the tick emits the corresponding event; observers see Inside or
// Outside.
type Phase uint8

const (
	PhaseOutside Phase = iota
	PhaseEntering
	PhaseInside
	PhaseExiting
)

// agent is the registry's cached view of a tracked agent.
type agent struct {
	handle  AgentHandle
	pos     geom.Point3
	placed  bool // pos has been evaluated at least once
	dirty   bool // a region changed near pos
	members map[ID]Phase
}

func newAgent(h AgentHandle) *agent {
	return &agent{handle: h, members: make(map[ID]Phase)}
}

// sweep recomputes membership of every tracked agent in ascending handle order.
// It reports whether anything observable changed.
func (r *Registry) sweep(report *TickReport) bool {
	changed := false
	var dropped []AgentHandle

	for _, h := range r.order {
		a := r.agents[h]

		pos, ok := r.positions.Position(h)
		if !ok {
			report.Exits += r.evictAgent(a)
			dropped = append(dropped, h)
			changed = true
			continue
		}
		if !geom.IsFinite(pos) {
			report.Skipped = append(report.Skipped, h)
			slog.Warn("skip agent with non-finite position", "agent", h, "tick", r.tick)
			continue
		}
		if a.placed && !a.dirty && pos == a.pos {
			continue
		}

		a.pos = pos
		a.placed = true
		a.dirty = false
		report.Evaluated++

		enters, exits := r.evaluate(a)
		report.Enters += enters
		report.Exits += exits
		if enters > 0 || exits > 0 {
			changed = true
		}
	}

	for _, h := range dropped {
		r.removeAgent(h)
		slog.Debug("agent dropped", "agent", h, "tick", r.tick)
	}
	report.Dropped = dropped
	return changed
}

// evaluate diffs the true membership at a.pos against the stored one and
// emits exits before enters, each ordered by descending priority.
func (r *Registry) evaluate(a *agent) (enters, exits int) {
	next := r.index.Query(a.pos) // ascending IDs
	n := 0
	for _, id := range next {
		if r.regions[id].volume.Contains(a.pos) {
			next[n] = id
			n++
		}
	}
	next = next[:n]

	var exited, entered []ID
	for id := range a.members {
		if _, found := slices.BinarySearch(next, id); !found {
			exited = append(exited, id)
		}
	}
	for _, id := range next {
		if _, ok := a.members[id]; !ok {
			entered = append(entered, id)
		}
	}
	if len(exited) == 0 && len(entered) == 0 {
		return 0, 0
	}

	order := byPriority(r.priorityOf)
	slices.SortFunc(exited, order)
	slices.SortFunc(entered, order)

	for _, id := range exited {
		r.leave(a, r.regions[id], false)
	}
	for _, id := range entered {
		reg := r.regions[id]
		a.members[id] = PhaseEntering
		reg.occupants[a.handle] = struct{}{}
		r.bus.emit(Event{Kind: EventEnter, Region: id, Agent: a.handle, Tick: r.tick})
		a.members[id] = PhaseInside
	}
	return len(entered), len(exited)
}

// leave removes the pair from both indices and emits the exit.
func (r *Registry) leave(a *agent, reg *region, synthetic bool) {
	a.members[reg.id] = PhaseExiting
	delete(reg.occupants, a.handle)
	r.bus.emit(Event{Kind: EventExit, Region: reg.id, Agent: a.handle, Tick: r.tick, Synthetic: synthetic})
	delete(a.members, reg.id)
}

// evictAgent emits synthetic exits for all memberships of a.
func (r *Registry) evictAgent(a *agent) int {
	ids := make([]ID, 0, len(a.members))
	for id := range a.members {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, byPriority(r.priorityOf))
	for _, id := range ids {
		r.leave(a, r.regions[id], true)
	}
	return len(ids)
}

// evictRegion emits synthetic exits to every occupant of reg, in handle order.
func (r *Registry) evictRegion(reg *region) int {
	handles := make([]AgentHandle, 0, len(reg.occupants))
	for h := range reg.occupants {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	for _, h := range handles {
		r.leave(r.agents[h], reg, true)
	}
	return len(handles)
}

func (r *Registry) priorityOf(id ID) int {
	if reg, ok := r.regions[id]; ok {
		return reg.priority
	}
	return 0
}
