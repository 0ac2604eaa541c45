package region

import (
	"sync"

	"github.com/udisondev/regionsys/internal/geom"
)

// PositionSource supplies agent positions each tick, typically backed by the
// navigation or movement system. ok=false means the agent no longer exists.
type PositionSource interface {
	Position(agent AgentHandle) (pos geom.Point3, ok bool)
}

// PositionFunc adapts a function to PositionSource.
type PositionFunc func(agent AgentHandle) (geom.Point3, bool)

// Position calls f.
func (f PositionFunc) Position(agent AgentHandle) (geom.Point3, bool) { return f(agent) }

// PositionTable is a concurrent PositionSource written by network or game
// goroutines and read by the tick.
type PositionTable struct {
	positions sync.Map // AgentHandle -> geom.Point3
}

// NewPositionTable creates an empty table.
func NewPositionTable() *PositionTable {
	return &PositionTable{}
}

// Set stores the latest position of an agent.
func (t *PositionTable) Set(agent AgentHandle, pos geom.Point3) {
	t.positions.Store(agent, pos)
}

// Delete forgets an agent; the registry drops it on its next tick.
func (t *PositionTable) Delete(agent AgentHandle) {
	t.positions.Delete(agent)
}

// Position implements PositionSource.
func (t *PositionTable) Position(agent AgentHandle) (geom.Point3, bool) {
	v, ok := t.positions.Load(agent)
	if !ok {
		return geom.Point3{}, false
	}
	return v.(geom.Point3), true
}

// Len returns the number of known agents.
func (t *PositionTable) Len() int {
	n := 0
	t.positions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
