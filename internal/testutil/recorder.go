package testutil

import (
	"slices"
	"sync"

	"github.com/udisondev/regionsys/internal/geom"
)

// Recorder collects values delivered to a callback, safe for concurrent use.
type Recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

// Record appends v. Its signature fits region listeners directly.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, v)
}

// All returns a copy of everything recorded so far.
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.vals)
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

// Reset drops everything recorded.
func (r *Recorder[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = nil
}

// Positions is a map-backed position source keyed by any handle type.
type Positions[K comparable] struct {
	mu sync.Mutex
	m  map[K]geom.Point3
}

// NewPositions returns an empty position source.
func NewPositions[K comparable]() *Positions[K] {
	return &Positions[K]{m: make(map[K]geom.Point3)}
}

// Set moves k to p.
func (p *Positions[K]) Set(k K, pos geom.Point3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[k] = pos
}

// Delete forgets k, as if the agent vanished.
func (p *Positions[K]) Delete(k K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, k)
}

// Position implements the registry's position source.
func (p *Positions[K]) Position(k K) (geom.Point3, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.m[k]
	return pos, ok
}
