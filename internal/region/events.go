package region

import (
	"sync"
)

// EventKind distinguishes occupancy transitions.
type EventKind uint8

const (
	EventEnter EventKind = iota + 1
	EventExit
)

// String returns "enter" or "exit".
func (k EventKind) String() string {
	switch k {
	case EventEnter:
		return "enter"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is an occupancy transition of one agent for one region.
type Event struct {
	Kind   EventKind
	Region ID
	Agent  AgentHandle
	Tick   uint64
	// Synthetic is set on exits not caused by movement: region destroyed,
	// agent unregistered or vanished from the position source.
	Synthetic bool
}

// Listener receives events on the tick goroutine. A listener may request
// region mutations (they are queued) but must not call Tick or Unregister.
type Listener func(Event)

// LifecycleKind distinguishes region lifecycle notifications.
type LifecycleKind uint8

const (
	RegionAdded LifecycleKind = iota + 1
	RegionRemoved
	RegionUpdated
)

// String returns the lifecycle kind name.
func (k LifecycleKind) String() string {
	switch k {
	case RegionAdded:
		return "added"
	case RegionRemoved:
		return "removed"
	case RegionUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// LifecycleEvent reports an applied region mutation.
type LifecycleEvent struct {
	Kind       LifecycleKind
	Region     ID
	Generation uint64
}

// LifecycleListener receives lifecycle notifications on the tick goroutine.
type LifecycleListener func(LifecycleEvent)

// bus fans events out to per-region, registry-wide and lifecycle subscribers.
// Subscriptions may change from any goroutine.
type bus struct {
	mu        sync.RWMutex
	nextID    uint64
	byRegion  map[ID]map[uint64]Listener
	all       map[uint64]Listener
	lifecycle map[uint64]LifecycleListener
}

func newBus() *bus {
	return &bus{
		byRegion:  make(map[ID]map[uint64]Listener),
		all:       make(map[uint64]Listener),
		lifecycle: make(map[uint64]LifecycleListener),
	}
}

func (b *bus) subscribeRegion(id ID, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	key := b.nextID
	subs, ok := b.byRegion[id]
	if !ok {
		subs = make(map[uint64]Listener)
		b.byRegion[id] = subs
	}
	subs[key] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.byRegion[id]; ok {
			delete(subs, key)
			if len(subs) == 0 {
				delete(b.byRegion, id)
			}
		}
	}
}

func (b *bus) subscribeAll(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	key := b.nextID
	b.all[key] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, key)
	}
}

func (b *bus) subscribeLifecycle(fn LifecycleListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	key := b.nextID
	b.lifecycle[key] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.lifecycle, key)
	}
}

// dropRegion forgets every per-region subscriber of a destroyed region.
func (b *bus) dropRegion(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byRegion, id)
}

// emit delivers ev to the region's subscribers first, then to global ones.
// Listeners are called without holding the lock so they can unsubscribe.
func (b *bus) emit(ev Event) {
	b.mu.RLock()
	subs := b.byRegion[ev.Region]
	listeners := make([]Listener, 0, len(subs)+len(b.all))
	for _, fn := range subs {
		listeners = append(listeners, fn)
	}
	for _, fn := range b.all {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (b *bus) emitLifecycle(ev LifecycleEvent) {
	b.mu.RLock()
	listeners := make([]LifecycleListener, 0, len(b.lifecycle))
	for _, fn := range b.lifecycle {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
