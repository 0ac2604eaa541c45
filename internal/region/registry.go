package region

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/tag"
)

// ErrInvalidPOI is returned for points of interest with non-finite coordinates.
var ErrInvalidPOI = errors.New("invalid point of interest")

// DefaultAreaRoot is the tag under which area tags (and region types) live.
var DefaultAreaRoot = tag.MustNew("Regions.Areas")

// Options configures a Registry.
type Options struct {
	// CellSize is the spatial grid cell edge in world units.
	CellSize float64
	// MaxCellsPerRegion moves larger regions to the oversized list.
	MaxCellsPerRegion int
	// AreaRoot is the root for region type classification.
	AreaRoot tag.Tag
}

// DefaultOptions returns Options with default grid settings.
func DefaultOptions() Options {
	return Options{
		CellSize:          DefaultCellSize,
		MaxCellsPerRegion: DefaultMaxCellsPerRegion,
		AreaRoot:          DefaultAreaRoot,
	}
}

type opKind uint8

const (
	opCreate opKind = iota + 1
	opDestroy
	opSetTags
	opSetVolume
	opSetPriority
)

type command struct {
	op       opKind
	id       ID
	name     string
	volume   geom.Volume
	tags     tag.Set
	priority int
	pois     []geom.Point3
}

// TickReport summarizes one Tick.
type TickReport struct {
	Tick       uint64
	Generation uint64
	// Applied is the number of queued region mutations applied.
	Applied int
	// Agents is the number of tracked agents after the tick.
	Agents int
	// Evaluated counts agents whose membership was recomputed.
	Evaluated int
	Enters    int
	Exits     int
	// Skipped agents had non-finite positions; their membership is unchanged.
	Skipped []AgentHandle
	// Dropped agents vanished from the position source.
	Dropped  []AgentHandle
	Duration time.Duration
}

// Registry owns all regions, the spatial index and agent occupancy.
//
// Mutations (Create, Destroy, Set*, Track) are safe from any goroutine: they are
// validated immediately and applied at the start of the next Tick. Tick and
// Unregister serialize on an internal lock. Readers use Query, which returns
// the snapshot published by the last completed tick.
type Registry struct {
	opts      Options
	positions PositionSource
	bus       *bus

	qmu      sync.Mutex
	queue    []command
	live     map[ID]struct{} // created or pending, not destroyed
	tracking map[AgentHandle]struct{}
	nextID   ID

	generation atomic.Uint64

	tickMu  sync.Mutex
	tick    uint64
	regions map[ID]*region
	index   *Index
	agents  map[AgentHandle]*agent
	order   []AgentHandle // sorted

	snapshot atomic.Pointer[Snapshot]
}

// New creates a registry reading agent positions from positions.
func New(positions PositionSource, opts Options) *Registry {
	if positions == nil {
		positions = NewPositionTable()
	}
	if !opts.AreaRoot.IsValid() {
		opts.AreaRoot = DefaultAreaRoot
	}
	r := &Registry{
		opts:      opts,
		positions: positions,
		bus:       newBus(),
		live:      make(map[ID]struct{}),
		tracking:  make(map[AgentHandle]struct{}),
		regions:   make(map[ID]*region),
		index:     NewIndex(opts.CellSize, opts.MaxCellsPerRegion),
		agents:    make(map[AgentHandle]*agent),
	}
	r.snapshot.Store(emptySnapshot(r.index.Clone(), opts.AreaRoot))
	return r
}

// Generation returns the current generation counter. It increases with every
// applied region mutation and every tick that changed occupancy.
func (r *Registry) Generation() uint64 { return r.generation.Load() }

// Query returns the snapshot published by the most recently completed tick.
func (r *Registry) Query() *Snapshot { return r.snapshot.Load() }

// Create validates spec, reserves an ID and queues the region for the next tick.
func (r *Registry) Create(spec Spec) (ID, error) {
	if err := validVolume(spec.Volume); err != nil {
		return 0, fmt.Errorf("create region %q: %w", spec.Name, err)
	}
	tags, err := tag.NewSet(spec.Tags...)
	if err != nil {
		return 0, fmt.Errorf("create region %q: %w", spec.Name, err)
	}
	for _, p := range spec.POIs {
		if !geom.IsFinite(p) {
			return 0, fmt.Errorf("create region %q: poi %v: %w", spec.Name, p, ErrInvalidPOI)
		}
	}

	r.qmu.Lock()
	r.nextID++
	id := r.nextID
	r.live[id] = struct{}{}
	r.queue = append(r.queue, command{
		op:       opCreate,
		id:       id,
		name:     spec.Name,
		volume:   spec.Volume,
		tags:     tags,
		priority: spec.Priority,
		pois:     slices.Clone(spec.POIs),
	})
	r.qmu.Unlock()

	slog.Debug("region create queued", "id", id, "name", spec.Name, "tags", tags.Strings())
	return id, nil
}

// Destroy queues removal of a region. Every agent inside receives a synthetic
// exit on the next tick. A stale id yields ErrNotFound and changes nothing.
func (r *Registry) Destroy(id ID) error {
	if err := r.enqueue(command{op: opDestroy, id: id}, true); err != nil {
		slog.Warn("destroy of unknown region", "id", id)
		return fmt.Errorf("destroy region %d: %w", id, err)
	}
	return nil
}

// SetTags queues a tag replacement.
func (r *Registry) SetTags(id ID, tags ...tag.Tag) error {
	set, err := tag.NewSet(tags...)
	if err != nil {
		return fmt.Errorf("set tags of region %d: %w", id, err)
	}
	if err := r.enqueue(command{op: opSetTags, id: id, tags: set}, false); err != nil {
		return fmt.Errorf("set tags of region %d: %w", id, err)
	}
	return nil
}

// SetVolume queues a volume replacement. Agents near the old or new bounds are
// rechecked on the next tick.
func (r *Registry) SetVolume(id ID, v geom.Volume) error {
	if err := validVolume(v); err != nil {
		return fmt.Errorf("set volume of region %d: %w", id, err)
	}
	if err := r.enqueue(command{op: opSetVolume, id: id, volume: v}, false); err != nil {
		return fmt.Errorf("set volume of region %d: %w", id, err)
	}
	return nil
}

// SetPriority queues a priority change.
func (r *Registry) SetPriority(id ID, priority int) error {
	if err := r.enqueue(command{op: opSetPriority, id: id, priority: priority}, false); err != nil {
		return fmt.Errorf("set priority of region %d: %w", id, err)
	}
	return nil
}

// Track starts occupancy tracking for an agent from the next tick on.
func (r *Registry) Track(agent AgentHandle) {
	r.qmu.Lock()
	r.tracking[agent] = struct{}{}
	r.qmu.Unlock()
}

// Subscribe registers fn for enter/exit events of one region. The subscription
// ends when the returned cancel func is called or the region is destroyed.
func (r *Registry) Subscribe(id ID, fn Listener) (cancel func(), err error) {
	// Holding qmu orders the subscription before any Destroy of id, so the
	// tick that applies the Destroy also drops this listener.
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if _, ok := r.live[id]; !ok {
		return nil, fmt.Errorf("subscribe to region %d: %w", id, ErrNotFound)
	}
	return r.bus.subscribeRegion(id, fn), nil
}

// SubscribeAll registers fn for every enter/exit event.
func (r *Registry) SubscribeAll(fn Listener) (cancel func()) {
	return r.bus.subscribeAll(fn)
}

// OnLifecycle registers fn for region added/removed/updated notifications.
func (r *Registry) OnLifecycle(fn LifecycleListener) (cancel func()) {
	return r.bus.subscribeLifecycle(fn)
}

func (r *Registry) enqueue(cmd command, destroy bool) error {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if _, ok := r.live[cmd.id]; !ok {
		return ErrNotFound
	}
	if destroy {
		delete(r.live, cmd.id)
	}
	r.queue = append(r.queue, cmd)
	return nil
}

func (r *Registry) drain() ([]command, []AgentHandle) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	cmds := r.queue
	r.queue = nil
	tracks := make([]AgentHandle, 0, len(r.tracking))
	for h := range r.tracking {
		tracks = append(tracks, h)
	}
	clear(r.tracking)
	slices.Sort(tracks)
	return cmds, tracks
}

func validVolume(v geom.Volume) error {
	if v == nil {
		return fmt.Errorf("nil volume: %w", ErrInvalidVolume)
	}
	if !v.Bounds().Valid() {
		return fmt.Errorf("bounds %v: %w: %w", v.Bounds(), ErrInvalidVolume, geom.ErrDegenerate)
	}
	return nil
}

// Tick applies queued mutations, recomputes occupancy for every tracked agent,
// emits events and publishes a new snapshot. It must be called from one
// goroutine at a time; concurrent calls are serialized.
func (r *Registry) Tick() TickReport {
	start := time.Now()

	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.tick++
	report := TickReport{Tick: r.tick}

	cmds, tracks := r.drain()
	regionsChanged := r.apply(cmds, &report)
	for _, h := range tracks {
		r.addAgent(h)
	}

	swept := r.sweep(&report)
	if swept {
		r.generation.Add(1)
	}
	occupancyChanged := regionsChanged || swept || len(tracks) > 0

	r.publish(regionsChanged, occupancyChanged)

	report.Generation = r.generation.Load()
	report.Agents = len(r.agents)
	report.Duration = time.Since(start)
	return report
}

// Unregister stops tracking an agent immediately, emitting exits for all of
// its memberships first. It reports whether the agent was tracked.
func (r *Registry) Unregister(h AgentHandle) bool {
	r.qmu.Lock()
	_, pending := r.tracking[h]
	delete(r.tracking, h)
	r.qmu.Unlock()

	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	a, ok := r.agents[h]
	if !ok {
		return pending
	}
	exits := r.evictAgent(a)
	r.removeAgent(h)
	if exits > 0 {
		r.generation.Add(1)
	}
	r.publish(false, true)

	slog.Debug("agent unregistered", "agent", h, "exits", exits)
	return true
}

// apply runs queued mutations in request order.
func (r *Registry) apply(cmds []command, report *TickReport) bool {
	if len(cmds) == 0 {
		return false
	}

	for _, cmd := range cmds {
		var kind LifecycleKind
		switch cmd.op {
		case opCreate:
			reg := &region{
				id:        cmd.id,
				name:      cmd.name,
				volume:    cmd.volume,
				tags:      cmd.tags,
				priority:  cmd.priority,
				pois:      cmd.pois,
				occupants: make(map[AgentHandle]struct{}),
			}
			r.regions[cmd.id] = reg
			r.index.Insert(cmd.id, cmd.volume.Bounds())
			r.markDirty(cmd.volume.Bounds(), cmd.volume.Bounds())
			kind = RegionAdded
			slog.Info("region created", "id", cmd.id, "name", cmd.name, "priority", cmd.priority)

		case opDestroy:
			reg, ok := r.regions[cmd.id]
			if !ok {
				continue
			}
			report.Exits += r.evictRegion(reg)
			r.index.Remove(cmd.id)
			delete(r.regions, cmd.id)
			kind = RegionRemoved
			slog.Info("region destroyed", "id", cmd.id, "name", reg.name)

		case opSetTags:
			reg, ok := r.regions[cmd.id]
			if !ok {
				continue
			}
			reg.tags = cmd.tags
			kind = RegionUpdated

		case opSetVolume:
			reg, ok := r.regions[cmd.id]
			if !ok {
				continue
			}
			old := reg.volume.Bounds()
			reg.volume = cmd.volume
			r.index.Insert(cmd.id, cmd.volume.Bounds())
			r.markDirty(old, cmd.volume.Bounds())
			kind = RegionUpdated

		case opSetPriority:
			reg, ok := r.regions[cmd.id]
			if !ok {
				continue
			}
			reg.priority = cmd.priority
			kind = RegionUpdated
		}

		report.Applied++
		gen := r.generation.Add(1)
		r.bus.emitLifecycle(LifecycleEvent{Kind: kind, Region: cmd.id, Generation: gen})
		if kind == RegionRemoved {
			r.bus.dropRegion(cmd.id)
		}
	}
	return report.Applied > 0
}

// markDirty schedules a recheck for agents whose last position lies in either box.
func (r *Registry) markDirty(old, cur geom.AABB) {
	for _, a := range r.agents {
		if a.placed && (old.Contains(a.pos) || cur.Contains(a.pos)) {
			a.dirty = true
		}
	}
}

func (r *Registry) addAgent(h AgentHandle) {
	if _, ok := r.agents[h]; ok {
		return
	}
	r.agents[h] = newAgent(h)
	i, _ := slices.BinarySearch(r.order, h)
	r.order = slices.Insert(r.order, i, h)
}

func (r *Registry) removeAgent(h AgentHandle) {
	delete(r.agents, h)
	if i, found := slices.BinarySearch(r.order, h); found {
		r.order = slices.Delete(r.order, i, i+1)
	}
}
