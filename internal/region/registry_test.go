package region

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/tag"
	"github.com/udisondev/regionsys/internal/testutil"
)

type fixture struct {
	reg       *Registry
	positions *testutil.Positions[AgentHandle]
	events    *testutil.Recorder[Event]
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	positions := testutil.NewPositions[AgentHandle]()
	reg := New(positions, DefaultOptions())
	events := &testutil.Recorder[Event]{}
	cancel := reg.SubscribeAll(events.Record)
	t.Cleanup(cancel)
	return &fixture{reg: reg, positions: positions, events: events}
}

func axisBox(t testing.TB, lo, hi geom.Point3) geom.Volume {
	t.Helper()
	b, err := geom.NewAxisBox(lo, hi)
	require.NoError(t, err)
	return b
}

func (f *fixture) create(t testing.TB, spec Spec) ID {
	t.Helper()
	id, err := f.reg.Create(spec)
	require.NoError(t, err)
	return id
}

// move places an agent, starting to track it if needed.
func (f *fixture) move(h AgentHandle, p geom.Point3) {
	f.positions.Set(h, p)
	f.reg.Track(h)
}

func (f *fixture) tick() TickReport {
	f.events.Reset()
	return f.reg.Tick()
}

func ev(kind EventKind, id ID, h AgentHandle, tick uint64, synthetic bool) Event {
	return Event{Kind: kind, Region: id, Agent: h, Tick: tick, Synthetic: synthetic}
}

func TestScenario_SafeBoxEnterExit(t *testing.T) {
	f := newFixture(t)
	safe := tag.MustNew("Safe")
	id := f.create(t, Spec{
		Name:     "safe",
		Volume:   axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10}),
		Tags:     []tag.Tag{safe},
		Priority: 1,
	})
	const agent AgentHandle = 1

	f.move(agent, geom.Point3{20, 20, 20})
	f.tick()
	assert.Empty(t, f.events.All())
	assert.False(t, f.reg.Query().IsInside(agent, safe).Value)

	f.move(agent, geom.Point3{5, 5, 5})
	f.tick()
	assert.Equal(t, []Event{ev(EventEnter, id, agent, 2, false)}, f.events.All())
	inside := f.reg.Query().IsInside(agent, safe)
	assert.True(t, inside.Value)
	assert.Equal(t, uint64(2), inside.Tick)

	f.move(agent, geom.Point3{20, 0, 0})
	f.tick()
	assert.Equal(t, []Event{ev(EventExit, id, agent, 3, false)}, f.events.All())
	assert.False(t, f.reg.Query().IsInside(agent, safe).Value)
}

func TestScenario_PriorityOrdering(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, Spec{Name: "A", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10}), Priority: 1})
	b := f.create(t, Spec{Name: "B", Volume: axisBox(t, geom.Point3{5, 5, 5}, geom.Point3{15, 15, 15}), Priority: 5})
	f.tick()

	got := f.reg.Query().RegionsAt(geom.Point3{7, 7, 7})
	assert.Equal(t, []ID{b, a}, got.Value)
}

func TestRegionsAt_TieBrokenByID(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})
	first := f.create(t, Spec{Name: "first", Volume: vol, Priority: 3})
	second := f.create(t, Spec{Name: "second", Volume: vol, Priority: 3})
	low := f.create(t, Spec{Name: "low", Volume: vol, Priority: -1})
	f.tick()

	assert.Equal(t, []ID{first, second, low}, f.reg.Query().RegionsAt(geom.Point3{1, 1, 1}).Value)
	assert.Empty(t, f.reg.Query().RegionsAt(geom.Point3{100, 1, 1}).Value)
	assert.Empty(t, f.reg.Query().RegionsAt(geom.Point3{math.NaN(), 1, 1}).Value)
}

func TestBoundaryIsInside(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "cube", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})

	tests := []struct {
		name   string
		p      geom.Point3
		inside bool
	}{
		{"corner", geom.Point3{10, 10, 10}, true},
		{"face", geom.Point3{0, 5, 5}, true},
		{"within epsilon", geom.Point3{10 + geom.Epsilon/2, 5, 5}, true},
		{"just outside", geom.Point3{10.001, 5, 5}, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AgentHandle(i + 1)
			f.move(h, tt.p)
			f.tick()
			res := f.reg.Query().RegionsOf(h)
			if tt.inside {
				assert.Equal(t, []ID{id}, res.Value)
			} else {
				assert.Empty(t, res.Value)
			}
		})
	}
}

func TestExitBeforeEnter(t *testing.T) {
	f := newFixture(t)
	left := f.create(t, Spec{Name: "left", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	leftHigh := f.create(t, Spec{Name: "left-high", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10}), Priority: 9})
	right := f.create(t, Spec{Name: "right", Volume: axisBox(t, geom.Point3{20, 0, 0}, geom.Point3{30, 10, 10})})
	rightHigh := f.create(t, Spec{Name: "right-high", Volume: axisBox(t, geom.Point3{20, 0, 0}, geom.Point3{30, 10, 10}), Priority: 4})

	f.move(1, geom.Point3{5, 5, 5})
	f.tick()
	assert.Equal(t, []Event{
		ev(EventEnter, leftHigh, 1, 1, false),
		ev(EventEnter, left, 1, 1, false),
	}, f.events.All())

	f.move(1, geom.Point3{25, 5, 5})
	f.tick()
	assert.Equal(t, []Event{
		ev(EventExit, leftHigh, 1, 2, false),
		ev(EventExit, left, 1, 2, false),
		ev(EventEnter, rightHigh, 1, 2, false),
		ev(EventEnter, right, 1, 2, false),
	}, f.events.All())
}

func TestAgentsSweptInHandleOrder(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "room", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	for _, h := range []AgentHandle{30, 10, 20} {
		f.move(h, geom.Point3{1, 1, 1})
	}
	f.tick()

	assert.Equal(t, []Event{
		ev(EventEnter, id, 10, 1, false),
		ev(EventEnter, id, 20, 1, false),
		ev(EventEnter, id, 30, 1, false),
	}, f.events.All())

	res, err := f.reg.Query().AgentsIn(id)
	require.NoError(t, err)
	assert.Equal(t, []AgentHandle{10, 20, 30}, res.Value)
}

func TestDestroy_EmitsExitsAndEmptiesRegion(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "doomed", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.move(1, geom.Point3{1, 1, 1})
	f.move(2, geom.Point3{2, 2, 2})
	f.tick()

	require.NoError(t, f.reg.Destroy(id))
	report := f.tick()

	assert.Equal(t, []Event{
		ev(EventExit, id, 1, 2, true),
		ev(EventExit, id, 2, 2, true),
	}, f.events.All())
	assert.Equal(t, 2, report.Exits)

	snap := f.reg.Query()
	res, err := snap.AgentsIn(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, res.Value)
	assert.Empty(t, snap.RegionsOf(1).Value)
	assert.Empty(t, snap.RegionsAt(geom.Point3{1, 1, 1}).Value)
}

func TestDestroy_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "once", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})})
	f.tick()

	require.NoError(t, f.reg.Destroy(id))
	f.tick()
	gen := f.reg.Generation()

	err := f.reg.Destroy(id)
	assert.ErrorIs(t, err, ErrNotFound)
	report := f.tick()
	assert.Zero(t, report.Applied)
	assert.Equal(t, gen, f.reg.Generation())

	assert.ErrorIs(t, f.reg.Destroy(999), ErrNotFound)
}

func TestDestroy_BeforeFirstTick(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "never", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})})
	require.NoError(t, f.reg.Destroy(id))
	assert.ErrorIs(t, f.reg.Destroy(id), ErrNotFound)

	f.tick()
	_, err := f.reg.Query().Region(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})
	a := tag.MustNew("A")

	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"nil volume", Spec{Name: "x"}, ErrInvalidVolume},
		{"degenerate bounds", Spec{Name: "x", Volume: flatVolume{}}, geom.ErrDegenerate},
		{"duplicate tags", Spec{Name: "x", Volume: vol, Tags: []tag.Tag{a, a}}, ErrDuplicateTag},
		{"bad poi", Spec{Name: "x", Volume: vol, POIs: []geom.Point3{{math.Inf(1), 0, 0}}}, ErrInvalidPOI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reg.Create(tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	report := f.tick()
	assert.Zero(t, report.Applied)
	assert.Empty(t, f.reg.Query().Regions().Value)
}

// flatVolume has zero extent on every axis.
type flatVolume struct{}

func (flatVolume) Contains(geom.Point3) bool { return false }
func (flatVolume) Overlaps(geom.Volume) bool { return false }
func (flatVolume) Bounds() geom.AABB         { return geom.AABB{} }

func TestMutations_UnknownRegion(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})

	assert.ErrorIs(t, f.reg.SetTags(42, tag.MustNew("A")), ErrNotFound)
	assert.ErrorIs(t, f.reg.SetVolume(42, vol), ErrNotFound)
	assert.ErrorIs(t, f.reg.SetPriority(42, 1), ErrNotFound)
	_, err := f.reg.Subscribe(42, func(Event) {})
	assert.ErrorIs(t, err, ErrNotFound)

	id := f.create(t, Spec{Name: "x", Volume: vol})
	assert.ErrorIs(t, f.reg.SetVolume(id, nil), ErrInvalidVolume)
	assert.ErrorIs(t, f.reg.SetTags(id, tag.MustNew("A"), tag.MustNew("A")), ErrDuplicateTag)
}

func TestGeneration(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.reg.Generation())

	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})
	id := f.create(t, Spec{Name: "x", Volume: vol})
	assert.Zero(t, f.reg.Generation(), "mutations apply on tick")

	f.tick()
	assert.Equal(t, uint64(1), f.reg.Generation())

	require.NoError(t, f.reg.SetPriority(id, 2))
	require.NoError(t, f.reg.SetTags(id, tag.MustNew("B")))
	report := f.tick()
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, uint64(3), report.Generation)
	assert.Equal(t, uint64(3), f.reg.Query().Generation())

	f.tick()
	assert.Equal(t, uint64(3), f.reg.Generation(), "quiet tick keeps generation")

	f.move(1, geom.Point3{1, 1, 1})
	f.tick()
	assert.Equal(t, uint64(4), f.reg.Generation(), "occupancy change bumps generation")
}

func TestSetVolume_RechecksStationaryAgents(t *testing.T) {
	f := newFixture(t)
	near := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})
	far := axisBox(t, geom.Point3{100, 100, 100}, geom.Point3{110, 110, 110})
	id := f.create(t, Spec{Name: "moving", Volume: near})

	f.move(1, geom.Point3{5, 5, 5})
	f.tick()
	require.Equal(t, []ID{id}, f.reg.Query().RegionsOf(1).Value)

	require.NoError(t, f.reg.SetVolume(id, far))
	report := f.tick()
	assert.Equal(t, []Event{ev(EventExit, id, 1, 2, false)}, f.events.All())
	assert.Equal(t, 1, report.Evaluated)

	require.NoError(t, f.reg.SetVolume(id, near))
	f.tick()
	assert.Equal(t, []Event{ev(EventEnter, id, 1, 3, false)}, f.events.All())

	report = f.tick()
	assert.Zero(t, report.Evaluated, "unchanged agents are not re-evaluated")
}

func TestCreate_PicksUpStationaryAgents(t *testing.T) {
	f := newFixture(t)
	f.move(1, geom.Point3{5, 5, 5})
	f.tick()

	id := f.create(t, Spec{Name: "late", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.tick()
	assert.Equal(t, []Event{ev(EventEnter, id, 1, 2, false)}, f.events.All())
}

func TestNonFinitePositionSkipped(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "x", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.move(1, geom.Point3{5, 5, 5})
	f.tick()

	f.move(1, geom.Point3{math.NaN(), 0, 0})
	report := f.tick()

	assert.Equal(t, []AgentHandle{1}, report.Skipped)
	assert.Empty(t, f.events.All())
	assert.Equal(t, []ID{id}, f.reg.Query().RegionsOf(1).Value, "membership is kept")

	f.move(1, geom.Point3{50, 0, 0})
	f.tick()
	assert.Equal(t, []Event{ev(EventExit, id, 1, 3, false)}, f.events.All())
}

func TestVanishedAgentDropped(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "x", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.move(7, geom.Point3{5, 5, 5})
	f.tick()

	f.positions.Delete(7)
	report := f.tick()

	assert.Equal(t, []AgentHandle{7}, report.Dropped)
	assert.Equal(t, []Event{ev(EventExit, id, 7, 2, true)}, f.events.All())
	assert.Zero(t, f.reg.Query().TrackedAgents())

	res, err := f.reg.Query().AgentsIn(id)
	require.NoError(t, err)
	assert.Empty(t, res.Value)
}

func TestUnregister(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "x", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.move(1, geom.Point3{5, 5, 5})
	f.tick()
	f.events.Reset()
	gen := f.reg.Generation()

	assert.True(t, f.reg.Unregister(1))
	assert.Equal(t, []Event{ev(EventExit, id, 1, 1, true)}, f.events.All())
	assert.Equal(t, gen+1, f.reg.Generation())
	assert.Empty(t, f.reg.Query().RegionsOf(1).Value)
	assert.False(t, f.reg.Unregister(1))

	// Tracked but never ticked.
	f.reg.Track(2)
	assert.True(t, f.reg.Unregister(2))
	f.tick()
	assert.Zero(t, f.reg.Query().TrackedAgents())
}

func TestSubscribe_PerRegion(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, Spec{Name: "a", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	b := f.create(t, Spec{Name: "b", Volume: axisBox(t, geom.Point3{20, 0, 0}, geom.Point3{30, 10, 10})})

	var onA testutil.Recorder[Event]
	cancel, err := f.reg.Subscribe(a, onA.Record)
	require.NoError(t, err)

	f.move(1, geom.Point3{5, 5, 5})
	f.move(2, geom.Point3{25, 5, 5})
	f.tick()
	assert.Equal(t, []Event{ev(EventEnter, a, 1, 1, false)}, onA.All())
	assert.Equal(t, []Event{
		ev(EventEnter, a, 1, 1, false),
		ev(EventEnter, b, 2, 1, false),
	}, f.events.All())

	cancel()
	f.move(1, geom.Point3{50, 5, 5})
	f.tick()
	assert.Len(t, onA.All(), 1)
}

func TestSubscribe_RacingDestroyLeavesNoListener(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})

	for range 200 {
		id := f.create(t, Spec{Name: "short-lived", Volume: vol})
		f.tick()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.reg.Subscribe(id, func(Event) {})
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.reg.Destroy(id))
			f.reg.Tick()
		}()
		wg.Wait()

		f.reg.bus.mu.RLock()
		_, leaked := f.reg.bus.byRegion[id]
		f.reg.bus.mu.RUnlock()
		require.False(t, leaked, "listener of destroyed region %d survived", id)
	}
}

func TestListenerMayQueueMutations(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "trap", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})

	cancel, err := f.reg.Subscribe(id, func(e Event) {
		if e.Kind == EventEnter {
			assert.NoError(t, f.reg.Destroy(e.Region))
		}
	})
	require.NoError(t, err)
	defer cancel()

	f.move(1, geom.Point3{5, 5, 5})
	f.tick()
	assert.Equal(t, []Event{ev(EventEnter, id, 1, 1, false)}, f.events.All())

	f.tick()
	assert.Equal(t, []Event{ev(EventExit, id, 1, 2, true)}, f.events.All())
}

func TestOnLifecycle(t *testing.T) {
	f := newFixture(t)
	var rec testutil.Recorder[LifecycleEvent]
	defer f.reg.OnLifecycle(rec.Record)()

	id := f.create(t, Spec{Name: "x", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})})
	f.tick()
	require.NoError(t, f.reg.SetPriority(id, 5))
	require.NoError(t, f.reg.Destroy(id))
	f.tick()

	assert.Equal(t, []LifecycleEvent{
		{Kind: RegionAdded, Region: id, Generation: 1},
		{Kind: RegionUpdated, Region: id, Generation: 2},
		{Kind: RegionRemoved, Region: id, Generation: 3},
	}, rec.All())
}

// TestContainmentConsistency moves agents randomly and checks the published
// memberships against a brute-force containment scan.
func TestContainmentConsistency(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewPCG(1, 2))

	vols := []geom.Volume{
		axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{40, 40, 20}),
		axisBox(t, geom.Point3{30, 30, 0}, geom.Point3{90, 70, 10}),
	}
	rot, err := geom.NewBox(geom.Point3{50, 50, 5}, geom.Point3{20, 5, 5}, mgl64.QuatRotate(math.Pi/5, mgl64.Vec3{0, 0, 1}))
	require.NoError(t, err)
	sph, err := geom.NewSphere(geom.Point3{70, 20, 5}, 15)
	require.NoError(t, err)
	hull, err := geom.NewConvexHull([]mgl64.Vec2{{0, 60}, {40, 60}, {20, 100}}, -5, 15)
	require.NoError(t, err)
	vols = append(vols, rot, sph, hull)

	ids := make([]ID, len(vols))
	for i, v := range vols {
		ids[i] = f.create(t, Spec{Name: "r", Volume: v, Priority: rng.IntN(3)})
	}

	const agents = 50
	for step := range 30 {
		for h := range AgentHandle(agents) {
			f.move(h, geom.Point3{rng.Float64()*110 - 5, rng.Float64()*110 - 5, rng.Float64()*30 - 5})
		}
		f.tick()

		snap := f.reg.Query()
		for h := range AgentHandle(agents) {
			p, _ := f.positions.Position(h)
			var want []ID
			for i, v := range vols {
				if v.Contains(p) {
					want = append(want, ids[i])
				}
			}
			slices.SortFunc(want, byPriority(snap.priorityOf))
			got := snap.RegionsOf(h).Value
			if len(want) == 0 {
				assert.Empty(t, got, "step %d agent %d", step, h)
			} else {
				assert.Equal(t, want, got, "step %d agent %d", step, h)
			}
			assert.Equal(t, snap.RegionsAt(p).Value, append([]ID{}, got...), "step %d agent %d", step, h)
		}
		for _, id := range ids {
			res, err := snap.AgentsIn(id)
			require.NoError(t, err)
			for _, h := range res.Value {
				assert.Contains(t, snap.RegionsOf(h).Value, id)
			}
		}
	}
}

func TestConcurrentMutationsAndQueries(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})
	f.move(1, geom.Point3{5, 5, 5})

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				id, err := f.reg.Create(Spec{Name: "c", Volume: vol, Priority: w})
				if err != nil {
					t.Error(err)
					return
				}
				if i%2 == 0 {
					if err := f.reg.Destroy(id); err != nil && !errors.Is(err, ErrNotFound) {
						t.Error(err)
					}
				}
				_ = f.reg.Query().RegionsAt(geom.Point3{1, 1, 1})
			}
		}()
	}
	for range 20 {
		f.reg.Tick()
	}
	wg.Wait()
	f.reg.Tick()

	snap := f.reg.Query()
	assert.Len(t, snap.Regions().Value, 4*25)
	assert.Len(t, snap.RegionsOf(1).Value, 4*25)
}
