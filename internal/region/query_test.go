package region

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/tag"
)

func TestIsInside_Hierarchical(t *testing.T) {
	f := newFixture(t)
	f.create(t, Spec{
		Name:   "inn",
		Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10}),
		Tags:   []tag.Tag{tag.MustNew("Region.Safe.Indoor")},
	})
	f.move(1, geom.Point3{5, 5, 5})
	f.tick()

	snap := f.reg.Query()
	assert.True(t, snap.IsInside(1, tag.MustNew("Region.Safe.Indoor")).Value)
	assert.True(t, snap.IsInside(1, tag.MustNew("Region.Safe")).Value)
	assert.True(t, snap.IsInside(1, tag.MustNew("Region")).Value)
	assert.False(t, snap.IsInside(1, tag.MustNew("Region.Safe.Indoor.Cellar")).Value)
	assert.False(t, snap.IsInside(1, tag.MustNew("Region.Sa")).Value)
	assert.False(t, snap.IsInside(2, tag.MustNew("Region")).Value, "unknown agent")
}

func TestSnapshot_Immutable(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "x", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.move(1, geom.Point3{5, 5, 5})
	f.tick()
	old := f.reg.Query()

	f.move(1, geom.Point3{50, 5, 5})
	require.NoError(t, f.reg.SetPriority(id, 7))
	f.tick()

	assert.Equal(t, []ID{id}, old.RegionsOf(1).Value)
	info, err := old.Region(id)
	require.NoError(t, err)
	assert.Zero(t, info.Value.Priority)
	assert.Equal(t, old.Generation(), info.Generation)
	assert.Equal(t, uint64(1), old.Tick())

	cur := f.reg.Query()
	assert.Empty(t, cur.RegionsOf(1).Value)
	assert.Equal(t, uint64(2), cur.Tick())
	assert.Greater(t, cur.Generation(), old.Generation())
}

func TestAgentsIn_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, Spec{Name: "x", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})})
	f.move(1, geom.Point3{5, 5, 5})
	f.tick()

	res, err := f.reg.Query().AgentsIn(id)
	require.NoError(t, err)
	res.Value[0] = 99

	again, err := f.reg.Query().AgentsIn(id)
	require.NoError(t, err)
	assert.Equal(t, []AgentHandle{1}, again.Value)
}

func TestRegionInfo_TypeAndAreaTag(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{100, 100, 100})
	master := f.create(t, Spec{Name: "world", Volume: vol, Tags: []tag.Tag{tag.MustNew("Regions.Areas")}})
	section := f.create(t, Spec{Name: "town", Volume: vol, Tags: []tag.Tag{
		tag.MustNew("Region.Safe"),
		tag.MustNew("Regions.Areas.Town"),
	}})
	room := f.create(t, Spec{Name: "cellar", Volume: vol, Tags: []tag.Tag{tag.MustNew("Regions.Areas.Town.Inn.Floor.Cellar")}})
	plain := f.create(t, Spec{Name: "plain", Volume: vol})
	f.tick()

	snap := f.reg.Query()
	assert.Equal(t, DefaultAreaRoot, snap.AreaRoot())

	tests := []struct {
		id   ID
		area string
		typ  Type
	}{
		{master, "Regions.Areas", TypeMaster},
		{section, "Regions.Areas.Town", TypeSection},
		{room, "Regions.Areas.Town.Inn.Floor.Cellar", TypeRoom},
		{plain, "", TypeMaster},
	}
	for _, tt := range tests {
		info, err := snap.Region(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.area, info.Value.AreaTag.String(), info.Value.Name)
		assert.Equal(t, tt.typ, info.Value.Type, info.Value.Name)
	}
}

func TestContainingRegion(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{100, 100, 100})
	f.create(t, Spec{Name: "town", Volume: vol, Priority: 10, Tags: []tag.Tag{tag.MustNew("Regions.Areas.Town")}})
	inn := f.create(t, Spec{Name: "inn", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10}), Tags: []tag.Tag{tag.MustNew("Regions.Areas.Town.Inn")}})
	f.move(1, geom.Point3{5, 5, 5})
	f.move(2, geom.Point3{500, 5, 5})
	f.tick()

	snap := f.reg.Query()
	res, ok := snap.ContainingRegion(1)
	require.True(t, ok)
	assert.Equal(t, inn, res.Value, "deepest area tag wins over priority")

	_, ok = snap.ContainingRegion(2)
	assert.False(t, ok)
}

func TestRegionByTag(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})
	town := f.create(t, Spec{Name: "town", Volume: vol, Tags: []tag.Tag{tag.MustNew("Regions.Areas.Town")}})
	high := f.create(t, Spec{Name: "town-high", Volume: vol, Priority: 2, Tags: []tag.Tag{tag.MustNew("Regions.Areas.Town")}})
	f.tick()

	snap := f.reg.Query()

	info, ok := snap.RegionByTag(tag.MustNew("Regions.Areas.Town"), false)
	require.True(t, ok)
	assert.Equal(t, high, info.Value.ID, "priority breaks ties")
	assert.Equal(t, snap.Tick(), info.Tick)

	_, ok = snap.RegionByTag(tag.MustNew("Regions.Areas.Town.Inn"), false)
	assert.False(t, ok)

	info, ok = snap.RegionByTag(tag.MustNew("Regions.Areas.Town.Inn.Cellar"), true)
	require.True(t, ok)
	assert.Equal(t, high, info.Value.ID)

	_, ok = snap.RegionByTag(tag.MustNew("Elsewhere.Deep"), true)
	assert.False(t, ok)

	assert.Equal(t, []ID{high, town}, snap.RegionsWithTag(tag.MustNew("Regions.Areas")).Value)
	assert.Empty(t, snap.RegionsWithTag(tag.MustNew("Elsewhere")).Value)
}

func TestRegionsContainingBox(t *testing.T) {
	f := newFixture(t)
	big := f.create(t, Spec{Name: "big", Volume: axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{100, 100, 100})})
	sph, err := geom.NewSphere(geom.Point3{50, 50, 50}, 10)
	require.NoError(t, err)
	ball := f.create(t, Spec{Name: "ball", Volume: sph, Priority: 1})
	f.tick()

	snap := f.reg.Query()
	small := geom.NewAABB(geom.Point3{48, 48, 48}, geom.Point3{52, 52, 52})
	assert.Equal(t, []ID{ball, big}, snap.RegionsContainingBox(small).Value)

	// The corners of this box poke out of the sphere although its bounds fit.
	corners := geom.NewAABB(geom.Point3{41, 41, 41}, geom.Point3{59, 59, 59})
	assert.Equal(t, []ID{big}, snap.RegionsContainingBox(corners).Value)

	assert.Equal(t, []ID{big, ball}, snap.RegionsInBox(corners).Value)
	assert.Empty(t, snap.RegionsInBox(geom.NewAABB(geom.Point3{200, 200, 200}, geom.Point3{300, 300, 300})).Value)
}

func TestPOIs(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{100, 100, 100})
	pois := []geom.Point3{{10, 10, 0}, {90, 90, 0}, {50, 50, 0}}
	id := f.create(t, Spec{Name: "camp", Volume: vol, POIs: pois})
	bare := f.create(t, Spec{Name: "bare", Volume: vol})
	f.tick()

	snap := f.reg.Query()

	p, ok, err := snap.ClosestPOI(id, geom.Point3{80, 80, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geom.Point3{90, 90, 0}, p)

	_, ok, err = snap.ClosestPOI(bare, geom.Point3{0, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = snap.ClosestPOI(999, geom.Point3{})
	assert.ErrorIs(t, err, ErrNotFound)

	rng := rand.New(rand.NewPCG(7, 7))
	for range 20 {
		p, ok, err := snap.RandomPOI(id, rng)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Contains(t, pois, p)
	}
	_, ok, err = snap.RandomPOI(bare, rng)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegions_SortedByID(t *testing.T) {
	f := newFixture(t)
	vol := axisBox(t, geom.Point3{0, 0, 0}, geom.Point3{1, 1, 1})
	a := f.create(t, Spec{Name: "a", Volume: vol, Priority: 5})
	b := f.create(t, Spec{Name: "b", Volume: vol})
	f.tick()

	res := f.reg.Query().Regions()
	infos := res.Value
	assert.Equal(t, uint64(1), res.Tick)
	require.Len(t, infos, 2)
	assert.Equal(t, a, infos[0].ID)
	assert.Equal(t, b, infos[1].ID)
	assert.Equal(t, "a", infos[0].Name)
}
