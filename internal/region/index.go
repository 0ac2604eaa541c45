package region

import (
	"maps"
	"math"
	"slices"

	"github.com/udisondev/regionsys/internal/geom"
)

const (
	// DefaultCellSize is the grid cell edge in world units.
	DefaultCellSize = 64.0
	// DefaultMaxCellsPerRegion bounds how many cells one region may occupy
	// before it moves to the oversized list.
	DefaultMaxCellsPerRegion = 4096
)

type cellKey struct {
	x, y int64
}

type indexEntry struct {
	bounds    geom.AABB
	cells     []cellKey // nil for oversized entries
	oversized bool
}

// Index is a uniform XY grid mapping cells to the regions whose bounds overlap
// them. Z is left to the exact containment test. Regions that would cover more
// than maxCells cells are kept in a separate list checked on every query.
//
// Index is not safe for concurrent mutation; published snapshots hold a Clone.
type Index struct {
	cellSize  float64
	maxCells  int
	cells     map[cellKey][]ID
	entries   map[ID]*indexEntry
	oversized []ID // sorted
}

// NewIndex creates an empty index. Non-positive arguments select defaults.
func NewIndex(cellSize float64, maxCellsPerRegion int) *Index {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	if maxCellsPerRegion <= 0 {
		maxCellsPerRegion = DefaultMaxCellsPerRegion
	}
	return &Index{
		cellSize: cellSize,
		maxCells: maxCellsPerRegion,
		cells:    make(map[cellKey][]ID),
		entries:  make(map[ID]*indexEntry),
	}
}

// Len returns the number of indexed regions.
func (x *Index) Len() int { return len(x.entries) }

// Insert adds or moves a region.
func (x *Index) Insert(id ID, bounds geom.AABB) {
	if _, ok := x.entries[id]; ok {
		x.Remove(id)
	}

	gxMin, gyMin := x.cellOf(bounds.Min[0]-geom.Epsilon, bounds.Min[1]-geom.Epsilon)
	gxMax, gyMax := x.cellOf(bounds.Max[0]+geom.Epsilon, bounds.Max[1]+geom.Epsilon)

	// Float math so huge bounds cannot overflow the count.
	count := (float64(gxMax-gxMin) + 1) * (float64(gyMax-gyMin) + 1)
	if count > float64(x.maxCells) {
		x.entries[id] = &indexEntry{bounds: bounds, oversized: true}
		i, _ := slices.BinarySearch(x.oversized, id)
		x.oversized = slices.Insert(x.oversized, i, id)
		return
	}

	entry := &indexEntry{bounds: bounds, cells: make([]cellKey, 0, int(count))}
	for gx := gxMin; gx <= gxMax; gx++ {
		for gy := gyMin; gy <= gyMax; gy++ {
			key := cellKey{x: gx, y: gy}
			x.cells[key] = append(x.cells[key], id)
			entry.cells = append(entry.cells, key)
		}
	}
	x.entries[id] = entry
}

// Remove drops a region from the index. It reports whether the region was present.
func (x *Index) Remove(id ID) bool {
	entry, ok := x.entries[id]
	if !ok {
		return false
	}
	delete(x.entries, id)

	if entry.oversized {
		if i, found := slices.BinarySearch(x.oversized, id); found {
			x.oversized = slices.Delete(x.oversized, i, i+1)
		}
		return true
	}

	for _, key := range entry.cells {
		bucket := x.cells[key]
		for i := range bucket {
			if bucket[i] != id {
				continue
			}
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
		if len(bucket) == 0 {
			delete(x.cells, key)
		} else {
			x.cells[key] = bucket
		}
	}
	return true
}

// Bounds returns the indexed bounds of a region.
func (x *Index) Bounds(id ID) (geom.AABB, bool) {
	entry, ok := x.entries[id]
	if !ok {
		return geom.AABB{}, false
	}
	return entry.bounds, true
}

// Query returns, in ascending ID order, the regions whose bounds contain p.
// An unmatched point yields an empty result.
func (x *Index) Query(p geom.Point3) []ID {
	gx, gy := x.cellOf(p[0], p[1])
	bucket := x.cells[cellKey{x: gx, y: gy}]

	result := make([]ID, 0, len(bucket)+len(x.oversized))
	for _, id := range bucket {
		if x.entries[id].bounds.Contains(p) {
			result = append(result, id)
		}
	}
	for _, id := range x.oversized {
		if x.entries[id].bounds.Contains(p) {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result
}

// QueryBox returns, in ascending ID order, the regions whose bounds overlap b.
func (x *Index) QueryBox(b geom.AABB) []ID {
	gxMin, gyMin := x.cellOf(b.Min[0]-geom.Epsilon, b.Min[1]-geom.Epsilon)
	gxMax, gyMax := x.cellOf(b.Max[0]+geom.Epsilon, b.Max[1]+geom.Epsilon)

	seen := make(map[ID]struct{})
	count := (float64(gxMax-gxMin) + 1) * (float64(gyMax-gyMin) + 1)
	if count > float64(len(x.cells)) {
		// Box covers more cells than exist: walk the occupied ones instead.
		for key, bucket := range x.cells {
			if key.x < gxMin || key.x > gxMax || key.y < gyMin || key.y > gyMax {
				continue
			}
			for _, id := range bucket {
				seen[id] = struct{}{}
			}
		}
	} else {
		for gx := gxMin; gx <= gxMax; gx++ {
			for gy := gyMin; gy <= gyMax; gy++ {
				for _, id := range x.cells[cellKey{x: gx, y: gy}] {
					seen[id] = struct{}{}
				}
			}
		}
	}
	for _, id := range x.oversized {
		seen[id] = struct{}{}
	}

	result := make([]ID, 0, len(seen))
	for id := range seen {
		if x.entries[id].bounds.Overlaps(b) {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result
}

// Clone returns a deep copy that shares nothing mutable with x.
func (x *Index) Clone() *Index {
	c := &Index{
		cellSize:  x.cellSize,
		maxCells:  x.maxCells,
		cells:     make(map[cellKey][]ID, len(x.cells)),
		entries:   maps.Clone(x.entries),
		oversized: slices.Clone(x.oversized),
	}
	for key, bucket := range x.cells {
		c.cells[key] = slices.Clone(bucket)
	}
	return c
}

// cellOf floors world coordinates to grid coordinates, handling negatives.
func (x *Index) cellOf(wx, wy float64) (int64, int64) {
	return floorDiv(wx, x.cellSize), floorDiv(wy, x.cellSize)
}

func floorDiv(v, size float64) int64 {
	f := math.Floor(v / size)
	// Clamp so absurd coordinates do not wrap around.
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int64(f)
}
