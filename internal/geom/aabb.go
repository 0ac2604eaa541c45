package geom

import "github.com/go-gl/mathgl/mgl64"

// AABB is an axis-aligned bounding box. Min and Max are inclusive.
type AABB struct {
	Min Point3
	Max Point3
}

// NewAABB returns the box spanning a and b in any corner order.
func NewAABB(a, b Point3) AABB {
	return AABB{
		Min: Point3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])},
		Max: Point3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])},
	}
}

// Valid reports whether the box has a positive, finite extent on every axis.
func (a AABB) Valid() bool {
	if !IsFinite(a.Min) || !IsFinite(a.Max) {
		return false
	}
	return a.Max[0] > a.Min[0] && a.Max[1] > a.Min[1] && a.Max[2] > a.Min[2]
}

// Contains checks if p is inside the box, boundary included.
func (a AABB) Contains(p Point3) bool {
	return p[0] >= a.Min[0]-Epsilon && p[0] <= a.Max[0]+Epsilon &&
		p[1] >= a.Min[1]-Epsilon && p[1] <= a.Max[1]+Epsilon &&
		p[2] >= a.Min[2]-Epsilon && p[2] <= a.Max[2]+Epsilon
}

// ContainsBox checks if b lies entirely inside a.
func (a AABB) ContainsBox(b AABB) bool {
	return a.Contains(b.Min) && a.Contains(b.Max)
}

// Overlaps checks if two boxes overlap on all three axes. Touching counts.
func (a AABB) Overlaps(b AABB) bool {
	return a.Max[0]+Epsilon >= b.Min[0] && a.Min[0]-Epsilon <= b.Max[0] &&
		a.Max[1]+Epsilon >= b.Min[1] && a.Min[1]-Epsilon <= b.Max[1] &&
		a.Max[2]+Epsilon >= b.Min[2] && a.Min[2]-Epsilon <= b.Max[2]
}

// Union returns the smallest box enclosing a and b.
func (a AABB) Union(b AABB) AABB {
	return AABB{
		Min: Point3{min(a.Min[0], b.Min[0]), min(a.Min[1], b.Min[1]), min(a.Min[2], b.Min[2])},
		Max: Point3{max(a.Max[0], b.Max[0]), max(a.Max[1], b.Max[1]), max(a.Max[2], b.Max[2])},
	}
}

// Center returns the midpoint of the box.
func (a AABB) Center() Point3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

// Corners returns the eight corners of the box.
func (a AABB) Corners() [8]Point3 {
	var out [8]Point3
	for i := range 8 {
		out[i] = Point3{
			pick(i&1 != 0, a.Max[0], a.Min[0]),
			pick(i&2 != 0, a.Max[1], a.Min[1]),
			pick(i&4 != 0, a.Max[2], a.Min[2]),
		}
	}
	return out
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}

func boundsOf(points []mgl64.Vec3) AABB {
	b := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b = b.Union(AABB{Min: p, Max: p})
	}
	return b
}
