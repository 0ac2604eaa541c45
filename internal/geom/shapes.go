package geom

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Box is an oriented box: a center, half extents along its local axes and a
// rotation from local to world space.
type Box struct {
	center Point3
	half   Point3
	rot    mgl64.Quat
	inv    mgl64.Quat
	bounds AABB
}

// NewBox creates a box. rot must be a non-zero quaternion; it is normalized.
func NewBox(center, halfExtents Point3, rot mgl64.Quat) (*Box, error) {
	if !IsFinite(center) || !IsFinite(halfExtents) || !finite(rot.W, rot.V[0], rot.V[1], rot.V[2]) {
		return nil, fmt.Errorf("box: non-finite parameters: %w", ErrDegenerate)
	}
	if halfExtents[0] <= 0 || halfExtents[1] <= 0 || halfExtents[2] <= 0 {
		return nil, fmt.Errorf("box: half extents %v: %w", halfExtents, ErrDegenerate)
	}
	if rot.Len() < Epsilon {
		return nil, fmt.Errorf("box: zero rotation: %w", ErrDegenerate)
	}
	rot = rot.Normalize()

	b := &Box{center: center, half: halfExtents, rot: rot, inv: rot.Inverse()}

	var corners [8]mgl64.Vec3
	for i := range 8 {
		local := mgl64.Vec3{
			pick(i&1 != 0, halfExtents[0], -halfExtents[0]),
			pick(i&2 != 0, halfExtents[1], -halfExtents[1]),
			pick(i&4 != 0, halfExtents[2], -halfExtents[2]),
		}
		corners[i] = center.Add(rot.Rotate(local))
	}
	b.bounds = boundsOf(corners[:])
	return b, nil
}

// NewAxisBox creates an axis-aligned box spanning two opposite corners.
func NewAxisBox(a, b Point3) (*Box, error) {
	bb := NewAABB(a, b)
	return NewBox(bb.Center(), bb.Max.Sub(bb.Min).Mul(0.5), mgl64.QuatIdent())
}

// Center returns the box center.
func (b *Box) Center() Point3 { return b.center }

// HalfExtents returns the half extents along the local axes.
func (b *Box) HalfExtents() Point3 { return b.half }

// Rotation returns the local-to-world rotation.
func (b *Box) Rotation() mgl64.Quat { return b.rot }

// Contains transforms p into the box frame and compares against the half extents.
func (b *Box) Contains(p Point3) bool {
	if !b.bounds.Contains(p) {
		return false
	}
	local := b.inv.Rotate(p.Sub(b.center))
	return math.Abs(local[0]) <= b.half[0]+Epsilon &&
		math.Abs(local[1]) <= b.half[1]+Epsilon &&
		math.Abs(local[2]) <= b.half[2]+Epsilon
}

// Overlaps compares bounding boxes.
func (b *Box) Overlaps(other Volume) bool { return b.bounds.Overlaps(other.Bounds()) }

// Bounds returns the world-space AABB of the rotated box.
func (b *Box) Bounds() AABB { return b.bounds }

// Sphere is a ball with a center and a radius.
type Sphere struct {
	center Point3
	radius float64
}

// NewSphere creates a sphere. The radius must be positive.
func NewSphere(center Point3, radius float64) (*Sphere, error) {
	if !IsFinite(center) || !finite(radius) {
		return nil, fmt.Errorf("sphere: non-finite parameters: %w", ErrDegenerate)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("sphere: radius %v: %w", radius, ErrDegenerate)
	}
	return &Sphere{center: center, radius: radius}, nil
}

// Center returns the sphere center.
func (s *Sphere) Center() Point3 { return s.center }

// Radius returns the sphere radius.
func (s *Sphere) Radius() float64 { return s.radius }

// Contains uses squared distance, boundary inclusive.
func (s *Sphere) Contains(p Point3) bool {
	d := p.Sub(s.center)
	r := s.radius + Epsilon
	return d.Dot(d) <= r*r
}

// Overlaps is exact against other spheres and AABB-based otherwise.
func (s *Sphere) Overlaps(other Volume) bool {
	if o, ok := other.(*Sphere); ok {
		d := o.center.Sub(s.center)
		r := s.radius + o.radius + Epsilon
		return d.Dot(d) <= r*r
	}
	return s.Bounds().Overlaps(other.Bounds())
}

// Bounds returns the cube enclosing the sphere.
func (s *Sphere) Bounds() AABB {
	r := Point3{s.radius, s.radius, s.radius}
	return AABB{Min: s.center.Sub(r), Max: s.center.Add(r)}
}

// ConvexHull is a convex polygon in the XY plane extruded between MinZ and MaxZ.
type ConvexHull struct {
	footprint []mgl64.Vec2 // counter-clockwise
	minZ      float64
	maxZ      float64
	bounds    AABB
}

// NewConvexHull creates a prism from a convex footprint given in either winding.
// Collinear or concave footprints are rejected.
func NewConvexHull(footprint []mgl64.Vec2, minZ, maxZ float64) (*ConvexHull, error) {
	if len(footprint) < 3 {
		return nil, fmt.Errorf("hull: %d footprint points: %w", len(footprint), ErrDegenerate)
	}
	if !finite(minZ, maxZ) || maxZ <= minZ {
		return nil, fmt.Errorf("hull: z range [%v, %v]: %w", minZ, maxZ, ErrDegenerate)
	}

	pts := make([]mgl64.Vec2, len(footprint))
	copy(pts, footprint)
	for _, p := range pts {
		if !finite(p[0], p[1]) {
			return nil, fmt.Errorf("hull: non-finite footprint: %w", ErrDegenerate)
		}
	}

	area := signedArea(pts)
	if math.Abs(area) < Epsilon {
		return nil, fmt.Errorf("hull: zero footprint area: %w", ErrDegenerate)
	}
	if area < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}

	n := len(pts)
	for i := range n {
		if cross(pts[i], pts[(i+1)%n], pts[(i+2)%n]) < -Epsilon {
			return nil, fmt.Errorf("hull: footprint is not convex at vertex %d: %w", (i+1)%n, ErrDegenerate)
		}
	}

	// A simple convex loop turns exactly once; a star turns the same way at
	// every vertex but winds more than once.
	var turn float64
	for i := range n {
		a := pts[(i+1)%n].Sub(pts[i])
		b := pts[(i+2)%n].Sub(pts[(i+1)%n])
		turn += math.Atan2(a[0]*b[1]-a[1]*b[0], a.Dot(b))
	}
	if turn > 2*math.Pi+Epsilon {
		return nil, fmt.Errorf("hull: footprint winds %.1f times: %w", turn/(2*math.Pi), ErrDegenerate)
	}

	minX, maxX := pts[0][0], pts[0][0]
	minY, maxY := pts[0][1], pts[0][1]
	for _, p := range pts[1:] {
		minX, maxX = min(minX, p[0]), max(maxX, p[0])
		minY, maxY = min(minY, p[1]), max(maxY, p[1])
	}

	return &ConvexHull{
		footprint: pts,
		minZ:      minZ,
		maxZ:      maxZ,
		bounds:    AABB{Min: Point3{minX, minY, minZ}, Max: Point3{maxX, maxY, maxZ}},
	}, nil
}

// Footprint returns a copy of the counter-clockwise footprint.
func (h *ConvexHull) Footprint() []mgl64.Vec2 {
	out := make([]mgl64.Vec2, len(h.footprint))
	copy(out, h.footprint)
	return out
}

// ZRange returns the vertical extent of the prism.
func (h *ConvexHull) ZRange() (minZ, maxZ float64) { return h.minZ, h.maxZ }

// Contains checks the Z range, then requires p to lie left of (or on) every edge.
func (h *ConvexHull) Contains(p Point3) bool {
	if !h.bounds.Contains(p) {
		return false
	}
	q := mgl64.Vec2{p[0], p[1]}
	n := len(h.footprint)
	for i := range n {
		a, b := h.footprint[i], h.footprint[(i+1)%n]
		edge := b.Sub(a)
		// Scale tolerance by edge length so it stays a distance.
		if cross(a, b, q) < -Epsilon*edge.Len() {
			return false
		}
	}
	return true
}

// Overlaps compares bounding boxes.
func (h *ConvexHull) Overlaps(other Volume) bool { return h.bounds.Overlaps(other.Bounds()) }

// Bounds returns the AABB of the prism.
func (h *ConvexHull) Bounds() AABB { return h.bounds }

// cross returns the z component of (b-a) x (c-a).
func cross(a, b, c mgl64.Vec2) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func signedArea(pts []mgl64.Vec2) float64 {
	var s float64
	n := len(pts)
	for i := range n {
		j := (i + 1) % n
		s += pts[i][0]*pts[j][1] - pts[j][0]*pts[i][1]
	}
	return s / 2
}
