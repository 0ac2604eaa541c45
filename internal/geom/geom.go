// Package geom implements the volume shapes regions are made of: oriented
// boxes, spheres and convex prisms, plus the axis-aligned bounds used by the
// spatial index.
package geom

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the tolerance used by containment tests. A point that lies on a
// face (within Epsilon) is inside.
const Epsilon = 1e-6

// ErrDegenerate is returned when a volume has zero, negative or non-finite extent.
var ErrDegenerate = errors.New("degenerate volume")

// Point3 is a position in world space.
type Point3 = mgl64.Vec3

// Volume is an immutable shape with inclusive point containment.
type Volume interface {
	// Contains reports whether p is inside the volume or on its boundary.
	Contains(p Point3) bool
	// Overlaps reports whether the volume may intersect other.
	// False positives are allowed, false negatives are not.
	Overlaps(other Volume) bool
	// Bounds returns the world-space axis-aligned bounding box.
	Bounds() AABB
}

// IsFinite reports whether all components of p are finite numbers.
func IsFinite(p Point3) bool {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// ContainsBox reports whether the volume fully contains b.
// All supported shapes are convex, so testing the eight corners is enough.
func ContainsBox(v Volume, b AABB) bool {
	if !v.Bounds().ContainsBox(b) {
		return false
	}
	for _, c := range b.Corners() {
		if !v.Contains(c) {
			return false
		}
	}
	return true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
