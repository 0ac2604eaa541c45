// Package regiondata converts between registry regions and plain data
// documents: YAML/JSON asset files, compressed snapshots and database rows.
package regiondata

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/region"
	"github.com/udisondev/regionsys/internal/tag"
)

// Version is the current document format version.
const Version = 1

// Shape kinds.
const (
	KindBox    = "box"
	KindSphere = "sphere"
	KindHull   = "hull"
)

// ErrUnknownShape is returned for a shape kind or volume type without a mapping.
var ErrUnknownShape = errors.New("unknown shape")

// Document is a set of region definitions.
type Document struct {
	Version  int         `json:"version" yaml:"version"`
	AreaRoot string      `json:"area_root,omitempty" yaml:"area_root,omitempty"`
	Regions  []RegionDTO `json:"regions" yaml:"regions"`
}

// RegionDTO is the serialized form of one region. ID is informational: the
// registry assigns fresh IDs on import.
type RegionDTO struct {
	ID       uint64       `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string       `json:"name" yaml:"name"`
	Priority int          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Tags     []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	Shape    ShapeDTO     `json:"shape" yaml:"shape"`
	POIs     [][3]float64 `json:"pois,omitempty" yaml:"pois,omitempty"`
}

// ShapeDTO is a tagged union of the supported volumes.
type ShapeDTO struct {
	Kind string `json:"kind" yaml:"kind"`

	// box and sphere
	Center [3]float64 `json:"center,omitempty" yaml:"center,omitempty"`
	// box
	HalfExtents [3]float64  `json:"half_extents,omitempty" yaml:"half_extents,omitempty"`
	Rotation    *[4]float64 `json:"rotation,omitempty" yaml:"rotation,omitempty"` // x, y, z, w
	// sphere
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	// hull
	Footprint [][2]float64 `json:"footprint,omitempty" yaml:"footprint,omitempty"`
	MinZ      float64      `json:"min_z,omitempty" yaml:"min_z,omitempty"`
	MaxZ      float64      `json:"max_z,omitempty" yaml:"max_z,omitempty"`
}

// Volume builds the geometric volume described by s.
func (s ShapeDTO) Volume() (geom.Volume, error) {
	switch s.Kind {
	case KindBox:
		rot := mgl64.QuatIdent()
		if s.Rotation != nil {
			r := s.Rotation
			rot = mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}
		}
		return geom.NewBox(s.Center, s.HalfExtents, rot)
	case KindSphere:
		return geom.NewSphere(s.Center, s.Radius)
	case KindHull:
		pts := make([]mgl64.Vec2, len(s.Footprint))
		for i, p := range s.Footprint {
			pts[i] = mgl64.Vec2(p)
		}
		return geom.NewConvexHull(pts, s.MinZ, s.MaxZ)
	default:
		return nil, fmt.Errorf("shape kind %q: %w", s.Kind, ErrUnknownShape)
	}
}

// ShapeOf describes v as a ShapeDTO.
func ShapeOf(v geom.Volume) (ShapeDTO, error) {
	switch v := v.(type) {
	case *geom.Box:
		q := v.Rotation()
		rot := [4]float64{q.V[0], q.V[1], q.V[2], q.W}
		return ShapeDTO{Kind: KindBox, Center: v.Center(), HalfExtents: v.HalfExtents(), Rotation: &rot}, nil
	case *geom.Sphere:
		return ShapeDTO{Kind: KindSphere, Center: v.Center(), Radius: v.Radius()}, nil
	case *geom.ConvexHull:
		fp := v.Footprint()
		pts := make([][2]float64, len(fp))
		for i, p := range fp {
			pts[i] = p
		}
		minZ, maxZ := v.ZRange()
		return ShapeDTO{Kind: KindHull, Footprint: pts, MinZ: minZ, MaxZ: maxZ}, nil
	default:
		return ShapeDTO{}, fmt.Errorf("volume %T: %w", v, ErrUnknownShape)
	}
}

// Spec converts the DTO to a creation request.
func (r RegionDTO) Spec() (region.Spec, error) {
	vol, err := r.Shape.Volume()
	if err != nil {
		return region.Spec{}, fmt.Errorf("region %q: %w: %w", r.Name, region.ErrInvalidVolume, err)
	}
	tags, err := tag.Parse(r.Tags...)
	if err != nil {
		return region.Spec{}, fmt.Errorf("region %q: %w", r.Name, err)
	}
	pois := make([]geom.Point3, len(r.POIs))
	for i, p := range r.POIs {
		pois[i] = p
	}
	return region.Spec{
		Name:     r.Name,
		Volume:   vol,
		Tags:     tags,
		Priority: r.Priority,
		POIs:     pois,
	}, nil
}

// FromInfo converts a published region to its DTO.
func FromInfo(info region.RegionInfo) (RegionDTO, error) {
	shape, err := ShapeOf(info.Volume)
	if err != nil {
		return RegionDTO{}, fmt.Errorf("region %d: %w", info.ID, err)
	}
	dto := RegionDTO{
		ID:       uint64(info.ID),
		Name:     info.Name,
		Priority: info.Priority,
		Shape:    shape,
	}
	if info.Tags.Len() > 0 {
		dto.Tags = info.Tags.Strings()
	}
	for _, p := range info.POIs {
		dto.POIs = append(dto.POIs, p)
	}
	return dto, nil
}
