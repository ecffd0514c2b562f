// Package geometry provides the axis-aligned bounding boxes used as the
// geometric proxy for building elements. Vectors are github.com/deadsy/sdfx
// v3 vectors so boxes can be handed to the sdfx kernel unchanged.
package geometry

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// BoundaryEpsilon absorbs float rounding when comparing a gap against the
// tolerance, so a gap of exactly the tolerance counts as a clash.
const BoundaryEpsilon = 1e-9

// Vec3 is a point or vector in model space.
type Vec3 = v3.Vec

// AABB is an axis-aligned bounding box. A zero-size box is a point.
type AABB struct {
	Min Vec3
	Max Vec3
}

// FromCenter builds the box position ± dimensions/2.
func FromCenter(position, dimensions Vec3) AABB {
	half := dimensions.MulScalar(0.5)
	return AABB{Min: position.Sub(half), Max: position.Add(half)}
}

// Expand grows the box by margin on every side.
func (b AABB) Expand(margin float64) AABB {
	m := Vec3{X: margin, Y: margin, Z: margin}
	return AABB{Min: b.Min.Sub(m), Max: b.Max.Add(m)}
}

// Center returns the box centre.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).MulScalar(0.5)
}

// Size returns the extents along each axis.
func (b AABB) Size() Vec3 {
	return b.Max.Sub(b.Min)
}

// MaxExtent returns the largest extent of the box.
func (b AABB) MaxExtent() float64 {
	s := b.Size()
	return math.Max(s.X, math.Max(s.Y, s.Z))
}

// Intersection returns the region shared by both boxes. For disjoint boxes the
// result is the slab between them (Min and Max swapped per separated axis are
// normalised), which still locates the clash.
func (b AABB) Intersection(o AABB) AABB {
	lo := b.Min.Max(o.Min)
	hi := b.Max.Min(o.Max)
	return AABB{Min: lo.Min(hi), Max: lo.Max(hi)}
}

// separation returns the signed gap between the boxes along each axis.
// Negative values are overlap depths.
func separation(a, b AABB) [3]float64 {
	return [3]float64{
		math.Max(a.Min.X-b.Max.X, b.Min.X-a.Max.X),
		math.Max(a.Min.Y-b.Max.Y, b.Min.Y-a.Max.Y),
		math.Max(a.Min.Z-b.Max.Z, b.Min.Z-a.Max.Z),
	}
}

// Overlaps reports whether the boxes intersect after each is expanded by
// tolerance/2, i.e. whether no axis separates them by more than tolerance.
// The comparison is inclusive.
func Overlaps(a, b AABB, tolerance float64) bool {
	for _, s := range separation(a, b) {
		if s > tolerance+BoundaryEpsilon {
			return false
		}
	}
	return true
}

// GapOrPenetration returns a negative value when the boxes overlap (magnitude is
// the smallest push-out distance across axes) and the Euclidean distance between
// the nearest faces otherwise. Touching boxes yield 0.
func GapOrPenetration(a, b AABB) float64 {
	sep := separation(a, b)
	if sep[0] < 0 && sep[1] < 0 && sep[2] < 0 {
		return math.Max(sep[0], math.Max(sep[1], sep[2]))
	}
	var sum float64
	for _, s := range sep {
		if s > 0 {
			sum += s * s
		}
	}
	return math.Sqrt(sum)
}
