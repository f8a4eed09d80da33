package geometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

// Tier maps aspect ratios below MaxRatio to a short-axis scale factor.
type Tier struct {
	MaxRatio float64 `json:"max_ratio" mapstructure:"max_ratio"`
	Scale    float64 `json:"scale" mapstructure:"scale"`
}

// Expansion controls how far a region is stretched along its short axis before
// the containment test. Tiers are evaluated in ascending MaxRatio order; ratios
// not covered by any tier use Fallback.
type Expansion struct {
	Tiers    []Tier  `json:"tiers" mapstructure:"tiers"`
	Fallback float64 `json:"fallback" mapstructure:"fallback"`
}

// DefaultExpansion returns the empirically tuned tiers. A lower short/long ratio
// means a more oblique view and needs more tolerance.
func DefaultExpansion() Expansion {
	return Expansion{
		Tiers: []Tier{
			{MaxRatio: 0.20, Scale: 6.0},
			{MaxRatio: 0.25, Scale: 2.8},
			{MaxRatio: 0.40, Scale: 1.3},
		},
		Fallback: 2.5,
	}
}

// Validate checks that the tiers are ascending and every scale is positive.
func (e Expansion) Validate() error {
	if e.Fallback <= 0 {
		return fmt.Errorf("fallback scale must be positive, got %f", e.Fallback)
	}
	for i, t := range e.Tiers {
		if t.Scale <= 0 {
			return fmt.Errorf("tier %d: scale must be positive, got %f", i, t.Scale)
		}
		if t.MaxRatio <= 0 || t.MaxRatio > 1 {
			return fmt.Errorf("tier %d: max ratio must be in (0, 1], got %f", i, t.MaxRatio)
		}
		if i > 0 && t.MaxRatio <= e.Tiers[i-1].MaxRatio {
			return fmt.Errorf("tier %d: max ratio %f is not above previous tier %f", i, t.MaxRatio, e.Tiers[i-1].MaxRatio)
		}
	}
	return nil
}

// ScaleFor returns the short-axis scale factor for the given aspect ratio.
func (e Expansion) ScaleFor(ratio float64) float64 {
	tiers := e.Tiers
	if !sort.SliceIsSorted(tiers, func(i, j int) bool { return tiers[i].MaxRatio < tiers[j].MaxRatio }) {
		tiers = append([]Tier(nil), tiers...)
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxRatio < tiers[j].MaxRatio })
	}
	for _, t := range tiers {
		if ratio < t.MaxRatio {
			return t.Scale
		}
	}
	return e.Fallback
}

// Expand returns the region stretched along its short axis about its centroid.
// It returns false when the region is too degenerate to determine its axes.
//
// Algorithm:
// 1. Take the longest and shortest edge vectors as the long and short axes
// 2. ratio = |shortest| / |longest|, angle = angle of longest
// 3. Rotate about the centroid by -angle so the long axis lies on x
// 4. Scale y by ScaleFor(ratio)
// 5. Rotate back by angle
func (e Expansion) Expand(r Region) (Region, bool) {
	edges := r.Edges()
	if len(edges) < 2 {
		return Region{}, false
	}

	longest, shortest := edges[0], edges[0]
	for _, v := range edges[1:] {
		n := r2.Norm(v)
		if n > r2.Norm(longest) {
			longest = v
		}
		if n < r2.Norm(shortest) {
			shortest = v
		}
	}

	longLen := r2.Norm(longest)
	if longLen == 0 || math.IsNaN(longLen) || math.IsInf(longLen, 0) {
		return Region{}, false
	}

	ratio := r2.Norm(shortest) / longLen
	angle := math.Atan2(longest.Y, longest.X)
	scale := e.ScaleFor(ratio)
	center := r.Centroid()

	return r.Transform(func(p r2.Vec) r2.Vec {
		aligned := r2.Rotate(p, -angle, center)
		aligned.Y = center.Y + (aligned.Y-center.Y)*scale
		return r2.Rotate(aligned, angle, center)
	}), true
}

// Overlap reports whether a and b plausibly mark the same object: the expanded
// form of either region contains the centroid of the other. Degenerate regions
// never overlap.
func (e Expansion) Overlap(a, b Region) bool {
	ea, ok := e.Expand(a)
	if !ok {
		return false
	}
	eb, ok := e.Expand(b)
	if !ok {
		return false
	}
	return ea.Contains(b.Centroid()) || eb.Contains(a.Centroid())
}

// Overlap is Expansion.Overlap with the default tiers.
func Overlap(a, b Region) bool {
	return DefaultExpansion().Overlap(a, b)
}
