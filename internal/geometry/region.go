// Package geometry provides the detection-region model and the overlap test used
// to decide whether two detections from different frames denote the same object.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Op is a path construction operation.
type Op int

const (
	// OpMove starts a new subpath at the element's point.
	OpMove Op = iota
	// OpLine draws a straight line from the current point to the element's point.
	OpLine
	// OpClose closes the current subpath. Its point is unused.
	OpClose
)

// Element is a single path operation.
type Element struct {
	Op    Op
	Point r2.Vec
}

// Region is a closed polygon in frame coordinates, stored as the sequence of
// move/line/close operations that traced it.
type Region struct {
	elements []Element
}

// Path incrementally builds a Region.
type Path struct {
	elements []Element
}

// MoveTo starts a new subpath at (x, y).
func (p *Path) MoveTo(x, y float64) *Path {
	p.elements = append(p.elements, Element{Op: OpMove, Point: r2.Vec{X: x, Y: y}})
	return p
}

// LineTo adds a line from the current point to (x, y).
func (p *Path) LineTo(x, y float64) *Path {
	p.elements = append(p.elements, Element{Op: OpLine, Point: r2.Vec{X: x, Y: y}})
	return p
}

// Close closes the current subpath and returns the finished region.
func (p *Path) Close() Region {
	p.elements = append(p.elements, Element{Op: OpClose})
	elements := make([]Element, len(p.elements))
	copy(elements, p.elements)
	return Region{elements: elements}
}

// Polygon returns the closed region tracing pts in order.
func Polygon(pts ...r2.Vec) Region {
	if len(pts) == 0 {
		return Region{}
	}
	var p Path
	p.MoveTo(pts[0].X, pts[0].Y)
	for _, pt := range pts[1:] {
		p.LineTo(pt.X, pt.Y)
	}
	return p.Close()
}

// Rect returns the axis-aligned rectangle with origin (x, y) and the given size.
func Rect(x, y, w, h float64) Region {
	return Polygon(
		r2.Vec{X: x, Y: y},
		r2.Vec{X: x + w, Y: y},
		r2.Vec{X: x + w, Y: y + h},
		r2.Vec{X: x, Y: y + h},
	)
}

// Elements returns a copy of the path operations.
func (r Region) Elements() []Element {
	out := make([]Element, len(r.elements))
	copy(out, r.elements)
	return out
}

// Vertices returns the move/line points in path order.
func (r Region) Vertices() []r2.Vec {
	pts := make([]r2.Vec, 0, len(r.elements))
	for _, e := range r.elements {
		if e.Op != OpClose {
			pts = append(pts, e.Point)
		}
	}
	return pts
}

// IsEmpty reports whether the region has no vertices.
func (r Region) IsEmpty() bool {
	for _, e := range r.elements {
		if e.Op != OpClose {
			return false
		}
	}
	return true
}

// Bounds returns the smallest axis-aligned box containing every vertex.
func (r Region) Bounds() r2.Box {
	pts := r.Vertices()
	if len(pts) == 0 {
		return r2.Box{}
	}
	box := r2.Box{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		box.Min.X = math.Min(box.Min.X, p.X)
		box.Min.Y = math.Min(box.Min.Y, p.Y)
		box.Max.X = math.Max(box.Max.X, p.X)
		box.Max.Y = math.Max(box.Max.Y, p.Y)
	}
	return box
}

// Centroid returns the centre of the region's bounding box.
func (r Region) Centroid() r2.Vec {
	return r.Bounds().Center()
}

// Edges decomposes the boundary into edge vectors, one per line operation.
// The implicit closing edge of each subpath is not included.
func (r Region) Edges() []r2.Vec {
	var (
		edges []r2.Vec
		last  r2.Vec
		have  bool
	)
	for _, e := range r.elements {
		switch e.Op {
		case OpMove:
			last, have = e.Point, true
		case OpLine:
			if have {
				edges = append(edges, r2.Sub(e.Point, last))
			}
			last, have = e.Point, true
		}
	}
	return edges
}

// Contains reports whether pt lies inside the region using the even-odd rule.
// Every subpath is treated as closed.
func (r Region) Contains(pt r2.Vec) bool {
	inside := false
	for _, ring := range r.rings() {
		n := len(ring)
		if n < 3 {
			continue
		}
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := ring[i], ring[j]
			if (a.Y > pt.Y) != (b.Y > pt.Y) {
				x := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
				if pt.X < x {
					inside = !inside
				}
			}
		}
	}
	return inside
}

// rings splits the path into its subpaths' vertex lists.
func (r Region) rings() [][]r2.Vec {
	var (
		rings   [][]r2.Vec
		current []r2.Vec
	)
	for _, e := range r.elements {
		switch e.Op {
		case OpMove:
			if len(current) > 0 {
				rings = append(rings, current)
			}
			current = []r2.Vec{e.Point}
		case OpLine:
			current = append(current, e.Point)
		case OpClose:
			if len(current) > 0 {
				rings = append(rings, current)
			}
			current = nil
		}
	}
	if len(current) > 0 {
		rings = append(rings, current)
	}
	return rings
}

// Transform returns a copy of the region with f applied to every point.
func (r Region) Transform(f func(r2.Vec) r2.Vec) Region {
	out := make([]Element, len(r.elements))
	for i, e := range r.elements {
		out[i] = e
		if e.Op != OpClose {
			out[i].Point = f(e.Point)
		}
	}
	return Region{elements: out}
}

// Equal reports whether both regions were traced by the same operations.
func (r Region) Equal(other Region) bool {
	if len(r.elements) != len(other.elements) {
		return false
	}
	for i := range r.elements {
		if r.elements[i] != other.elements[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("Region%v", r.Vertices())
}

// MarshalJSON encodes the region as a list of [x, y] vertices.
func (r Region) MarshalJSON() ([]byte, error) {
	pts := r.Vertices()
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		out[i] = [2]float64{p.X, p.Y}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of [x, y] vertices into a closed polygon.
func (r *Region) UnmarshalJSON(data []byte) error {
	var pts [][2]float64
	if err := json.Unmarshal(data, &pts); err != nil {
		return err
	}
	if len(pts) == 0 {
		return errors.New("region needs at least one vertex")
	}
	vs := make([]r2.Vec, len(pts))
	for i, p := range pts {
		vs[i] = r2.Vec{X: p[0], Y: p[1]}
	}
	*r = Polygon(vs...)
	return nil
}
