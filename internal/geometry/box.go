package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Axis aligned bounding box. The zero value is a degenerate box at the origin,
// use EmptyBox to start accumulating points.
type Box struct {
	Min r3.Vector
	Max r3.Vector
}

// Builds a box from two opposite corners in any order
func NewBox(x1, y1, z1, x2, y2, z2 float64) Box {
	return Box{
		Min: r3.Vector{X: math.Min(x1, x2), Y: math.Min(y1, y2), Z: math.Min(z1, z2)},
		Max: r3.Vector{X: math.Max(x1, x2), Y: math.Max(y1, y2), Z: math.Max(z1, z2)},
	}
}

// Returns a box that contains nothing and grows with Extend
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: r3.Vector{X: inf, Y: inf, Z: inf},
		Max: r3.Vector{X: -inf, Y: -inf, Z: -inf},
	}
}

// Computes the bounding box of interleaved coordinates [x0, y0, z0, x1, ...]
func BoxOfPoints(xyz []float64) Box {
	b := EmptyBox()
	for i := 0; i+2 < len(xyz); i += 3 {
		b.Extend(xyz[i], xyz[i+1], xyz[i+2])
	}
	return b
}

func (b Box) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b *Box) Extend(x, y, z float64) {
	b.Min.X = math.Min(b.Min.X, x)
	b.Min.Y = math.Min(b.Min.Y, y)
	b.Min.Z = math.Min(b.Min.Z, z)
	b.Max.X = math.Max(b.Max.X, x)
	b.Max.Y = math.Max(b.Max.Y, y)
	b.Max.Z = math.Max(b.Max.Z, z)
}

func (b *Box) ExtendBox(o Box) {
	if o.IsEmpty() {
		return
	}
	b.Extend(o.Min.X, o.Min.Y, o.Min.Z)
	b.Extend(o.Max.X, o.Max.Y, o.Max.Z)
}

// Length along axis 0, 1 or 2
func (b Box) Length(axis int) float64 {
	switch axis {
	case 0:
		return b.Max.X - b.Min.X
	case 1:
		return b.Max.Y - b.Min.Y
	default:
		return b.Max.Z - b.Min.Z
	}
}

func (b Box) MaxLength() float64 {
	return math.Max(b.Length(0), math.Max(b.Length(1), b.Length(2)))
}

func (b Box) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Half of the diagonal
func (b Box) Radius() float64 {
	return b.Max.Sub(b.Min).Norm() * 0.5
}

// Distance from the box center to p
func (b Box) Distance(p r3.Vector) float64 {
	return b.Center().Distance(p)
}

// Reports whether the point lies inside the box, boundary included
func (b Box) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Contains for raw coordinates, used on hot paths
func (b Box) ContainsXYZ(x, y, z float64) bool {
	return x >= b.Min.X && x <= b.Max.X &&
		y >= b.Min.Y && y <= b.Max.Y &&
		z >= b.Min.Z && z <= b.Max.Z
}

// Reports whether o lies completely inside b
func (b Box) ContainsBox(o Box) bool {
	return o.Min.X >= b.Min.X && o.Max.X <= b.Max.X &&
		o.Min.Y >= b.Min.Y && o.Max.Y <= b.Max.Y &&
		o.Min.Z >= b.Min.Z && o.Max.Z <= b.Max.Z
}

func (b Box) Intersects(o Box) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

func (b Box) Translate(v r3.Vector) Box {
	if b.IsEmpty() {
		return b
	}
	return Box{Min: b.Min.Add(v), Max: b.Max.Add(v)}
}

// Cube with the edge of the longest side anchored at Min
func (b Box) Cube() Box {
	l := b.MaxLength()
	return Box{Min: b.Min, Max: b.Min.Add(r3.Vector{X: l, Y: l, Z: l})}
}

// Octant of the box selected by code, bit 0 for x, bit 1 for y, bit 2 for z
func (b Box) Octant(center r3.Vector, code int) Box {
	o := b
	if code&1 != 0 {
		o.Min.X = center.X
	} else {
		o.Max.X = center.X
	}
	if code&2 != 0 {
		o.Min.Y = center.Y
	} else {
		o.Max.Y = center.Y
	}
	if code&4 != 0 {
		o.Min.Z = center.Z
	} else {
		o.Max.Z = center.Z
	}
	return o
}

// Box implements Shape with itself as bounds
func (b Box) Bounds() Box {
	return b
}

func (b Box) String() string {
	return fmt.Sprintf("[%g,%g,%g; %g,%g,%g]", b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
}
