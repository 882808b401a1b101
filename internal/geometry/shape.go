package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// Shape is a query window. Node level tests use Bounds, point level tests
// use Contains.
type Shape interface {
	Bounds() Box
	Contains(p r3.Vector) bool
}

// Sphere around Center
type Sphere struct {
	Center r3.Vector
	Radius float64
}

func (s Sphere) Bounds() Box {
	r := r3.Vector{X: s.Radius, Y: s.Radius, Z: s.Radius}
	return Box{Min: s.Center.Sub(r), Max: s.Center.Add(r)}
}

func (s Sphere) Contains(p r3.Vector) bool {
	d := p.Sub(s.Center)
	return d.Dot(d) <= s.Radius*s.Radius
}

// Cone with the apex on top, opening downwards by Angle degrees from the
// vertical axis, Height long.
type Cone struct {
	Apex   r3.Vector
	Height float64
	Angle  float64
}

func (c Cone) radiusAt(depth float64) float64 {
	return depth * math.Tan(c.Angle*math.Pi/180.0)
}

func (c Cone) Bounds() Box {
	r := c.radiusAt(c.Height)
	return NewBox(
		c.Apex.X-r, c.Apex.Y-r, c.Apex.Z-c.Height,
		c.Apex.X+r, c.Apex.Y+r, c.Apex.Z,
	)
}

func (c Cone) Contains(p r3.Vector) bool {
	depth := c.Apex.Z - p.Z
	if depth < 0 || depth > c.Height {
		return false
	}
	dx := p.X - c.Apex.X
	dy := p.Y - c.Apex.Y
	r := c.radiusAt(depth)
	return dx*dx+dy*dy <= r*r
}

// Cylinder between A and B
type Cylinder struct {
	A      r3.Vector
	B      r3.Vector
	Radius float64
}

func (c Cylinder) Bounds() Box {
	b := NewBox(c.A.X, c.A.Y, c.A.Z, c.B.X, c.B.Y, c.B.Z)
	r := r3.Vector{X: c.Radius, Y: c.Radius, Z: c.Radius}
	return Box{Min: b.Min.Sub(r), Max: b.Max.Add(r)}
}

func (c Cylinder) Contains(p r3.Vector) bool {
	axis := c.B.Sub(c.A)
	l2 := axis.Dot(axis)
	if l2 == 0 {
		return p.Sub(c.A).Norm() <= c.Radius
	}
	t := p.Sub(c.A).Dot(axis) / l2
	if t < 0 || t > 1 {
		return false
	}
	closest := c.A.Add(axis.Mul(t))
	d := p.Sub(closest)
	return d.Dot(d) <= c.Radius*c.Radius
}

// Closed interval filter. A disabled range accepts everything.
type Range struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Enabled bool    `yaml:"enabled"`
}

func NewRange(min, max float64) Range {
	return Range{Min: min, Max: max, Enabled: true}
}

func (r Range) Contains(v float64) bool {
	if !r.Enabled {
		return true
	}
	return v >= r.Min && v <= r.Max
}
