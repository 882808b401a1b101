package geometry

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestBoxExtendAndContain(t *testing.T) {
	b := EmptyBox()
	assert.True(t, b.IsEmpty())

	b.Extend(1, 2, 3)
	b.Extend(-1, 5, 0)
	assert.False(t, b.IsEmpty())
	assert.Equal(t, NewBox(-1, 2, 0, 1, 5, 3), b)
	assert.True(t, b.ContainsXYZ(1, 5, 3))
	assert.False(t, b.ContainsXYZ(1.0001, 5, 3))
	assert.InDelta(t, 3.0, b.MaxLength(), 1e-12)
}

func TestBoxIntersects(t *testing.T) {
	a := NewBox(0, 0, 0, 10, 10, 10)
	assert.True(t, a.Intersects(NewBox(10, 10, 10, 20, 20, 20)))
	assert.False(t, a.Intersects(NewBox(10.5, 0, 0, 20, 20, 20)))
	assert.False(t, a.Intersects(EmptyBox()))
	assert.True(t, a.ContainsBox(NewBox(1, 1, 1, 2, 2, 2)))
	assert.False(t, a.ContainsBox(NewBox(-1, 1, 1, 2, 2, 2)))
}

func TestBoxOctantCoversParent(t *testing.T) {
	b := NewBox(0, 0, 0, 8, 8, 8)
	c := b.Center()
	total := 0.0
	for i := 0; i < 8; i++ {
		o := b.Octant(c, i)
		assert.True(t, b.ContainsBox(o))
		total += o.Length(0) * o.Length(1) * o.Length(2)
	}
	assert.InDelta(t, 512.0, total, 1e-9)

	o := b.Octant(c, 1|4)
	assert.Equal(t, NewBox(4, 0, 4, 8, 4, 8), o)
}

func TestShapes(t *testing.T) {
	s := Sphere{Center: r3.Vector{X: 1, Y: 1, Z: 1}, Radius: 2}
	assert.True(t, s.Contains(r3.Vector{X: 2, Y: 2, Z: 2}))
	assert.False(t, s.Contains(r3.Vector{X: 3, Y: 3, Z: 3}))
	assert.True(t, s.Bounds().Contains(r3.Vector{X: 3, Y: 3, Z: 3}))

	c := Cone{Apex: r3.Vector{Z: 10}, Height: 10, Angle: 45}
	assert.True(t, c.Contains(r3.Vector{X: 4.9, Z: 5}))
	assert.False(t, c.Contains(r3.Vector{X: 5.1, Z: 5}))
	assert.False(t, c.Contains(r3.Vector{Z: 11}))
	assert.InDelta(t, 10.0, c.Bounds().Max.X, 1e-9)

	cy := Cylinder{A: r3.Vector{}, B: r3.Vector{Z: 10}, Radius: 1}
	assert.True(t, cy.Contains(r3.Vector{X: 0.5, Z: 5}))
	assert.False(t, cy.Contains(r3.Vector{X: 0.5, Z: 11}))
	assert.False(t, cy.Contains(r3.Vector{X: 1.5, Z: 5}))
}

func TestRange(t *testing.T) {
	var r Range
	assert.True(t, r.Contains(1e9))
	r = NewRange(1, 2)
	assert.True(t, r.Contains(1))
	assert.False(t, r.Contains(2.5))
}
