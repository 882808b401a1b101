package query

import (
	"math"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

const (
	DefaultPointsPerCell    = 100000
	DefaultCellLengthMinPct = 1.0

	gridMask = 0xfffff
)

type grid struct {
	cells    []uint64
	next     int
	boundary geometry.Box
	lengthX  float64
	lengthY  float64
	cell     geometry.Box
}

// Appends cells of [x1,x2)x[y1,y2) in quadtree Morton order, x in the low 20
// bits and y in the next 20
func mortonCells(dst []uint64, x1, x2, y1, y2 int) []uint64 {
	dx := x2 - x1
	dy := y2 - y1
	if dx < 1 || dy < 1 {
		return dst
	}
	if dx == 1 && dy == 1 {
		return append(dst, uint64(x1&gridMask)|uint64(y1&gridMask)<<20)
	}
	px := dx / 2
	py := dy / 2
	dst = mortonCells(dst, x1, x1+px, y1, y1+py)
	dst = mortonCells(dst, x1+px, x2, y1, y1+py)
	dst = mortonCells(dst, x1, x1+px, y1+py, y2)
	dst = mortonCells(dst, x1+px, x2, y1+py, y2)
	return dst
}

// Splits the clip boundary into square columns holding about pointsPerCell
// points each, assuming uniform density over the dataset boundary. Cells are
// never shorter than cellLengthMinPct percent of the smaller horizontal side
// of the clip boundary. Every cell spans the full height.
func (q *Query) SetGrid(pointsPerCell int, cellLengthMinPct float64) {
	if pointsPerCell <= 0 {
		pointsPerCell = DefaultPointsPerCell
	}
	q.grid = grid{cell: geometry.EmptyBox()}

	filter := q.where.DatasetFilter()
	boundary := q.registry.Boundary(filter)
	clip := q.ClipBoundary()
	if boundary.IsEmpty() || clip.IsEmpty() {
		return
	}

	area := boundary.Length(0) * boundary.Length(1)
	areaClip := clip.Length(0) * clip.Length(1)
	if area <= 0 || areaClip <= 0 {
		return
	}

	points := float64(q.registry.PointCount(filter)) * areaClip / area
	nCells := math.Max(1, math.Ceil(points/float64(pointsPerCell)))
	cellLength := math.Sqrt(areaClip / nCells)

	cellLengthMin := math.Min(clip.Length(0), clip.Length(1)) * 0.01 * cellLengthMinPct
	cellLength = math.Max(cellLength, cellLengthMin)

	nx := max(1, int(math.Round(clip.Length(0)/cellLength)))
	ny := max(1, int(math.Round(clip.Length(1)/cellLength)))

	q.grid.boundary = clip
	q.grid.lengthX = clip.Length(0) / float64(nx)
	q.grid.lengthY = clip.Length(1) / float64(ny)
	q.grid.cells = mortonCells(nil, 0, nx, 0, ny)
	q.logger.Debugw("grid", "cells", len(q.grid.cells), "x", nx, "y", ny)
}

// Moves to the next grid cell
func (q *Query) NextGrid() bool {
	g := &q.grid
	if g.next >= len(g.cells) {
		return false
	}
	v := g.cells[g.next]
	g.next++

	x := float64(v & gridMask)
	y := float64((v >> 20) & gridMask)
	b := g.boundary
	g.cell = geometry.NewBox(
		b.Min.X+x*g.lengthX, b.Min.Y+y*g.lengthY, b.Min.Z,
		b.Min.X+(x+1)*g.lengthX, b.Min.Y+(y+1)*g.lengthY, b.Max.Z,
	)
	return true
}

// Box of the current grid cell
func (q *Query) GridCell() geometry.Box {
	return q.grid.cell
}

// Number of cells of the grid
func (q *Query) GridSize() int {
	return len(q.grid.cells)
}
