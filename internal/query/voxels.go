package query

import (
	"math"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

const maxVoxelsPerAxis = 999999

// Range of voxel indices [min, max) per axis
type voxelRange struct {
	min [3]int
	max [3]int
}

type voxels struct {
	region  geometry.Box
	size    [3]float64
	stack   []voxelRange
	box     geometry.Box
	index   [3]int
	total   uint64
	visited uint64
	probes  uint64
}

func (v *voxels) push(x1, y1, z1, x2, y2, z2 int) {
	if x1 != x2 && y1 != y2 && z1 != z2 {
		v.stack = append(v.stack, voxelRange{min: [3]int{x1, y1, z1}, max: [3]int{x2, y2, z2}})
	}
}

func (v *voxels) boxOf(r voxelRange) geometry.Box {
	m := v.region.Min
	return geometry.NewBox(
		m.X+v.size[0]*float64(r.min[0]), m.Y+v.size[1]*float64(r.min[1]), m.Z+v.size[2]*float64(r.min[2]),
		m.X+v.size[0]*float64(r.max[0]), m.Y+v.size[1]*float64(r.max[1]), m.Z+v.size[2]*float64(r.max[2]),
	)
}

// Divides region into voxels of about voxelSize. The voxel size is adjusted
// per axis so that a whole number of voxels covers the region.
func (q *Query) SetVoxels(voxelSize float64, region geometry.Box) {
	v := &q.voxels
	*v = voxels{region: region, box: geometry.EmptyBox()}
	if region.IsEmpty() || voxelSize <= 0 {
		return
	}

	var n [3]int
	for axis := 0; axis < 3; axis++ {
		length := region.Length(axis)
		n[axis] = min(max(int(math.Round(length/voxelSize)), 1), maxVoxelsPerAxis)
		v.size[axis] = length / float64(n[axis])
	}
	v.push(0, 0, 0, n[0], n[1], n[2])
	v.total = uint64(n[0]) * uint64(n[1]) * uint64(n[2])
}

// Moves to the next voxel containing at least one point accepted by the
// query predicate. Empty ranges of voxels are skipped with one probe.
//
// Probing replaces the query shape and maximum result count, and runs Exec.
func (q *Query) NextVoxel() bool {
	v := &q.voxels
	for len(v.stack) > 0 {
		r := v.stack[len(v.stack)-1]
		v.stack = v.stack[:len(v.stack)-1]

		x1, y1, z1 := r.min[0], r.min[1], r.min[2]
		x2, y2, z2 := r.max[0], r.max[1], r.max[2]
		dx, dy, dz := x2-x1, y2-y1, z2-z1
		v.box = v.boxOf(r)

		if !q.probe(v.box) {
			v.visited += uint64(dx) * uint64(dy) * uint64(dz)
			continue
		}

		if dx == 1 && dy == 1 && dz == 1 {
			v.index = [3]int{x1, y1, z1}
			v.visited++
			return true
		}

		p := max(dx, dy, dz) / 2
		px, py, pz := p, p, p
		if x1+px > x2 {
			px = dx
		}
		if y1+py > y2 {
			py = dy
		}
		if z1+pz > z2 {
			pz = dz
		}

		// Reverse order, so that popping yields Morton order
		v.push(x1+px, y1+py, z1+pz, x2, y2, z2)
		v.push(x1, y1+py, z1+pz, x1+px, y2, z2)
		v.push(x1+px, y1, z1+pz, x2, y1+py, z2)
		v.push(x1, y1, z1+pz, x1+px, y1+py, z2)

		v.push(x1+px, y1+py, z1, x2, y2, z1+pz)
		v.push(x1, y1+py, z1, x1+px, y2, z1+pz)
		v.push(x1+px, y1, z1, x2, y1+py, z1+pz)
		v.push(x1, y1, z1, x1+px, y1+py, z1+pz)
	}
	return false
}

// Reports whether box holds any point accepted by the predicate
func (q *Query) probe(box geometry.Box) bool {
	q.voxels.probes++
	q.where.SetBox(box)
	q.SetMaximumResults(1)
	q.Exec()
	found := q.Next()
	q.SetMaximumResults(0)
	return found
}

// Box of the current voxel
func (q *Query) VoxelBox() geometry.Box {
	return q.voxels.box
}

// Grid index of the current voxel
func (q *Query) VoxelIndex() [3]int {
	return q.voxels.index
}

// Voxels of the region
func (q *Query) VoxelTotal() uint64 {
	return q.voxels.total
}

// Voxels returned or skipped so far
func (q *Query) VoxelVisited() uint64 {
	return q.voxels.visited
}

// Probe queries run so far
func (q *Query) VoxelProbes() uint64 {
	return q.voxels.probes
}
