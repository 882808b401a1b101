package index

import (
	"github.com/ecopia-map/pointdb/internal/geometry"
)

// Appends the leaves intersecting window to dst. A node whose box lies
// completely inside the window is returned whole and not descended.
func (idx *Index) SelectLeaves(dst []Selection, window geometry.Box, id uint64) []Selection {
	if idx.Empty() {
		return dst
	}
	return idx.selectLeaves(dst, window, idx.boundary, 0, id)
}

func (idx *Index) selectLeaves(dst []Selection, window, boundary geometry.Box, i uint32, id uint64) []Selection {
	if window.ContainsBox(boundary) {
		return append(dst, Selection{ID: id, Idx: i, Partial: false})
	}
	if !boundary.Intersects(window) {
		return dst
	}

	node := &idx.nodes[i]
	center := boundary.Center()
	leaf := true

	for c, next := range node.Next {
		if next != 0 {
			dst = idx.selectLeaves(dst, window, boundary.Octant(center, c), next, id)
			leaf = false
		}
	}

	if leaf {
		dst = append(dst, Selection{ID: id, Idx: i, Partial: true})
	}
	return dst
}

// Appends every node intersecting window to dst, parents before children
func (idx *Index) SelectNodes(dst []Selection, window geometry.Box, id uint64) []Selection {
	if idx.Empty() {
		return dst
	}
	return idx.selectNodes(dst, window, idx.boundary, 0, id)
}

func (idx *Index) selectNodes(dst []Selection, window, boundary geometry.Box, i uint32, id uint64) []Selection {
	if !boundary.Intersects(window) {
		return dst
	}

	dst = append(dst, Selection{ID: id, Idx: i, Partial: !window.ContainsBox(boundary)})

	node := &idx.nodes[i]
	center := boundary.Center()
	for c, next := range node.Next {
		if next != 0 {
			dst = idx.selectNodes(dst, window, boundary.Octant(center, c), next, id)
		}
	}
	return dst
}

// Follows the insertion path of the point and returns the first node which
// still has room according to used. It replays Insert when points are visited
// in insertion order. Returns -1 when the point is outside the index.
func (idx *Index) SelectNode(used map[int]uint64, x, y, z float64) int {
	if idx.Empty() || !idx.boundary.ContainsXYZ(x, y, z) {
		return -1
	}

	boundary := idx.boundary
	i := 0
	for {
		node := &idx.nodes[i]
		if used[i] < node.Size {
			return i
		}
		center := boundary.Center()
		c := octantCode(x, y, z, center)
		if node.Next[c] == 0 {
			return i
		}
		boundary = boundary.Octant(center, c)
		i = int(node.Next[c])
	}
}

// Returns the deepest node on the insertion path of the point or -1 when the
// point is outside the index
func (idx *Index) SelectLeaf(x, y, z float64) int {
	if idx.Empty() || !idx.boundary.ContainsXYZ(x, y, z) {
		return -1
	}

	boundary := idx.boundary
	i := 0
	for {
		node := &idx.nodes[i]
		center := boundary.Center()
		c := octantCode(x, y, z, center)
		if node.Next[c] == 0 {
			return i
		}
		boundary = boundary.Octant(center, c)
		i = int(node.Next[c])
	}
}

// Box of node i, derived from box by repeating the octant split along the
// path from the root
func (idx *Index) NodeBoundary(i int, box geometry.Box) geometry.Box {
	var path []int
	for i > 0 {
		parent, ok := idx.Parent(i)
		if !ok {
			break
		}
		for c, next := range idx.nodes[parent].Next {
			if int(next) == i {
				path = append(path, c)
				break
			}
		}
		i = parent
	}

	for k := len(path) - 1; k >= 0; k-- {
		box = box.Octant(box.Center(), path[k])
	}
	return box
}
