package index

import (
	"github.com/golang/geo/r3"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

// Deepest level the octree is allowed to reach
const MaxLevel = 17

// Persisted octree node. From and Size address points in the data file,
// Offset addresses the page local index of this node in the index file.
// Prev is the parent index plus one, zero for the root. Next holds child
// indices, zero meaning no child.
type Node struct {
	From     uint64
	Size     uint64
	Offset   uint64
	Reserved uint32
	Prev     uint32
	Next     [8]uint32
}

// Reports whether the node has no children
func (n *Node) IsLeaf() bool {
	for _, c := range n.Next {
		if c != 0 {
			return false
		}
	}
	return true
}

// Result of a spatial selection. Partial nodes need point level filtering.
type Selection struct {
	ID      uint64
	Idx     uint32
	Partial bool
}

type buildNode struct {
	size uint64
	code uint64
	next [8]*buildNode
}

// Index is an octree over point coordinates flattened into a node array.
//
// Two layouts are produced. In level of detail mode every node keeps up to
// maxSize points itself and nodes are numbered breadth first. In leaves mode
// all points descend to the deepest level, nodes are numbered depth first,
// and a node's range covers its whole subtree.
type Index struct {
	nodes []Node

	boundary           geometry.Box
	boundaryFile       geometry.Box
	boundaryPoints     geometry.Box
	boundaryPointsFile geometry.Box

	root       *buildNode
	maxSize    uint64
	maxLevel   int
	leavesOnly bool
}

// Builds an empty index
func New() *Index {
	idx := &Index{}
	idx.Clear()
	return idx
}

func (idx *Index) Clear() {
	idx.nodes = nil
	idx.boundary = geometry.EmptyBox()
	idx.boundaryFile = idx.boundary
	idx.boundaryPoints = idx.boundary
	idx.boundaryPointsFile = idx.boundary
	idx.root = nil
	idx.maxSize = 0
	idx.maxLevel = 0
	idx.leavesOnly = false
}

func (idx *Index) Len() int {
	return len(idx.nodes)
}

func (idx *Index) Empty() bool {
	return len(idx.nodes) == 0
}

// Returns the node at position i or nil when out of range
func (idx *Index) At(i int) *Node {
	if i < 0 || i >= len(idx.nodes) {
		return nil
	}
	return &idx.nodes[i]
}

// Number of points addressed by the nodes, the end of the furthest range
func (idx *Index) PointCount() uint64 {
	var n uint64
	for i := range idx.nodes {
		n = max(n, idx.nodes[i].From+idx.nodes[i].Size)
	}
	return n
}

func (idx *Index) Root() *Node {
	return idx.At(0)
}

// Parent of node i, ok is false for the root
func (idx *Index) Parent(i int) (int, bool) {
	n := idx.At(i)
	if n == nil || n.Prev == 0 {
		return 0, false
	}
	return int(n.Prev) - 1, true
}

// Box used to split nodes, translated
func (idx *Index) Boundary() geometry.Box {
	return idx.boundary
}

// Tight box of the indexed points, translated
func (idx *Index) BoundaryPoints() geometry.Box {
	return idx.boundaryPoints
}

// Shifts both boundaries by v relative to the values stored in the file
func (idx *Index) Translate(v r3.Vector) {
	idx.boundary = idx.boundaryFile.Translate(v)
	idx.boundaryPoints = idx.boundaryPointsFile.Translate(v)
}

// Starts building a new tree. A maxLevel of zero or above MaxLevel selects
// MaxLevel. In leaves mode maxSize is ignored.
func (idx *Index) InsertBegin(boundary, boundaryPoints geometry.Box, maxSize uint64, maxLevel int, leavesOnly bool) {
	idx.Clear()
	idx.boundary = boundary
	idx.boundaryFile = boundary
	idx.boundaryPoints = boundaryPoints
	idx.boundaryPointsFile = boundaryPoints
	idx.root = &buildNode{}
	idx.maxSize = maxSize
	idx.maxLevel = maxLevel
	idx.leavesOnly = leavesOnly

	if idx.maxLevel <= 0 || idx.maxLevel > MaxLevel {
		idx.maxLevel = MaxLevel
	}
	if idx.leavesOnly {
		idx.maxSize = 0
	}
}

// Adds a point to the tree under construction and returns its code: the
// octant path, three bits per level. Outside leaves mode the level at which
// the point was stored is kept in the top byte.
func (idx *Index) Insert(x, y, z float64) uint64 {
	var code, ecode uint64
	octant := idx.boundary
	node := idx.root

	for level := 0; level < idx.maxLevel; level++ {
		if node.size < idx.maxSize {
			node.size++
			return ecode
		}

		center := octant.Center()
		c := octantCode(x, y, z, center)
		octant = octant.Octant(center, c)
		code = code<<3 | uint64(c)

		if idx.leavesOnly {
			ecode = code
		} else {
			ecode = code | (uint64(level+1)&0xff)<<56
		}

		if level+1 == idx.maxLevel {
			node.size++
		} else {
			if node.next[c] == nil {
				node.next[c] = &buildNode{code: ecode}
			}
			node = node.next[c]
		}
	}

	return ecode
}

// Flattens the tree under construction into the node array
func (idx *Index) InsertEnd() {
	if idx.root == nil {
		return
	}

	idx.nodes = make([]Node, countNodes(idx.root))

	if idx.leavesOnly {
		var i uint32
		var from uint64
		idx.flattenLeaves(idx.root, 0, &i, &from)
	} else {
		idx.flattenLevels()
	}

	idx.root = nil
}

func (idx *Index) flattenLevels() {
	type item struct {
		node *buildNode
		prev uint32
	}

	queue := []item{{node: idx.root}}
	var used uint32
	var from uint64

	for i := 0; len(queue) > 0; i++ {
		it := queue[0]
		queue = queue[1:]

		n := &idx.nodes[i]
		n.From = from
		n.Size = it.node.size
		n.Prev = it.prev

		for c, next := range it.node.next {
			if next != nil {
				used++
				n.Next[c] = used
				queue = append(queue, item{node: next, prev: uint32(i + 1)})
			}
		}

		from += it.node.size
	}
}

func (idx *Index) flattenLeaves(node *buildNode, prev uint32, i *uint32, from *uint64) uint64 {
	self := *i
	n := node.size

	idx.nodes[self].From = *from
	idx.nodes[self].Prev = prev

	*i++
	*from += node.size

	for c, next := range node.next {
		if next != nil {
			idx.nodes[self].Next[c] = *i
			n += idx.flattenLeaves(next, self+1, i, from)
		}
	}

	idx.nodes[self].Size = n
	return n
}

func countNodes(node *buildNode) int {
	n := 1
	for _, next := range node.next {
		if next != nil {
			n += countNodes(next)
		}
	}
	return n
}

// Octant of a point relative to the center, ties go to the lower half
func octantCode(x, y, z float64, center r3.Vector) int {
	c := 0
	if x > center.X {
		c |= 1
	}
	if y > center.Y {
		c |= 2
	}
	if z > center.Z {
		c |= 4
	}
	return c
}
