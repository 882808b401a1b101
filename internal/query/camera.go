package query

import (
	"container/heap"

	"github.com/golang/geo/r3"

	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/page"
)

// Scales eye distances before they are weighed against node radius
const distanceScale = 0.002

// Camera of a viewport
type Camera struct {
	Eye r3.Vector
}

type candidate struct {
	key    Key
	weight float64
	seq    int
}

// Min heap on weight, insertion order breaks ties
type candidates []candidate

func (c candidates) Len() int { return len(c) }
func (c candidates) Less(i, j int) bool {
	if c[i].weight != c[j].weight {
		return c[i].weight < c[j].weight
	}
	return c[i].seq < c[j].seq
}
func (c candidates) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c *candidates) Push(x interface{}) { *c = append(*c, x.(candidate)) }
func (c *candidates) Pop() interface{} {
	old := *c
	x := old[len(old)-1]
	*c = old[:len(old)-1]
	return x
}

// Weight of a node seen from eye. Nodes around the eye come first, then
// nodes which are near and large.
func nodeWeight(box geometry.Box, eye r3.Vector) float64 {
	radius := box.Radius()
	distance := box.Distance(eye)
	if distance < radius || radius == 0 {
		return 0
	}
	distance *= distanceScale
	return distance * distance / radius
}

// Chooses the pages to keep resident for camera. Expansion starts at the
// root page of each visible dataset and takes the lightest node until the
// cache is full. Resident pages are reused, new pages replace the least
// recently used pages outside the new working set.
func (q *Query) ApplyCamera(camera Camera) {
	filter := q.where.DatasetFilter()

	var queue candidates
	seq := 0
	for _, id := range q.registry.Keys() {
		if filter != nil && !filter.Contains(id) {
			continue
		}
		if d, err := q.registry.Get(id); err == nil && d.Visible && !d.Index().Empty() {
			queue = append(queue, candidate{key: Key{Dataset: id, Generation: d.Generation}, seq: seq})
			seq++
		}
	}
	heap.Init(&queue)

	working := make([]Key, 0, q.pages.Capacity())
	for queue.Len() > 0 && len(working) < q.pages.Capacity() {
		c := heap.Pop(&queue).(candidate)
		d, err := q.registry.Get(c.key.Dataset)
		if err != nil {
			continue
		}
		idx := d.Index()
		node := idx.At(int(c.key.Page))
		if node == nil {
			continue
		}
		if q.clipEnabled {
			if !q.clip.Intersects(idx.NodeBoundary(int(c.key.Page), idx.Boundary())) {
				continue
			}
		}
		working = append(working, c.key)

		for _, next := range node.Next {
			if next == 0 {
				continue
			}
			box := idx.NodeBoundary(int(next), idx.Boundary())
			heap.Push(&queue, candidate{
				key:    Key{Dataset: c.key.Dataset, Generation: c.key.Generation, Page: uint64(next)},
				weight: nodeWeight(box, camera.Eye),
				seq:    seq,
			})
			seq++
		}
	}

	// Resident pages of the new set move ahead of everything else first so
	// that inserting missing pages evicts only pages outside the set.
	for i := len(working) - 1; i >= 0; i-- {
		q.pages.Touch(working[i])
	}
	for i := len(working) - 1; i >= 0; i-- {
		k := working[i]
		if !q.pages.Touch(k) {
			q.pages.Put(k, page.New(k.Dataset, k.Page))
		}
	}
	q.working = working

	q.SetState(page.StateRender)
}

// Pages chosen by the last ApplyCamera, most important first
func (q *Query) Working() []Key {
	return q.working
}

// Performs one stage of work on the first working page which is not ready.
// Returns true when every working page is ready for rendering.
func (q *Query) LoadStep() bool {
	for _, k := range q.working {
		p, ok := q.pages.Peek(k)
		if !ok {
			continue
		}
		if !p.Ready() {
			p.NextState(q)
			return false
		}
	}
	return true
}

// Advances the working pages. Returns true once every one was rendered.
func (q *Query) NextState() bool {
	for _, k := range q.working {
		p, ok := q.pages.Peek(k)
		if !ok {
			continue
		}
		if !p.NextState(q) {
			return false
		}
	}
	return true
}

// Working pages ready for rendering
func (q *Query) ReadyPages() []*page.Page {
	var out []*page.Page
	for _, k := range q.working {
		if p, ok := q.pages.Peek(k); ok && p.Ready() {
			out = append(out, p)
		}
	}
	return out
}
