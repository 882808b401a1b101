package page

import (
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
)

// Modifier changes the render colors of a page after selection. Persisted
// attributes must not be touched.
type Modifier interface {
	Modify(p *Page)
}

// Host is the query a page is evaluated for
type Host interface {
	Dataset(id uint64) (*dataset.Dataset, error)
	Where() *Where
	SegmentInfo() SegmentInfo
	View() *View
	Modifiers() []Modifier
	// Results still allowed, limited is false when there is no maximum
	Remaining() (n int, limited bool)
	AddResults(n int)
	Logger() *zap.SugaredLogger
}

// Page is one main index node evaluated against a query
type Page struct {
	*Data

	// Indices of the selected points, valid up to SelectionSize
	Selection     []uint32
	SelectionSize int

	machine StateMachine
	leaves  []index.Selection
}

func New(datasetID, pageID uint64) *Page {
	return &Page{Data: NewData(datasetID, pageID)}
}

func (p *Page) State() State {
	return p.machine.State()
}

// Moves the page back to an earlier stage. Going back to StateRead drops
// unsaved modifications.
func (p *Page) SetState(s State) {
	if s == StateRendered {
		p.machine.MarkRendered()
		return
	}
	p.machine.Reset(s)
	if s == StateRead {
		p.modified = false
		p.loaded = false
	}
}

func (p *Page) MarkRendered() {
	p.machine.MarkRendered()
}

func (p *Page) Ready() bool {
	return p.machine.Ready()
}

// Selected point j of the page
func (p *Page) Selected(j int) int {
	return int(p.Selection[j])
}

// Performs one pipeline stage. Returns true only when the page was rendered.
func (p *Page) NextState(h Host) bool {
	switch p.machine.State() {
	case StateRead:
		p.read(h)
	case StateTransform:
		p.transform(h)
	case StateSelect:
		p.selectPoints(h)
	case StateRunModifiers:
		p.runModifiers(h)
	case StateRender:
		return false
	case StateRendered:
		return true
	}
	p.machine.Advance()
	return false
}

// Runs stages until the page reaches state s
func (p *Page) Run(h Host, s State) {
	for p.machine.State() < s && p.machine.State() < StateRender {
		p.NextState(h)
	}
}

func (p *Page) read(h Host) {
	d, err := h.Dataset(p.DatasetID)
	if err == nil {
		err = p.Data.Read(d)
	}
	if err != nil {
		h.Logger().Warnw("page read failed", "dataset", p.DatasetID, "page", p.PageID, "error", err)
		p.empty()
	}
}

// Leaves the page without points after a failed read
func (p *Page) empty() {
	p.resize(0)
	p.records = nil
	p.Octree = index.New()
	p.Box = geometry.EmptyBox()
	p.loaded = false
	p.modified = false
}

func (p *Page) transform(h Host) {
	d, err := h.Dataset(p.DatasetID)
	if err != nil {
		return
	}
	p.Transform(d.Translation())
}

func (p *Page) selectPoints(h Host) {
	w := h.Where()
	info := h.SegmentInfo()
	n := p.Len()
	if cap(p.Selection) < n {
		p.Selection = make([]uint32, n)
	}
	p.Selection = p.Selection[:n]

	remaining, limited := h.Remaining()
	count := 0
	add := func(i int) bool {
		if !w.AcceptAttributes(p.Data, i, info) {
			return true
		}
		p.Selection[count] = uint32(i)
		count++
		return !limited || count < remaining
	}

	if limited && remaining <= 0 {
		p.SelectionSize = 0
		return
	}

	if w.Shape == nil {
		for i := 0; i < n; i++ {
			if !add(i) {
				break
			}
		}
	} else {
		_, wholeBox := w.Shape.(geometry.Box)
		p.leaves = p.Octree.SelectLeaves(p.leaves[:0], w.Shape.Bounds(), p.DatasetID)
	leaves:
		for _, s := range p.leaves {
			node := p.Octree.At(int(s.Idx))
			if node == nil {
				continue
			}
			from := int(node.From)
			to := min(from+int(node.Size), n)
			for i := from; i < to; i++ {
				if (s.Partial || !wholeBox) && !w.Shape.Contains(p.At(i)) {
					continue
				}
				if !add(i) {
					break leaves
				}
			}
		}
	}

	p.SelectionSize = count
	if limited {
		h.AddResults(count)
	}
}

func (p *Page) runModifiers(h Host) {
	var color [3]float64
	var elevationMax float64
	if d, err := h.Dataset(p.DatasetID); err == nil {
		color = d.Color
		elevationMax = d.Boundary().Length(2)
	}
	ColorPoints(p.Data, h.View(), color, elevationMax)
	for _, m := range h.Modifiers() {
		m.Modify(p)
	}
}

