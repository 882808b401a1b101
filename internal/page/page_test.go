package page

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/dataset/datasettest"
	"github.com/ecopia-map/pointdb/internal/geometry"
)

type testHost struct {
	datasets  map[uint64]*dataset.Dataset
	where     Where
	view      View
	modifiers []Modifier
	maximum   int
	results   int
}

func (h *testHost) Dataset(id uint64) (*dataset.Dataset, error) {
	d, ok := h.datasets[id]
	if !ok {
		return nil, errors.Wrapf(dataset.ErrNotFound, "dataset %d", id)
	}
	return d, nil
}

func (h *testHost) Where() *Where { return &h.where }
func (h *testHost) SegmentInfo() SegmentInfo { return nil }
func (h *testHost) View() *View { return &h.view }
func (h *testHost) Modifiers() []Modifier { return h.modifiers }
func (h *testHost) AddResults(n int) { h.results += n }
func (h *testHost) Logger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func (h *testHost) Remaining() (int, bool) {
	if h.maximum == 0 {
		return 0, false
	}
	return h.maximum - h.results, true
}

func openDataset(t *testing.T, n int, maxSize uint64) (*testHost, *dataset.Dataset) {
	t.Helper()
	dir := t.TempDir()
	path := datasettest.Indexed(t, dir, "plot", datasettest.Uniform(n, 20, 11), maxSize)
	d, err := dataset.Open(0, path, dataset.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return &testHost{datasets: map[uint64]*dataset.Dataset{0: d}, view: DefaultView()}, d
}

func selected(p *Page) []int {
	out := make([]int, p.SelectionSize)
	for j := range out {
		out[j] = p.Selected(j)
	}
	return out
}

func TestStateTransitions(t *testing.T) {
	var m StateMachine
	assert.Equal(t, StateRead, m.State())
	for i := 0; i < 10; i++ {
		m.Advance()
	}
	assert.Equal(t, StateRender, m.State())
	assert.True(t, m.Ready())

	m.MarkRendered()
	assert.Equal(t, StateRendered, m.State())

	m.Reset(StateSelect)
	assert.Equal(t, StateSelect, m.State())
	m.Reset(StateRunModifiers)
	assert.Equal(t, StateSelect, m.State())
	m.MarkRendered()
	assert.Equal(t, StateSelect, m.State())
	assert.Equal(t, "select", m.State().String())
}

func TestPagePipeline(t *testing.T) {
	h, d := openDataset(t, 2000, 300)
	p := New(0, 0)

	steps := 0
	for !p.Ready() {
		assert.False(t, p.NextState(h))
		steps++
	}
	assert.Equal(t, 4, steps)
	assert.False(t, p.NextState(h))

	p.MarkRendered()
	assert.True(t, p.NextState(h))

	root := d.Index().Root()
	assert.Equal(t, int(root.Size), p.Len())
	assert.Equal(t, p.Len(), p.SelectionSize)
	assert.True(t, d.Boundary().ContainsBox(p.Box))

	p.SetState(StateSelect)
	assert.Equal(t, StateSelect, p.State())
	assert.True(t, p.Loaded())
}

func TestTransformIsIdempotent(t *testing.T) {
	h, d := openDataset(t, 1000, 200)
	p := New(0, 1)
	p.Run(h, StateRender)

	position := append([]float64(nil), p.Position...)
	render := append([]float32(nil), p.RenderPosition...)
	p.Transform(d.Translation())
	assert.Equal(t, position, p.Position)
	assert.Equal(t, render, p.RenderPosition)

	shift := r3.Vector{X: 10, Y: -5, Z: 1}
	p.Transform(d.Translation().Add(shift))
	assert.InDelta(t, position[0]+10, p.Position[0], 1e-9)
	p.Transform(d.Translation())
	assert.Equal(t, position, p.Position)
	assert.Equal(t, render, p.RenderPosition)
}

func TestSelectionIsConjunctionOfTerms(t *testing.T) {
	h, d := openDataset(t, 3000, 400)
	b := d.Boundary()
	c := b.Center()

	cases := map[string]Where{
		"everything": {},
		"box": {Shape: geometry.NewBox(b.Min.X, b.Min.Y, b.Min.Z, c.X, c.Y, b.Max.Z)},
		"sphere": {Shape: geometry.Sphere{Center: c, Radius: 6}},
		"cone": {Shape: geometry.Cone{Apex: r3.Vector{X: c.X, Y: c.Y, Z: b.Max.Z}, Height: 15, Angle: 30}},
		"cylinder": {Shape: geometry.Cylinder{A: r3.Vector{X: c.X, Y: c.Y, Z: b.Min.Z}, B: r3.Vector{X: c.X, Y: c.Y, Z: b.Max.Z}, Radius: 4}},
		"classification": {Classifications: mapset.NewSet[uint8](1, 4)},
		"intensity": {Intensity: geometry.NewRange(0.25, 0.5)},
		"box and classification and intensity": {
			Shape:           geometry.NewBox(c.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, c.Z),
			Classifications: mapset.NewSet[uint8](0, 2, 3),
			Intensity:       geometry.NewRange(0.1, 0.9),
		},
		"disabled range": {Intensity: geometry.Range{Min: 2, Max: 3}},
	}

	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			h.where = w
			total := 0
			for i := 0; i < d.Index().Len(); i++ {
				p := New(0, uint64(i))
				p.Run(h, StateRender)

				var want []int
				for j := 0; j < p.Len(); j++ {
					if w.Accept(p.Data, j, nil) {
						want = append(want, j)
					}
				}
				assert.ElementsMatch(t, want, selected(p), "page %d", i)
				total += p.SelectionSize
			}
			if name == "everything" || name == "disabled range" {
				assert.Equal(t, 3000, total)
			}
		})
	}
}

func TestSelectionHonoursMaximum(t *testing.T) {
	h, _ := openDataset(t, 1000, 500)
	h.maximum = 50
	h.where = Where{Classifications: mapset.NewSet[uint8](0, 1, 2, 3)}

	p := New(0, 0)
	p.Run(h, StateRender)
	assert.Equal(t, 50, p.SelectionSize)
	assert.Equal(t, 50, h.results)
	for _, i := range selected(p) {
		assert.Less(t, p.Classification[i], uint8(4))
	}

	q := New(0, 1)
	q.Run(h, StateRender)
	assert.Zero(t, q.SelectionSize)
}

func TestReadFailureLeavesEmptyPage(t *testing.T) {
	h, _ := openDataset(t, 100, 50)
	p := New(7, 0)
	p.Run(h, StateRender)
	assert.True(t, p.Ready())
	assert.Zero(t, p.Len())
	assert.Zero(t, p.SelectionSize)
	assert.False(t, p.Loaded())

	bad := New(0, 9999)
	bad.Run(h, StateRender)
	assert.Zero(t, bad.Len())
}

func TestWriteAndReadBack(t *testing.T) {
	h, d := openDataset(t, 800, 200)
	p := New(0, 2)
	p.Run(h, StateSelect)
	require.NotZero(t, p.Len())

	for i := range p.Classification {
		p.Classification[i] = 9
		p.Segment[i] = uint32(i + 1)
		p.Elevation[i] = float64(i) * 0.5
	}
	p.SetModified()
	require.NoError(t, p.Write(d))
	assert.False(t, p.Modified())

	again := New(0, 2)
	again.Run(h, StateSelect)
	require.Equal(t, p.Len(), again.Len())
	for i := 0; i < again.Len(); i++ {
		assert.Equal(t, uint8(9), again.Classification[i])
		assert.Equal(t, uint32(i+1), again.Segment[i])
		assert.Equal(t, float64(i)*0.5, again.Elevation[i])
	}
	assert.Equal(t, p.Position, again.Position)
}

type darken struct{ calls int }

func (m *darken) Modify(p *Page) {
	m.calls++
	for i := range p.RenderColor {
		p.RenderColor[i] *= 0.5
	}
}

func TestColorModifiers(t *testing.T) {
	h, _ := openDataset(t, 300, 100)
	m := &darken{}
	h.modifiers = []Modifier{m}
	h.view.ColorSources = []ColorSource{ColorSourceColor}

	p := New(0, 0)
	p.Run(h, StateRender)
	assert.Equal(t, 1, m.calls)
	for i := 0; i < p.Len(); i++ {
		assert.InDelta(t, p.Color[3*i+2]*0.5, p.RenderColor[3*i+2], 1e-6)
		assert.InDelta(t, 1000.0/65535*0.5, p.RenderColor[3*i+1], 1e-6)
	}

	h.modifiers = nil
	h.view.ColorSources = []ColorSource{ColorSourceClassification}
	p.SetState(StateRunModifiers)
	p.Run(h, StateRender)
	for i := 0; i < p.Len(); i++ {
		want := classificationPalette[p.Classification[i]]
		assert.Equal(t, want[0], p.RenderColor[3*i])
	}
}

func TestRamp(t *testing.T) {
	assert.Equal(t, [3]float32{0, 0, 1}, ramp(-1))
	assert.Equal(t, [3]float32{0, 1, 0}, ramp(0.5))
	assert.Equal(t, [3]float32{1, 0, 0}, ramp(2))
	assert.Equal(t, segmentColor(42), segmentColor(42))
	assert.NotEqual(t, segmentColor(1), segmentColor(2))
}
