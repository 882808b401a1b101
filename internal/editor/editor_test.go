package editor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/pointdb/internal/dataset/datasettest"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/page"
	"github.com/ecopia-map/pointdb/internal/query"
	"github.com/ecopia-map/pointdb/internal/task"
)

func newEditor(t *testing.T, n int) (*Editor, uint64, string) {
	t.Helper()
	dir := t.TempDir()
	path := datasettest.Indexed(t, dir, "plot", datasettest.Uniform(n, 10, 5), 500)
	e := New(nil)
	t.Cleanup(func() { e.Close() })
	id, err := e.AddDataset(path, false)
	require.NoError(t, err)
	return e, id, dir
}

// Drives loading on the calling goroutine until every viewport is ready
func load(t *testing.T, e *Editor) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		done := false
		e.Locked(func() { done = e.loadStep() })
		if done {
			return
		}
	}
	t.Fatal("viewports never became ready")
}

func selected(t *testing.T, e *Editor, vp int) int {
	n := 0
	e.Locked(func() {
		q, err := e.Viewport(vp)
		require.NoError(t, err)
		for _, p := range q.ReadyPages() {
			n += p.SelectionSize
		}
	})
	return n
}

func TestProjectRoundTrip(t *testing.T) {
	e, id, dir := newEditor(t, 1000)
	e.SetClassificationFilter([]uint8{2, 3})
	e.SetElevationFilter(geometry.NewRange(0, 5))
	e.SetClipFilter(geometry.NewBox(1000, 2000, 100, 1005, 2005, 110), true)
	translation := r3.Vector{X: 1, Y: 2, Z: 3}
	require.NoError(t, e.SetDatasetTranslation(id, translation))
	assert.True(t, e.Unsaved())

	project := filepath.Join(dir, "project.yaml")
	require.NoError(t, e.Save(project))
	assert.False(t, e.Unsaved())

	raw, err := os.ReadFile(project)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "path: plot.las")

	e2 := New(nil)
	defer e2.Close()
	require.NoError(t, e2.Open(context.Background(), project))
	assert.Equal(t, e.Filters(), e2.Filters())
	assert.Equal(t, "project.yaml", e2.Name())
	assert.False(t, e2.Unsaved())

	d, err := e2.Registry().Get(id)
	require.NoError(t, err)
	assert.Equal(t, translation, d.Translation())
	assert.Equal(t, filepath.Join(dir, "plot.las"), d.Path)
}

func TestOpenMissingProject(t *testing.T) {
	e := New(nil)
	err := e.Open(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFiltersReachViewports(t *testing.T) {
	e, _, _ := newEditor(t, 3000)
	vp := e.AddViewport()
	require.NoError(t, e.ApplyCamera(vp, query.Camera{Eye: e.Boundary().Center()}))
	load(t, e)
	assert.Equal(t, 3000, selected(t, e, vp))

	// classifications cycle through 0..5
	e.SetClassificationFilter([]uint8{2})
	load(t, e)
	assert.Equal(t, 500, selected(t, e, vp))

	e.SetClassificationFilter(nil)
	load(t, e)
	assert.Equal(t, 3000, selected(t, e, vp))
}

func TestTranslationMovesPages(t *testing.T) {
	e, id, _ := newEditor(t, 2000)
	vp := e.AddViewport()
	require.NoError(t, e.ApplyCamera(vp, query.Camera{Eye: e.Boundary().Center()}))
	load(t, e)

	first := func() r3.Vector {
		var v r3.Vector
		e.Locked(func() {
			q, _ := e.Viewport(vp)
			pages := q.ReadyPages()
			require.NotEmpty(t, pages)
			v = pages[0].At(0)
		})
		return v
	}
	before := first()

	d, err := e.Registry().Get(id)
	require.NoError(t, err)
	require.NoError(t, e.SetDatasetTranslation(id, d.Translation().Add(r3.Vector{X: 10})))
	load(t, e)

	after := first()
	assert.InDelta(t, 10, after.X-before.X, 1e-9)
	assert.Equal(t, before.Y, after.Y)
}

type redModifier struct{ calls int }

func (m *redModifier) Modify(p *page.Page) {
	m.calls++
	for i := 0; i < p.Len(); i++ {
		p.RenderColor[3*i+1] = 0
		p.RenderColor[3*i+2] = 0
	}
}

func TestModifierChain(t *testing.T) {
	e, _, _ := newEditor(t, 1000)
	vp := e.AddViewport()
	require.NoError(t, e.ApplyCamera(vp, query.Camera{}))
	load(t, e)

	m := &redModifier{}
	e.AddModifier(m)
	load(t, e)
	assert.Positive(t, m.calls)

	e.Locked(func() {
		q, _ := e.Viewport(vp)
		for _, p := range q.ReadyPages() {
			for i := 0; i < p.Len(); i++ {
				assert.Zero(t, p.RenderColor[3*i+1])
			}
		}
	})

	calls := m.calls
	e.RemoveModifier(m)
	load(t, e)
	assert.Equal(t, calls, m.calls)
}

func TestViewportOutOfRange(t *testing.T) {
	e := New(nil)
	err := e.ApplyCamera(3, query.Camera{})
	assert.ErrorIs(t, err, ErrNoViewport)
}

func startWorker(t *testing.T, e *Editor) *Worker {
	w := NewWorker(e, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		assert.NoError(t, w.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return w
}

func TestWorkerLoadsViewports(t *testing.T) {
	e, _, _ := newEditor(t, 3000)
	w := startWorker(t, e)

	vp := e.AddViewport()
	require.NoError(t, e.ApplyCamera(vp, query.Camera{Eye: e.Boundary().Center()}))

	select {
	case <-w.Frames():
	case <-time.After(5 * time.Second):
		t.Fatal("no frame")
	}

	require.Eventually(t, func() bool {
		ready := false
		e.Locked(func() {
			q, _ := e.Viewport(vp)
			ready = len(q.Working()) > 0 && len(q.ReadyPages()) == len(q.Working())
		})
		return ready
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3000, selected(t, e, vp))
}

func TestWorkerRunsTask(t *testing.T) {
	e, _, _ := newEditor(t, 2000)
	w := startWorker(t, e)

	q := query.New(e.Registry(), query.Options{Name: t.Name()})
	defer q.Close()

	var calls int
	res, err := w.Submit(task.NewElevation(q, task.DefaultElevationOptions(), nil), func(task.Progress) { calls++ })
	require.NoError(t, err)

	select {
	case r := <-res:
		require.NoError(t, r.Err)
		assert.True(t, r.Progress.Done)
		assert.False(t, r.Progress.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("task did not finish")
	}
	assert.Positive(t, calls)
}

type endless struct{ aborted bool }

func (s *endless) Start() (int, error) { return 0, nil }

func (s *endless) RunChunk(time.Duration) (task.Progress, error) {
	time.Sleep(time.Millisecond)
	return task.Progress{}, nil
}

func (s *endless) Abort() error {
	s.aborted = true
	return nil
}

func TestWorkerCancel(t *testing.T) {
	e := New(nil)
	w := startWorker(t, e)

	s := &endless{}
	res, err := w.Submit(s, nil)
	require.NoError(t, err)

	_, err = w.Submit(&endless{}, nil)
	assert.ErrorIs(t, err, ErrBusy)

	w.Cancel()
	select {
	case r := <-res:
		require.NoError(t, r.Err)
		assert.True(t, r.Progress.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not canceled")
	}
	e.Locked(func() { assert.True(t, s.aborted) })
}
