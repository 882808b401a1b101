package task

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/dataset/datasettest"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/query"
)

type countTask struct {
	n, i    int
	aborted bool
}

func (c *countTask) Start() (int, error) {
	c.i = 0
	return c.n, nil
}

func (c *countTask) RunChunk(budget time.Duration) (Progress, error) {
	t := startTimer(budget)
	for c.i < c.n {
		c.i++
		if t.expired() {
			break
		}
	}
	return Progress{Step: c.i, Steps: c.n, Percent: 100 * float64(c.i) / float64(c.n), Done: c.i == c.n}, nil
}

func (c *countTask) Abort() error {
	c.aborted = true
	return nil
}

func TestRunSingleSteps(t *testing.T) {
	c := &countTask{n: 5}
	var seen []int
	p, err := Run(context.Background(), c, 0, func(p Progress) { seen = append(seen, p.Step) })
	require.NoError(t, err)
	assert.True(t, p.Done)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	assert.False(t, c.aborted)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countTask{n: 100}
	p, err := Run(ctx, c, 0, func(p Progress) {
		if p.Step == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.True(t, p.Canceled)
	assert.False(t, p.Done)
	assert.Equal(t, 3, c.i)
	assert.True(t, c.aborted)
}

func TestBuildTask(t *testing.T) {
	dir := t.TempDir()
	path := datasettest.Write(t, dir, "plot", datasettest.Uniform(3000, 10, 3))
	settings := index.DefaultSettings()
	settings.MaxSize1 = 500

	var last float64
	p, err := Run(context.Background(), NewBuild(index.NewBuilder(settings, nil), path, path), time.Millisecond,
		func(p Progress) {
			assert.GreaterOrEqual(t, p.Percent, last)
			last = p.Percent
		})
	require.NoError(t, err)
	assert.True(t, p.Done)
	assert.Equal(t, 100.0, p.Percent)
	assert.True(t, index.HasIndex(path))
}

func TestCanceledBuildLeavesInputUntouched(t *testing.T) {
	dir := t.TempDir()
	path := datasettest.Write(t, dir, "plot", datasettest.Uniform(3000, 10, 4))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	p, err := Run(ctx, NewBuild(index.NewBuilder(index.DefaultSettings(), nil), path, path), 0,
		func(Progress) {
			steps++
			if steps == 3 {
				cancel()
			}
		})
	require.NoError(t, err)
	assert.True(t, p.Canceled)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, index.HasIndex(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// Ground points lie in [0,0.5], vegetation in [2,10]
func terrain(n int) []datasettest.Point {
	pts := datasettest.Uniform(n, 10, 8)
	for i := range pts {
		if i%4 == 0 {
			pts[i].Classification = ClassGround
			pts[i].Position.Z = pts[i].Position.Z * 0.05
		} else {
			pts[i].Classification = 1
			pts[i].Position.Z = 2 + pts[i].Position.Z*0.8
		}
	}
	return pts
}

func openQuery(t *testing.T, pts []datasettest.Point) (*dataset.Registry, string) {
	t.Helper()
	path := datasettest.Indexed(t, t.TempDir(), "plot", pts, 400)
	r := dataset.NewRegistry(nil)
	t.Cleanup(func() { r.Close() })
	_, err := r.Add(path, dataset.Options{})
	require.NoError(t, err)
	return r, path
}

func elevations(t *testing.T, r *dataset.Registry) map[r3.Vector][2]float64 {
	q := query.New(r, query.Options{Name: t.Name() + "/check"})
	defer q.Close()
	q.Exec()
	out := make(map[r3.Vector][2]float64)
	for q.Next() {
		v, err := q.Point()
		require.NoError(t, err)
		out[v.Position()] = [2]float64{float64(v.Classification()), v.Elevation()}
	}
	return out
}

func TestElevationSingleCell(t *testing.T) {
	pts := terrain(2000)
	r, _ := openQuery(t, pts)

	q := query.New(r, query.Options{Name: t.Name(), CacheSize: 2})
	defer q.Close()
	e := NewElevation(q, ElevationOptions{PointsPerCell: 1 << 20}, nil)
	p, err := Run(context.Background(), e, DefaultBudget, nil)
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.Equal(t, 1, p.Steps)

	got := elevations(t, r)
	require.Len(t, got, len(pts))

	ground := math.Inf(1)
	for pos, v := range got {
		if v[0] == ClassGround {
			ground = math.Min(ground, pos.Z)
		}
	}
	for pos, v := range got {
		assert.InDelta(t, pos.Z-ground, v[1], 1e-9)
	}
}

func TestElevationPerCell(t *testing.T) {
	pts := terrain(4000)
	r, _ := openQuery(t, pts)

	q := query.New(r, query.Options{Name: t.Name(), CacheSize: 3})
	defer q.Close()
	e := NewElevation(q, ElevationOptions{PointsPerCell: 1000, CellLengthMinPct: 1}, nil)
	p, err := Run(context.Background(), e, 0, nil)
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.Equal(t, 4, p.Steps)

	for pos, v := range elevations(t, r) {
		if v[0] == ClassGround {
			assert.InDelta(t, 0.25, v[1], 0.25+1e-9)
		} else {
			assert.GreaterOrEqual(t, v[1], 2-0.5-1e-9)
			assert.LessOrEqual(t, v[1], pos.Z-datasettest.Offset.Z+1e-9)
		}
	}
}

func TestElevationReportsWriteFailure(t *testing.T) {
	r, _ := openQuery(t, terrain(4000))
	id := r.Keys()[0]

	q := query.New(r, query.Options{Name: t.Name(), CacheSize: 100})
	defer q.Close()
	e := NewElevation(q, ElevationOptions{PointsPerCell: 1000, CellLengthMinPct: 1}, nil)
	p, err := Run(context.Background(), e, 0, func(p Progress) {
		if p.Step == 1 {
			require.NoError(t, r.Remove(id))
		}
	})
	assert.ErrorIs(t, err, dataset.ErrNotFound)
	assert.False(t, p.Done)
}

func TestElevationWithoutGround(t *testing.T) {
	pts := datasettest.Uniform(1000, 10, 9)
	for i := range pts {
		pts[i].Classification = 1
	}
	r, _ := openQuery(t, pts)

	q := query.New(r, query.Options{Name: t.Name()})
	defer q.Close()
	_, err := Run(context.Background(), NewElevation(q, DefaultElevationOptions(), nil), 0, nil)
	require.NoError(t, err)

	for _, v := range elevations(t, r) {
		assert.Zero(t, v[1])
	}
}
