// Package datasettest writes small indexed point clouds for tests.
package datasettest

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/las"
)

// Origin of generated clouds, stored as the LAS header offset
var Offset = r3.Vector{X: 1000, Y: 2000, Z: 100}

// Point of a generated cloud relative to Offset
type Point struct {
	Position       r3.Vector
	Classification uint8
	Intensity      uint16
}

// Uniform returns n points spread over [0,size]^3 with classifications
// cycling through 0..5
func Uniform(n int, size float64, seed int64) []Point {
	rnd := rand.New(rand.NewSource(seed))
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{
			Position:       r3.Vector{X: rnd.Float64() * size, Y: rnd.Float64() * size, Z: rnd.Float64() * size},
			Classification: uint8(i % 6),
			Intensity:      uint16(rnd.Intn(65536)),
		}
	}
	return pts
}

// Write stores pts as dir/name.las, point format 3, millimetre resolution
func Write(t testing.TB, dir, name string, pts []Point) string {
	t.Helper()
	path := filepath.Join(dir, name+".las")
	w, err := las.NewWriter(path, 3, r3.Vector{X: 0.001, Y: 0.001, Z: 0.001}, Offset)
	require.NoError(t, err)
	for i, p := range pts {
		require.NoError(t, w.Add(p.Position.Add(Offset), &las.Point{
			ReturnNumber:    1,
			NumberOfReturns: 1,
			Classification:  p.Classification,
			Intensity:       p.Intensity,
			Red:             uint16(i),
			Green:           1000,
			Blue:            65535,
		}))
	}
	require.NoError(t, w.Close())
	return path
}

// Indexed writes pts and builds its index with pages of maxSize points
func Indexed(t testing.TB, dir, name string, pts []Point, maxSize uint64) string {
	t.Helper()
	path := Write(t, dir, name, pts)
	settings := index.DefaultSettings()
	settings.MaxSize1 = maxSize
	require.NoError(t, index.BuildFile(path, settings, nil))
	return path
}
