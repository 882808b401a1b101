package dataset

import (
	"context"
	"os"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/pointdb/internal/dataset/datasettest"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/las"
)

func TestOpenBuildsMissingIndex(t *testing.T) {
	dir := t.TempDir()
	path := datasettest.Write(t, dir, "plot", datasettest.Uniform(2000, 10, 1))

	_, err := Open(0, path, Options{}, nil)
	assert.Error(t, err)

	d, err := Open(3, path, Options{BuildIndex: true, Settings: index.Settings{MaxSize1: 200}}, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, uint64(3), d.ID)
	assert.Equal(t, "plot.las", d.Label)
	assert.Equal(t, uint64(2000), d.PointCount())
	assert.Equal(t, datasettest.Offset, d.Translation())
	assert.Equal(t, datasettest.Offset, d.TranslationFile())

	b := d.Boundary()
	assert.InDelta(t, 1000, b.Min.X, 0.1)
	assert.InDelta(t, 1010, b.Max.X, 0.1)
	assert.InDelta(t, 100, b.Min.Z, 0.1)
	assert.True(t, d.Index().Boundary().ContainsBox(b))

	_, err = os.Stat(index.IndexPath(path))
	require.NoError(t, err)

	pages := d.SelectPages(nil, b)
	assert.Equal(t, d.Index().Len(), len(pages))
	assert.Empty(t, d.SelectPages(nil, geometry.NewBox(0, 0, 0, 1, 1, 1)))

	d.SetTranslation(r3.Vector{})
	assert.InDelta(t, 0, d.Boundary().Min.X, 0.1)
	assert.InDelta(t, 0, d.Index().Boundary().Min.X, 0.1)
}

func TestRecordAndAttributeIO(t *testing.T) {
	dir := t.TempDir()
	path := datasettest.Indexed(t, dir, "plot", datasettest.Uniform(500, 5, 2), 100)
	d, err := Open(0, path, Options{}, nil)
	require.NoError(t, err)
	defer d.Close()

	root := d.Index().Root()
	buf, err := d.ReadRecords(root.From, int(root.Size))
	require.NoError(t, err)
	assert.Len(t, buf, int(root.Size)*int(d.Header().PointDataRecordLength))

	las.SetRecordClassification(buf[:int(d.Header().PointDataRecordLength)], d.Header().PointDataRecordFormat, 17)
	require.NoError(t, d.WriteRecords(root.From, buf))

	vals := &las.AttributeValues{
		Segment:    []uint32{5, 6},
		Elevation:  []float64{1, 2},
		Descriptor: []float64{0.5, 0.25},
		Voxel:      []uint64{9, 10},
	}
	require.NoError(t, d.WriteAttributes(10, vals))
	require.NoError(t, d.Close())

	var got las.AttributeValues
	require.NoError(t, d.ReadAttributes(10, 2, &got))
	assert.Equal(t, vals.Segment, got.Segment)
	assert.Equal(t, vals.Voxel, got.Voxel)

	again, err := d.ReadRecords(root.From, 1)
	require.NoError(t, err)
	var p las.Point
	las.DecodePoint(again, d.Header().PointDataRecordFormat, &p)
	assert.Equal(t, uint8(17), p.Classification)

	page, err := d.ReadPageIndex(root.Offset)
	require.NoError(t, err)
	assert.Equal(t, root.Size, page.Root().Size)
	assert.True(t, d.Index().Boundary().ContainsBox(page.Boundary()))
}

func TestRegistryReusesLowestID(t *testing.T) {
	dir := t.TempDir()
	pts := datasettest.Uniform(300, 4, 3)
	a := datasettest.Indexed(t, dir, "a", pts, 100)
	b := datasettest.Indexed(t, dir, "b", pts, 100)
	c := datasettest.Indexed(t, dir, "c", pts, 100)

	r := NewRegistry(nil)
	defer r.Close()

	for i, p := range []string{a, b, c} {
		d, err := r.Add(p, Options{})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), d.ID)
	}
	assert.Equal(t, []uint64{0, 1, 2}, r.Keys())

	require.NoError(t, r.Remove(1))
	assert.ErrorIs(t, r.Remove(1), ErrNotFound)
	_, err := r.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, uint64(1), r.UnusedID())

	d, err := r.Add(b, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.ID)
	assert.Equal(t, uint64(900), r.PointCount(nil))
	assert.Equal(t, uint64(300), r.PointCount(mapset.NewSet[uint64](2)))

	_, err = r.Add(dir+"/missing.las", Options{})
	assert.Error(t, err)
	assert.Equal(t, uint64(3), r.UnusedID())
}

func TestRegistryCentering(t *testing.T) {
	dir := t.TempDir()
	a := datasettest.Indexed(t, dir, "a", datasettest.Uniform(200, 10, 4), 50)

	r := NewRegistry(nil)
	defer r.Close()
	first, err := r.Add(a, Options{})
	require.NoError(t, err)

	shifted := datasettest.Uniform(200, 2, 5)
	for i := range shifted {
		shifted[i].Position = shifted[i].Position.Add(r3.Vector{X: 500, Y: 500, Z: 50})
	}
	b := datasettest.Indexed(t, dir, "b", shifted, 50)
	second, err := r.Add(b, Options{Center: true})
	require.NoError(t, err)

	c1 := first.Boundary().Center()
	c2 := second.Boundary().Center()
	assert.InDelta(t, c1.X, c2.X, 1e-9)
	assert.InDelta(t, c1.Y, c2.Y, 1e-9)
	assert.InDelta(t, first.Boundary().Min.Z, second.Boundary().Min.Z, 1e-9)
}

func TestOpenEntries(t *testing.T) {
	dir := t.TempDir()
	pts := datasettest.Uniform(300, 4, 6)
	a := datasettest.Indexed(t, dir, "a", pts, 100)
	b := datasettest.Indexed(t, dir, "b", pts, 100)

	entries := []Entry{
		{ID: 4, Path: a, Label: "north", Visible: true, Translation: &[3]float64{1, 2, 3}},
		{ID: 7, Path: b, Visible: false},
	}
	r := NewRegistry(nil)
	defer r.Close()
	require.NoError(t, r.OpenEntries(context.Background(), entries, Options{}, 2))
	assert.Equal(t, []uint64{4, 7}, r.Keys())

	d, err := r.Get(4)
	require.NoError(t, err)
	assert.Equal(t, "north", d.Label)
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, d.Translation())
	assert.Equal(t, [3]float64{1, 2, 3}, *d.Entry().Translation)

	hidden, err := r.Get(7)
	require.NoError(t, err)
	assert.Empty(t, r.SelectPages(nil, mapset.NewSet[uint64](7), hidden.Boundary()))
	assert.NotEmpty(t, r.SelectPages(nil, nil, d.Boundary()))

	bad := []Entry{{ID: 9, Path: dir + "/missing.las"}}
	assert.Error(t, r.OpenEntries(context.Background(), bad, Options{}, 1))
	assert.Equal(t, []uint64{4, 7}, r.Keys())
}
