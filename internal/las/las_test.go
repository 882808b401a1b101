package las

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointEncodeDecode(t *testing.T) {
	for _, format := range []uint8{0, 1, 2, 3, 6, 7, 8} {
		in := Point{
			X: -12, Y: 3400, Z: 99,
			Intensity:         1234,
			ReturnNumber:      2,
			NumberOfReturns:   3,
			ScanDirectionFlag: 1,
			Classification:    6,
			UserData:          7,
			SourceID:          42,
			ScanAngle:         -15,
		}
		h, err := NewHeader(format, r3.Vector{X: 1, Y: 1, Z: 1}, r3.Vector{})
		require.NoError(t, err)
		if h.HasGPSTime() {
			in.GPSTime = 1.5
		}
		if h.HasRGB() {
			in.Red, in.Green, in.Blue = 100, 200, 300
		}
		if format == 8 {
			in.NIR = 400
		}

		b := make([]byte, h.PointDataRecordLength)
		EncodePoint(&in, format, b)
		var out Point
		DecodePoint(b, format, &out)
		assert.Equal(t, in, out, "format %d", format)

		SetRecordClassification(b, format, 2)
		DecodePoint(b, format, &out)
		assert.Equal(t, uint8(2), out.Classification)
		assert.Equal(t, in.ReturnNumber, out.ReturnNumber)

		r, g, bl, ok := RecordRGB(b, format)
		assert.Equal(t, h.HasRGB(), ok)
		if ok {
			assert.Equal(t, []uint16{100, 200, 300}, []uint16{r, g, bl})
		}
	}
}

func TestQuantize(t *testing.T) {
	for _, tc := range []struct {
		v, scale, offset float64
		want             int32
	}{
		{0.1, 0.01, 0, 10},
		{97.5, 0.01, 100, -250},
		{1000.003, 0.001, 1000, 3},
		{2147483.647, 0.001, 0, math.MaxInt32},
		{-2147483.648, 0.001, 0, math.MinInt32},
	} {
		got, err := Quantize(tc.v, tc.scale, tc.offset)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%g", tc.v)
	}

	_, err := Quantize(2147483.648, 0.001, 0)
	assert.ErrorIs(t, err, ErrCoordinateRange)
	_, err = Quantize(-5e6, 0.001, 0)
	assert.ErrorIs(t, err, ErrCoordinateRange)
}

func TestWriterRejectsOutOfRangeCoordinates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "far.las")
	w, err := NewWriter(path, 0, r3.Vector{X: 0.001, Y: 0.001, Z: 0.001}, r3.Vector{})
	require.NoError(t, err)
	require.NoError(t, w.Add(r3.Vector{X: 1, Y: 2, Z: 3}, &Point{}))
	err = w.Add(r3.Vector{X: 1e7, Y: 2, Z: 3}, &Point{})
	assert.ErrorIs(t, err, ErrCoordinateRange)
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint64(1), f.PointCount())
}

func TestWriterAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.las")
	scale := r3.Vector{X: 0.01, Y: 0.01, Z: 0.01}
	offset := r3.Vector{X: 500, Y: 600, Z: 10}

	w, err := NewWriter(path, 3, scale, offset)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		p := r3.Vector{X: 500 + float64(i), Y: 600 + float64(i)/2, Z: 10 + float64(i)/4}
		require.NoError(t, w.Add(p, &Point{ReturnNumber: 1, NumberOfReturns: 1, Classification: 1, Red: uint16(i)}))
	}
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, uint64(100), f.PointCount())
	assert.Equal(t, uint8(3), f.Format())
	assert.Equal(t, 34, f.RecordLength())
	assert.Equal(t, uint64(100), f.Header.NumberOfPointsByReturns[0])
	assert.InDelta(t, 599, f.Header.Max.X, 1e-9)
	assert.InDelta(t, 10, f.Header.Min.Z, 1e-9)

	var p Point
	require.NoError(t, f.ReadPoint(40, &p))
	assert.Equal(t, uint16(40), p.Red)
	pos := f.Header.Transform(p.X, p.Y, p.Z)
	assert.InDelta(t, 540, pos.X, 1e-9)
	assert.InDelta(t, 620, pos.Y, 1e-9)
	assert.InDelta(t, 20, pos.Z, 1e-9)

	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(375+100*34), size)

	_, err = f.ReadPoints(99, 2)
	assert.Error(t, err)
}

func TestOpenRejectsNonLAS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.las")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 400)), 0o644))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewHeader(11, r3.Vector{}, r3.Vector{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestAttributes(t *testing.T) {
	lasPath := filepath.Join(t.TempDir(), "cloud.laz.las")
	assert.Equal(t, strings.TrimSuffix(lasPath, ".las"), AttributeBase(lasPath))
	assert.Equal(t, "/a.b/c", AttributeBase("/a.b/c"))

	a, err := OpenAttributes(lasPath, 10)
	require.NoError(t, err)

	vals := &AttributeValues{
		Segment:    []uint32{7, 8, 9},
		Elevation:  []float64{1.5, 2.5, math.Inf(1)},
		Descriptor: []float64{0.25, 0.5, 0.75},
		Voxel:      []uint64{1, 2, 3},
	}
	require.NoError(t, a.WritePage(4, vals))

	var got AttributeValues
	require.NoError(t, a.ReadPage(3, 5, &got))
	assert.Equal(t, []uint32{0, 7, 8, 9, 0}, got.Segment)
	assert.Equal(t, 2.5, got.Elevation[2])
	assert.True(t, math.IsInf(got.Elevation[3], 1))
	assert.Equal(t, []uint64{0, 1, 2, 3, 0}, got.Voxel)
	require.NoError(t, a.Close())

	// reopening with fewer points truncates the side files
	a, err = OpenAttributes(lasPath, 5)
	require.NoError(t, err)
	defer a.Close()
	st, err := os.Stat(AttributeBase(lasPath) + SegmentExt)
	require.NoError(t, err)
	assert.Equal(t, int64(20), st.Size())
	assert.Error(t, a.ReadPage(3, 5, &got))
}

func TestImportPLY(t *testing.T) {
	ply := `ply
format ascii 1.0
comment generated
element vertex 3
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
end_header
1.5 2.5 3.5 255 0 0
10 20 30 0 255 0
-1 -2 -3 0 0 255
`
	out := filepath.Join(t.TempDir(), "mesh.las")
	n, err := ImportPLY(strings.NewReader(ply), out, 0.001, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	f, err := Open(out)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint8(7), f.Format())
	assert.Equal(t, uint64(3), f.PointCount())

	var p Point
	require.NoError(t, f.ReadPoint(1, &p))
	pos := f.Header.Transform(p.X, p.Y, p.Z)
	assert.InDelta(t, 10, pos.X, 1e-9)
	assert.InDelta(t, 30, pos.Z, 1e-9)
	assert.Equal(t, uint16(255*256), p.Green)
	assert.InDelta(t, -1, f.Header.Min.X, 1e-9)

	_, err = ImportPLY(strings.NewReader("not a ply\n"), out, 0.001, nil)
	assert.ErrorIs(t, err, ErrInvalidPLY)
}

func TestExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.las")
	e, err := NewExporter(path, true)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Add(&ExportPoint{
			Position:       r3.Vector{X: float64(i), Y: 1, Z: 2},
			Classification: 2,
			Red:            1000,
		}))
	}
	assert.Equal(t, 20, e.Count())
	require.NoError(t, e.Close())

	lf, err := lidario.NewLasFile(path, "r")
	require.NoError(t, err)
	defer lf.Close()
	assert.Equal(t, 20, lf.Header.NumberPoints)
	assert.Equal(t, 2, int(lf.Header.PointFormatID))
}
