package las

import (
	"fmt"
	"io"
	"math"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

var ErrInvalidPLY = errors.New("invalid PLY file")

func parsePLY(r io.Reader) (ply *goply.Ply, err error) {
	defer func() {
		if v := recover(); v != nil {
			ply, err = nil, errors.Wrapf(ErrInvalidPLY, "%v", v)
		}
	}()
	return goply.New(r), nil
}

// Numeric value of a PLY property, ok is false when missing
func plyValue(e goply.PlyElement, name string) (float64, bool) {
	switch v := e.Property(name).(type) {
	case int8:
		return float64(v), true
	case uint8:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Converts the vertices of an ASCII PLY stream to a LAS file at output.
// Vertex colors select point format 7, otherwise format 6 is written.
// Coordinates are quantized with the given scale around the minimum corner.
func ImportPLY(r io.Reader, output string, scale float64, logger *zap.SugaredLogger) (uint64, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if scale <= 0 {
		scale = 0.001
	}

	ply, err := parsePLY(r)
	if err != nil {
		return 0, err
	}
	vertices := ply.Elements("vertex")
	if len(vertices) == 0 {
		return 0, errors.Wrap(ErrInvalidPLY, "no vertex element")
	}

	withColor := false
	if _, ok := plyValue(vertices[0], "red"); ok {
		withColor = true
	}

	bounds := geometry.EmptyBox()
	positions := make([]r3.Vector, len(vertices))
	for i, v := range vertices {
		x, okx := plyValue(v, "x")
		y, oky := plyValue(v, "y")
		z, okz := plyValue(v, "z")
		if !okx || !oky || !okz {
			return 0, errors.Wrap(ErrInvalidPLY, fmt.Sprintf("vertex %d without coordinates", i))
		}
		positions[i] = r3.Vector{X: x, Y: y, Z: z}
		bounds.Extend(x, y, z)
	}

	offset := r3.Vector{X: math.Floor(bounds.Min.X), Y: math.Floor(bounds.Min.Y), Z: math.Floor(bounds.Min.Z)}
	format := uint8(6)
	if withColor {
		format = 7
	}
	w, err := NewWriter(output, format, r3.Vector{X: scale, Y: scale, Z: scale}, offset)
	if err != nil {
		return 0, err
	}

	pt := Point{ReturnNumber: 1, NumberOfReturns: 1}
	for i, v := range vertices {
		if withColor {
			red, _ := plyValue(v, "red")
			green, _ := plyValue(v, "green")
			blue, _ := plyValue(v, "blue")
			pt.Red, pt.Green, pt.Blue = uint16(red)*256, uint16(green)*256, uint16(blue)*256
		}
		if intensity, ok := plyValue(v, "intensity"); ok {
			pt.Intensity = uint16(intensity)
		}
		if class, ok := plyValue(v, "classification"); ok {
			pt.Classification = uint8(class)
		}
		if err := w.Add(positions[i], &pt); err != nil {
			w.Close()
			return 0, err
		}
	}

	n := w.Count()
	if err := w.Close(); err != nil {
		return 0, err
	}
	logger.Infow("imported PLY", "output", output, "points", n, "color", withColor)
	return n, nil
}
