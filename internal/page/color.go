package page

import (
	"slices"
)

// Attribute mixed into the render color
type ColorSource string

const (
	ColorSourceColor           ColorSource = "color"
	ColorSourceDataset         ColorSource = "dataset"
	ColorSourceIntensity       ColorSource = "intensity"
	ColorSourceReturnNumber    ColorSource = "returnNumber"
	ColorSourceNumberOfReturns ColorSource = "numberOfReturns"
	ColorSourceClassification  ColorSource = "classification"
	ColorSourceElevation       ColorSource = "elevation"
	ColorSourceSegment         ColorSource = "segment"
	ColorSourceDescriptor      ColorSource = "descriptor"
)

// View holds the render settings of a viewport
type View struct {
	PointColor   [3]float32    `yaml:"pointColor"`
	PointSize    float64       `yaml:"pointSize"`
	ColorSources []ColorSource `yaml:"colorSources"`
}

func DefaultView() View {
	return View{
		PointColor:   [3]float32{1, 1, 1},
		PointSize:    1,
		ColorSources: []ColorSource{ColorSourceColor},
	}
}

func (v *View) Enabled(s ColorSource) bool {
	return slices.Contains(v.ColorSources, s)
}

// Blue, cyan, green, yellow, red ramp for t in [0,1]
func ramp(t float64) [3]float32 {
	t = min(max(t, 0), 1)
	stops := [...][3]float32{{0, 0, 1}, {0, 1, 1}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}
	f := t * float64(len(stops)-1)
	i := int(f)
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	u := float32(f - float64(i))
	a, b := stops[i], stops[i+1]
	return [3]float32{a[0] + (b[0]-a[0])*u, a[1] + (b[1]-a[1])*u, a[2] + (b[2]-a[2])*u}
}

// Colors of the ASPRS standard classes 0 to 15
var classificationPalette = [16][3]float32{
	{1, 1, 1},
	{0.7, 0.7, 0.7},
	{0.6, 0.4, 0.2},
	{0.5, 0.8, 0.3},
	{0.2, 0.7, 0.2},
	{0.1, 0.5, 0.1},
	{0.9, 0.2, 0.2},
	{1, 0, 1},
	{0.5, 0.5, 0.5},
	{0.2, 0.4, 1},
	{0.9, 0.6, 0.1},
	{0.4, 0.4, 0.4},
	{0.8, 0.8, 0.2},
	{0.9, 0.9, 0.5},
	{0.6, 0.9, 0.9},
	{0.6, 0.2, 0.6},
}

// Stable color of a segment id
func segmentColor(id uint32) [3]float32 {
	if id == 0 {
		return [3]float32{1, 1, 1}
	}
	h := id * 2654435761
	return [3]float32{
		0.3 + 0.7*float32(h&0xff)/255,
		0.3 + 0.7*float32((h>>8)&0xff)/255,
		0.3 + 0.7*float32((h>>16)&0xff)/255,
	}
}

func mul(dst []float32, i int, c [3]float32) {
	dst[3*i] *= c[0]
	dst[3*i+1] *= c[1]
	dst[3*i+2] *= c[2]
}

// Computes RenderColor of every point from the enabled color sources.
// datasetColor is the color assigned to the owning dataset, elevationMax the
// elevation mapped to the end of the ramp.
func ColorPoints(p *Data, view *View, datasetColor [3]float64, elevationMax float64) {
	n := p.Len()
	for i := 0; i < n; i++ {
		p.RenderColor[3*i] = view.PointColor[0]
		p.RenderColor[3*i+1] = view.PointColor[1]
		p.RenderColor[3*i+2] = view.PointColor[2]
	}

	if view.Enabled(ColorSourceColor) {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, [3]float32{float32(p.Color[3*i]), float32(p.Color[3*i+1]), float32(p.Color[3*i+2])})
		}
	}
	if view.Enabled(ColorSourceDataset) {
		c := [3]float32{float32(datasetColor[0]), float32(datasetColor[1]), float32(datasetColor[2])}
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, c)
		}
	}
	if view.Enabled(ColorSourceIntensity) {
		for i := 0; i < n; i++ {
			v := float32(p.Intensity[i])
			mul(p.RenderColor, i, [3]float32{v, v, v})
		}
	}
	if view.Enabled(ColorSourceReturnNumber) {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, ramp(float64(min(p.ReturnNumber[i], 15))/15))
		}
	}
	if view.Enabled(ColorSourceNumberOfReturns) {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, ramp(float64(min(p.NumberOfReturns[i], 15))/15))
		}
	}
	if view.Enabled(ColorSourceClassification) {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, classificationPalette[min(p.Classification[i], 15)])
		}
	}
	if view.Enabled(ColorSourceElevation) && elevationMax > 0 {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, ramp(p.Elevation[i]/elevationMax))
		}
	}
	if view.Enabled(ColorSourceSegment) {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, segmentColor(p.Segment[i]))
		}
	}
	if view.Enabled(ColorSourceDescriptor) {
		for i := 0; i < n; i++ {
			mul(p.RenderColor, i, ramp(p.Descriptor[i]))
		}
	}
}
