package page

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/las"
)

const s16 = 1.0 / 65535.0

// Data holds the decoded points of one main index node. All per point slices
// have the same length, coordinates and colors are interleaved xyz and rgb.
type Data struct {
	DatasetID uint64
	PageID    uint64

	Position        []float64
	Intensity       []float64
	ReturnNumber    []uint8
	NumberOfReturns []uint8
	Classification  []uint8
	UserData        []uint8
	GPSTime         []float64
	Color           []float64

	las.AttributeValues

	RenderPosition []float32
	RenderColor    []float32

	// Box of Position
	Box geometry.Box
	// Page local index, translated like Position
	Octree *index.Index

	positionBase []float64
	records      []byte
	format       uint8
	recordLength int
	from         uint64
	loaded       bool
	modified     bool
}

func NewData(datasetID, pageID uint64) *Data {
	return &Data{DatasetID: datasetID, PageID: pageID, Box: geometry.EmptyBox()}
}

func (p *Data) Len() int {
	return len(p.Classification)
}

func (p *Data) Loaded() bool {
	return p.loaded
}

func (p *Data) Modified() bool {
	return p.modified
}

func (p *Data) SetModified() {
	p.modified = true
}

func (p *Data) resize(n int) {
	p.Position = make([]float64, 3*n)
	p.positionBase = make([]float64, 3*n)
	p.Intensity = make([]float64, n)
	p.ReturnNumber = make([]uint8, n)
	p.NumberOfReturns = make([]uint8, n)
	p.Classification = make([]uint8, n)
	p.UserData = make([]uint8, n)
	p.GPSTime = make([]float64, n)
	p.Color = make([]float64, 3*n)
	p.AttributeValues.Resize(n)
	p.RenderPosition = make([]float32, 3*n)
	p.RenderColor = make([]float32, 3*n)
}

// Reads the records and attributes of the page from d and places them in
// world space
func (p *Data) Read(d *dataset.Dataset) error {
	node := d.Index().At(int(p.PageID))
	if node == nil {
		return errors.Errorf("page %d not in dataset %d", p.PageID, d.ID)
	}

	records, err := d.ReadRecords(node.From, int(node.Size))
	if err != nil {
		return err
	}

	n := int(node.Size)
	h := d.Header()
	p.resize(n)
	p.records = records
	p.format = h.PointDataRecordFormat
	p.recordLength = int(h.PointDataRecordLength)
	p.from = node.From

	rgb := h.HasRGB()
	var pt las.Point
	for i := 0; i < n; i++ {
		las.DecodePoint(records[i*p.recordLength:], p.format, &pt)

		s := h.Scaled(pt.X, pt.Y, pt.Z)
		p.positionBase[3*i] = s.X
		p.positionBase[3*i+1] = s.Y
		p.positionBase[3*i+2] = s.Z

		p.Intensity[i] = float64(pt.Intensity) * s16
		if rgb {
			p.Color[3*i] = float64(pt.Red) * s16
			p.Color[3*i+1] = float64(pt.Green) * s16
			p.Color[3*i+2] = float64(pt.Blue) * s16
		} else {
			p.Color[3*i], p.Color[3*i+1], p.Color[3*i+2] = 1, 1, 1
		}

		p.ReturnNumber[i] = pt.ReturnNumber
		p.NumberOfReturns[i] = pt.NumberOfReturns
		p.Classification[i] = pt.Classification
		p.UserData[i] = pt.UserData
		p.GPSTime[i] = pt.GPSTime
	}

	if err := d.ReadAttributes(node.From, n, &p.AttributeValues); err != nil {
		return err
	}

	if n > 0 {
		if p.Octree, err = d.ReadPageIndex(node.Offset); err != nil {
			return err
		}
	} else {
		p.Octree = index.New()
	}

	p.loaded = true
	p.modified = false
	p.Transform(d.Translation())
	return nil
}

// Writes classification into the primary records and every extension
// attribute back to d
func (p *Data) Write(d *dataset.Dataset) error {
	if !p.loaded {
		return nil
	}
	for i := range p.Classification {
		las.SetRecordClassification(p.records[i*p.recordLength:], p.format, p.Classification[i])
	}
	if err := d.WriteRecords(p.from, p.records); err != nil {
		return err
	}
	if err := d.WriteAttributes(p.from, &p.AttributeValues); err != nil {
		return err
	}
	p.modified = false
	return nil
}

// Recomputes Position, RenderPosition, Box and the octree boundary from the
// file coordinates and translation
func (p *Data) Transform(translation r3.Vector) {
	n := len(p.positionBase) / 3
	p.Box = geometry.EmptyBox()
	for i := 0; i < n; i++ {
		x := p.positionBase[3*i] + translation.X
		y := p.positionBase[3*i+1] + translation.Y
		z := p.positionBase[3*i+2] + translation.Z

		p.Position[3*i] = x
		p.Position[3*i+1] = y
		p.Position[3*i+2] = z

		p.RenderPosition[3*i] = float32(x)
		p.RenderPosition[3*i+1] = float32(y)
		p.RenderPosition[3*i+2] = float32(z)

		p.Box.Extend(x, y, z)
	}
	if p.Octree != nil {
		p.Octree.Translate(translation)
	}
}

// World position of point i
func (p *Data) At(i int) r3.Vector {
	return r3.Vector{X: p.Position[3*i], Y: p.Position[3*i+1], Z: p.Position[3*i+2]}
}
