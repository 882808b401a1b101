package query

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/ecopia-map/pointdb/internal/page"
)

var ErrNoCurrentPoint = errors.New("no current point")

// PointView addresses the current point of a query. Setters change the page
// in memory, Query.SetModified and Query.Flush persist them.
type PointView struct {
	p *page.Page
	i int
}

// Current point. Fails before the first Next and after the last.
func (q *Query) Point() (PointView, error) {
	if q.page == nil || q.cursor < 0 || q.cursor >= q.page.SelectionSize {
		return PointView{}, ErrNoCurrentPoint
	}
	return PointView{p: q.page, i: q.page.Selected(q.cursor)}, nil
}

// Index of the point within its page
func (v PointView) Index() int {
	return v.i
}

func (v PointView) DatasetID() uint64 {
	return v.p.DatasetID
}

func (v PointView) PageID() uint64 {
	return v.p.PageID
}

func (v PointView) X() float64 {
	return v.p.Position[3*v.i]
}

func (v PointView) Y() float64 {
	return v.p.Position[3*v.i+1]
}

func (v PointView) Z() float64 {
	return v.p.Position[3*v.i+2]
}

func (v PointView) Position() r3.Vector {
	return v.p.At(v.i)
}

// Intensity in [0,1]
func (v PointView) Intensity() float64 {
	return v.p.Intensity[v.i]
}

func (v PointView) ReturnNumber() uint8 {
	return v.p.ReturnNumber[v.i]
}

func (v PointView) NumberOfReturns() uint8 {
	return v.p.NumberOfReturns[v.i]
}

func (v PointView) Classification() uint8 {
	return v.p.Classification[v.i]
}

func (v PointView) SetClassification(c uint8) {
	v.p.Classification[v.i] = c
}

func (v PointView) UserData() uint8 {
	return v.p.UserData[v.i]
}

func (v PointView) GPSTime() float64 {
	return v.p.GPSTime[v.i]
}

// Color in [0,1]
func (v PointView) Color() [3]float64 {
	c := v.p.Color[3*v.i : 3*v.i+3]
	return [3]float64{c[0], c[1], c[2]}
}

func (v PointView) Segment() uint32 {
	return v.p.Segment[v.i]
}

func (v PointView) SetSegment(s uint32) {
	v.p.Segment[v.i] = s
}

func (v PointView) Elevation() float64 {
	return v.p.Elevation[v.i]
}

func (v PointView) SetElevation(e float64) {
	v.p.Elevation[v.i] = e
}

func (v PointView) Descriptor() float64 {
	return v.p.Descriptor[v.i]
}

func (v PointView) SetDescriptor(d float64) {
	v.p.Descriptor[v.i] = d
}

func (v PointView) Voxel() uint64 {
	return v.p.Voxel[v.i]
}

func (v PointView) SetVoxel(id uint64) {
	v.p.Voxel[v.i] = id
}
