package page

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

// SegmentInfo resolves the species and management status of a segment
type SegmentInfo interface {
	Species(segment uint32) uint32
	ManagementStatus(segment uint32) uint32
}

// Where is the predicate of a query. A term without restriction accepts
// every point: a nil Shape, a disabled Range, an empty set.
type Where struct {
	// Datasets to search, all when empty
	Datasets mapset.Set[uint64]

	Shape geometry.Shape

	Elevation  geometry.Range
	Descriptor geometry.Range
	Intensity  geometry.Range

	Classifications  mapset.Set[uint8]
	Segments         mapset.Set[uint32]
	Species          mapset.Set[uint32]
	ManagementStatus mapset.Set[uint32]
}

func (w *Where) SetBox(b geometry.Box) {
	w.Shape = b
}

func (w *Where) SetCone(c geometry.Cone) {
	w.Shape = c
}

func (w *Where) SetSphere(s geometry.Sphere) {
	w.Shape = s
}

func (w *Where) SetCylinder(c geometry.Cylinder) {
	w.Shape = c
}

// Dataset filter, nil when every dataset is searched
func (w *Where) DatasetFilter() mapset.Set[uint64] {
	if w.Datasets == nil || w.Datasets.Cardinality() == 0 {
		return nil
	}
	return w.Datasets
}

// Box used to select pages. Without a shape the fallback box is used.
func (w *Where) Window(fallback geometry.Box) geometry.Box {
	if w.Shape == nil {
		return fallback
	}
	return w.Shape.Bounds()
}

func restricted[T comparable](s mapset.Set[T]) bool {
	return s != nil && s.Cardinality() > 0
}

// Reports whether point i of p passes every attribute term. The spatial
// term is tested separately.
func (w *Where) AcceptAttributes(p *Data, i int, info SegmentInfo) bool {
	if !w.Elevation.Contains(p.Elevation[i]) {
		return false
	}
	if !w.Descriptor.Contains(p.Descriptor[i]) {
		return false
	}
	if !w.Intensity.Contains(p.Intensity[i]) {
		return false
	}
	if restricted(w.Classifications) && !w.Classifications.Contains(p.Classification[i]) {
		return false
	}

	segment := p.Segment[i]
	if restricted(w.Segments) && !w.Segments.Contains(segment) {
		return false
	}
	if info != nil {
		if restricted(w.Species) && !w.Species.Contains(info.Species(segment)) {
			return false
		}
		if restricted(w.ManagementStatus) && !w.ManagementStatus.Contains(info.ManagementStatus(segment)) {
			return false
		}
	}
	return true
}

// Reports whether point i of p passes every term
func (w *Where) Accept(p *Data, i int, info SegmentInfo) bool {
	if w.Shape != nil && !w.Shape.Contains(p.At(i)) {
		return false
	}
	return w.AcceptAttributes(p, i, info)
}

// Copy with its own sets so the copy can be changed independently
func (w *Where) Clone() *Where {
	c := *w
	if w.Datasets != nil {
		c.Datasets = w.Datasets.Clone()
	}
	if w.Classifications != nil {
		c.Classifications = w.Classifications.Clone()
	}
	if w.Segments != nil {
		c.Segments = w.Segments.Clone()
	}
	if w.Species != nil {
		c.Species = w.Species.Clone()
	}
	if w.ManagementStatus != nil {
		c.ManagementStatus = w.ManagementStatus.Clone()
	}
	return &c
}
