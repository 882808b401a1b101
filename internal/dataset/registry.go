package dataset

import (
	"context"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
)

// Persisted description of a dataset inside a project file
type Entry struct {
	ID          uint64      `yaml:"id"`
	Label       string      `yaml:"label,omitempty"`
	Path        string      `yaml:"path"`
	DateCreated string      `yaml:"dateCreated,omitempty"`
	Color       [3]float64  `yaml:"color"`
	Translation *[3]float64 `yaml:"translation,omitempty"`
	Visible     bool        `yaml:"visible"`
}

func (d *Dataset) Entry() Entry {
	t := [3]float64{d.translation.X, d.translation.Y, d.translation.Z}
	return Entry{
		ID:          d.ID,
		Label:       d.Label,
		Path:        d.Path,
		DateCreated: d.DateCreated,
		Color:       d.Color,
		Translation: &t,
		Visible:     d.Visible,
	}
}

// Registry owns the datasets of a project. Callers keep identifiers and look
// datasets up when they need them.
type Registry struct {
	mu       sync.RWMutex
	datasets map[uint64]*Dataset
	logger   *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{datasets: make(map[uint64]*Dataset), logger: logger}
}

// Lowest identifier not used by any dataset
func (r *Registry) UnusedID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unusedID()
}

func (r *Registry) unusedID() uint64 {
	var id uint64
	for {
		if _, ok := r.datasets[id]; !ok {
			return id
		}
		id++
	}
}

// Opens path under the lowest free identifier. The project boundary used for
// centering is the boundary of the datasets already registered.
func (r *Registry) Add(path string, opts Options) (*Dataset, error) {
	if opts.Center && opts.ProjectBoundary.IsEmpty() {
		opts.ProjectBoundary = r.Boundary(nil)
	}

	r.mu.Lock()
	id := r.unusedID()
	// reserve the id while the file is opened
	r.datasets[id] = nil
	r.mu.Unlock()

	d, err := Open(id, path, opts, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.datasets, id)
		return nil, err
	}
	r.datasets[id] = d
	return d, nil
}

// Opens every entry in parallel with at most limit files at a time. Entries
// keep their identifiers and stored translation.
func (r *Registry) OpenEntries(ctx context.Context, entries []Entry, opts Options, limit int) error {
	opened := make([]*Dataset, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e := entries[i]
			d, err := Open(e.ID, e.Path, opts, r.logger)
			if err != nil {
				return errors.Wrapf(err, "dataset %d", e.ID)
			}
			if e.Label != "" {
				d.Label = e.Label
			}
			if e.DateCreated != "" {
				d.DateCreated = e.DateCreated
			}
			d.Color = e.Color
			d.Visible = e.Visible
			if e.Translation != nil {
				d.SetTranslation(r3.Vector{X: e.Translation[0], Y: e.Translation[1], Z: e.Translation[2]})
			}
			opened[i] = d
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, d := range opened {
			if d != nil {
				err = multierr.Append(err, d.Close())
			}
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range opened {
		if old, ok := r.datasets[d.ID]; ok && old != nil {
			old.Close()
		}
		r.datasets[d.ID] = d
	}
	return nil
}

func (r *Registry) Get(id uint64) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.datasets[id]
	if !ok || d == nil {
		return nil, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return d, nil
}

func (r *Registry) Remove(id uint64) error {
	r.mu.Lock()
	d, ok := r.datasets[id]
	delete(r.datasets, id)
	r.mu.Unlock()
	if !ok || d == nil {
		return errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return d.Close()
}

// Sorted identifiers of open datasets
func (r *Registry) Keys() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]uint64, 0, len(r.datasets))
	for id, d := range r.datasets {
		if d != nil {
			keys = append(keys, id)
		}
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	return keys
}

func (r *Registry) Len() int {
	return len(r.Keys())
}

func (r *Registry) each(filter mapset.Set[uint64], fn func(d *Dataset)) {
	for _, id := range r.Keys() {
		if filter != nil && !filter.Contains(id) {
			continue
		}
		if d, err := r.Get(id); err == nil {
			fn(d)
		}
	}
}

// Union of the boundaries of the datasets in filter, all when filter is nil
func (r *Registry) Boundary(filter mapset.Set[uint64]) geometry.Box {
	b := geometry.EmptyBox()
	r.each(filter, func(d *Dataset) { b.ExtendBox(d.Boundary()) })
	return b
}

func (r *Registry) PointCount(filter mapset.Set[uint64]) uint64 {
	var n uint64
	r.each(filter, func(d *Dataset) { n += d.PointCount() })
	return n
}

// Appends the pages of visible datasets in filter intersecting window
func (r *Registry) SelectPages(dst []index.Selection, filter mapset.Set[uint64], window geometry.Box) []index.Selection {
	r.each(filter, func(d *Dataset) {
		if d.Visible {
			dst = d.SelectPages(dst, window)
		}
	})
	return dst
}

// Closes every dataset and empties the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for id, d := range r.datasets {
		if d != nil {
			err = multierr.Append(err, d.Close())
		}
		delete(r.datasets, id)
	}
	return err
}
