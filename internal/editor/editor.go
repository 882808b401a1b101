// Package editor holds the state of an open project: its datasets, the
// filters and view settings shared by every viewport, and the viewport
// queries. All state is guarded by one mutex which the worker holds while it
// performs a unit of work.
package editor

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/page"
	"github.com/ecopia-map/pointdb/internal/query"
)

var ErrNoViewport = errors.New("no such viewport")

type Editor struct {
	mu sync.Mutex

	registry *dataset.Registry
	logger   *zap.SugaredLogger

	path     string
	name     string
	filters  Filters
	settings Settings
	unsaved  bool

	modifiers   []page.Modifier
	segmentInfo page.SegmentInfo
	viewports   []*query.Query

	// called after changes which give the worker new work
	notify func()
}

func New(logger *zap.SugaredLogger) *Editor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Editor{
		registry: dataset.NewRegistry(logger),
		logger:   logger,
		settings: DefaultSettings(),
		notify:   func() {},
	}
}

// Runs fn while holding the editor lock. Use it to read viewport pages
// without racing the worker.
func (e *Editor) Locked(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *Editor) Registry() *dataset.Registry {
	return e.registry
}

func (e *Editor) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

func (e *Editor) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Reports whether the project changed since it was opened or saved
func (e *Editor) Unsaved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsaved
}

func (e *Editor) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Editor) Filters() Filters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// Replaces the open project with the one stored at path
func (e *Editor) Open(ctx context.Context, path string) error {
	p, err := ReadProject(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.close()
	e.registry = dataset.NewRegistry(e.logger)
	opts := dataset.Options{BuildIndex: true, Settings: p.Settings.Index}
	if oerr := e.registry.OpenEntries(ctx, p.Datasets, opts, p.Settings.OpenLimit); oerr != nil {
		return multierr.Append(err, errors.Wrapf(oerr, "open project %s", path))
	}

	e.path = path
	e.name = p.Name
	e.filters = p.Filters
	e.settings = p.Settings
	e.unsaved = false
	e.viewports = nil
	e.logger.Infow("project opened", "path", path, "datasets", len(p.Datasets))
	return err
}

// Writes the project to path, the path it was opened from when empty
func (e *Editor) Save(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if path == "" {
		path = e.path
	}
	if path == "" {
		return errors.New("project has no path")
	}

	p := &Project{Name: e.name, Filters: e.filters, Settings: e.settings}
	for _, id := range e.registry.Keys() {
		d, err := e.registry.Get(id)
		if err != nil {
			continue
		}
		p.Datasets = append(p.Datasets, d.Entry())
	}
	if p.Name == "" {
		p.Name = filepath.Base(path)
	}
	if err := WriteProject(path, p); err != nil {
		return err
	}

	e.path = path
	e.name = p.Name
	e.unsaved = false
	return nil
}

// Writes modified pages of every viewport
func (e *Editor) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *Editor) flush() error {
	var err error
	for _, q := range e.viewports {
		err = multierr.Append(err, q.Flush())
	}
	return err
}

// Flushes and releases every viewport and dataset
func (e *Editor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.close()
}

func (e *Editor) close() error {
	err := e.flush()
	for _, q := range e.viewports {
		q.Close()
	}
	e.viewports = nil
	return multierr.Append(err, e.registry.Close())
}

// Opens the LAS file at path as a new dataset, building its index when
// missing. With center set it is moved onto the center of the project.
func (e *Editor) AddDataset(path string, center bool) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.registry.Add(path, dataset.Options{
		BuildIndex: true,
		Settings:   e.settings.Index,
		Center:     center,
	})
	if err != nil {
		return 0, err
	}
	e.unsaved = true
	e.datasetsChanged()
	return d.ID, nil
}

func (e *Editor) RemoveDataset(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// cached pages of the dataset must not outlive it
	if err := e.flush(); err != nil {
		return err
	}
	for _, q := range e.viewports {
		q.Clear()
	}
	if err := e.registry.Remove(id); err != nil {
		return err
	}
	e.unsaved = true
	e.datasetsChanged()
	return nil
}

func (e *Editor) SetDatasetTranslation(id uint64, t r3.Vector) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	d.SetTranslation(t)
	e.unsaved = true
	for _, q := range e.viewports {
		q.SetState(page.StateTransform)
	}
	e.datasetsChanged()
	return nil
}

func (e *Editor) SetDatasetVisible(id uint64, visible bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	d.Visible = visible
	e.unsaved = true
	e.datasetsChanged()
	return nil
}

func (e *Editor) datasetsChanged() {
	for _, q := range e.viewports {
		q.Invalidate()
		q.SetClip(e.filters.Clip.Box(), e.filters.Clip.Enabled)
	}
	e.notify()
}

// Union of the dataset boundaries
func (e *Editor) Boundary() geometry.Box {
	return e.registry.Boundary(nil)
}

// Clip box when enabled, otherwise the boundary of all datasets
func (e *Editor) ClipBoundary() geometry.Box {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.filters.Clip.Enabled {
		return e.filters.Clip.Box()
	}
	return e.registry.Boundary(nil)
}

// Predicate of the current filters
func (e *Editor) where() *page.Where {
	f := &e.filters
	return &page.Where{
		Classifications:  mapset.NewThreadUnsafeSet(f.Classifications...),
		Segments:         mapset.NewThreadUnsafeSet(f.Segments...),
		Species:          mapset.NewThreadUnsafeSet(f.Species...),
		ManagementStatus: mapset.NewThreadUnsafeSet(f.ManagementStatus...),
		Elevation:        f.Elevation,
		Descriptor:       f.Descriptor,
		Intensity:        f.Intensity,
	}
}

// Pushes the filters into every viewport and moves their pages back to
// point selection
func (e *Editor) filtersChanged() {
	w := e.where()
	for _, q := range e.viewports {
		q.SetWhere(w)
		q.SetClip(e.filters.Clip.Box(), e.filters.Clip.Enabled)
		q.SetSegmentInfo(e.segmentInfo)
		q.SetState(page.StateSelect)
	}
	e.unsaved = true
	e.notify()
}

func (e *Editor) SetFilters(f Filters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = f
	e.filtersChanged()
}

// Shows only the given classifications, all when empty
func (e *Editor) SetClassificationFilter(classes []uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Classifications = slices.Clone(classes)
	e.filtersChanged()
}

// Shows only the given segments, all when empty
func (e *Editor) SetSegmentFilter(segments []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Segments = slices.Clone(segments)
	e.filtersChanged()
}

func (e *Editor) SetElevationFilter(r geometry.Range) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Elevation = r
	e.filtersChanged()
}

func (e *Editor) SetDescriptorFilter(r geometry.Range) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Descriptor = r
	e.filtersChanged()
}

func (e *Editor) SetIntensityFilter(r geometry.Range) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Intensity = r
	e.filtersChanged()
}

// Restricts viewports to box. The camera working set is recomputed on the
// next ApplyCamera.
func (e *Editor) SetClipFilter(box geometry.Box, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Clip = clipOf(box, enabled)
	e.filtersChanged()
}

// Resolves species and management status filters through segments
func (e *Editor) SetSegmentInfo(info page.SegmentInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.segmentInfo = info
	e.filtersChanged()
}

func (e *Editor) SetView(v page.View) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.View = v
	for _, q := range e.viewports {
		q.SetView(v)
		q.SetState(page.StateRunModifiers)
	}
	e.unsaved = true
	e.notify()
}

// Appends m to the modifiers run after page coloring
func (e *Editor) AddModifier(m page.Modifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modifiers = append(e.modifiers, m)
	e.modifiersChanged()
}

func (e *Editor) RemoveModifier(m page.Modifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modifiers = slices.DeleteFunc(e.modifiers, func(x page.Modifier) bool { return x == m })
	e.modifiersChanged()
}

func (e *Editor) modifiersChanged() {
	for _, q := range e.viewports {
		q.SetModifiers(slices.Clone(e.modifiers))
		q.SetState(page.StateRunModifiers)
	}
	e.notify()
}

// Adds a viewport query configured with the current filters and settings
func (e *Editor) AddViewport() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := len(e.viewports)
	q := query.New(e.registry, query.Options{
		Name:      "viewport" + strconv.Itoa(i),
		CacheSize: e.settings.CacheSize,
		View:      e.settings.View,
		Logger:    e.logger.With("viewport", i),
	})
	q.SetWhere(e.where())
	q.SetClip(e.filters.Clip.Box(), e.filters.Clip.Enabled)
	q.SetSegmentInfo(e.segmentInfo)
	q.SetModifiers(slices.Clone(e.modifiers))
	e.viewports = append(e.viewports, q)
	return i
}

func (e *Editor) Viewports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.viewports)
}

// Query of viewport i. Hold the lock through Locked while using it.
func (e *Editor) Viewport(i int) (*query.Query, error) {
	if i < 0 || i >= len(e.viewports) {
		return nil, errors.Wrapf(ErrNoViewport, "%d", i)
	}
	return e.viewports[i], nil
}

// Chooses the resident pages of viewport i for camera
func (e *Editor) ApplyCamera(i int, camera query.Camera) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, err := e.Viewport(i)
	if err != nil {
		return err
	}
	q.ApplyCamera(camera)
	e.notify()
	return nil
}

// Runs one unit of loading work. Returns true when every viewport is ready.
// The caller holds the lock.
func (e *Editor) loadStep() bool {
	for _, q := range e.viewports {
		if !q.LoadStep() {
			return false
		}
	}
	return true
}
