package dataset

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/las"
)

var ErrNotFound = errors.New("dataset not found")

var generations atomic.Uint64

// Options applied when a dataset is opened
type Options struct {
	// Build the index when it is missing or does not cover the LAS file
	BuildIndex bool
	Settings   index.Settings
	// Move the dataset so that its boundary center lands on the center of
	// ProjectBoundary, z aligned on the minimum
	Center          bool
	ProjectBoundary geometry.Box
}

// Dataset is one indexed LAS file of a project.
//
// The index and page coordinates are kept in scaled file space, raw record
// values times scale. Translation maps them to world space and starts as the
// offset stored in the LAS header.
type Dataset struct {
	ID          uint64
	Label       string
	Path        string
	DateCreated string
	Color       [3]float64
	Visible     bool
	// Unique per Open, tells apart datasets which reused an ID
	Generation uint64

	header          las.Header
	translation     r3.Vector
	translationFile r3.Vector
	boundaryFile    geometry.Box
	boundary        geometry.Box
	index           *index.Index
	pointCount      uint64

	mu     sync.Mutex
	file   *las.File
	attrs  *las.Attributes
	logger *zap.SugaredLogger
}

// Opens the LAS file at path and reads its main index
func Open(id uint64, path string, opts Options, logger *zap.SugaredLogger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	f, err := las.Open(path)
	if err != nil {
		return nil, err
	}
	header := f.Header
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "close LAS")
	}

	if !index.HasIndex(path) {
		if !opts.BuildIndex {
			return nil, errors.Errorf("%s has no index", path)
		}
		logger.Infow("building missing index", "path", path)
		if err := index.BuildFile(path, opts.Settings, logger); err != nil {
			return nil, err
		}
		// reordering rewrote the file, reload the header
		if f, err = las.Open(path); err != nil {
			return nil, err
		}
		header = f.Header
		f.Close()
	}

	idx := index.New()
	if err := idx.ReadFile(index.IndexPath(path)); err != nil {
		return nil, err
	}

	d := &Dataset{
		ID:              id,
		Label:           filepath.Base(path),
		Path:            path,
		DateCreated:     header.DateCreated(),
		Color:           [3]float64{1, 1, 1},
		Visible:         true,
		Generation:      generations.Add(1),
		header:          header,
		translationFile: header.Offset,
		translation:     header.Offset,
		boundaryFile:    idx.BoundaryPoints(),
		index:           idx,
		pointCount:      header.PointCount(),
		logger:          logger,
	}

	if opts.Center && !opts.ProjectBoundary.IsEmpty() && !d.boundaryFile.IsEmpty() {
		c1 := opts.ProjectBoundary.Center()
		c2 := d.boundaryFile.Center()
		c1.Z = opts.ProjectBoundary.Min.Z
		c2.Z = d.boundaryFile.Min.Z
		d.translation = c1.Sub(c2)
	}
	d.updateBoundary()

	logger.Debugw("dataset opened", "id", id, "path", path, "points", d.pointCount, "nodes", idx.Len())
	return d, nil
}

func (d *Dataset) updateBoundary() {
	d.boundary = d.boundaryFile.Translate(d.translation)
	d.index.Translate(d.translation)
}

func (d *Dataset) Translation() r3.Vector {
	return d.translation
}

// Translation stored in the LAS header
func (d *Dataset) TranslationFile() r3.Vector {
	return d.translationFile
}

// Moves the dataset. Pages read before must be transformed again.
func (d *Dataset) SetTranslation(v r3.Vector) {
	d.translation = v
	d.updateBoundary()
}

// Tight box of the points in world space
func (d *Dataset) Boundary() geometry.Box {
	return d.boundary
}

func (d *Dataset) Index() *index.Index {
	return d.index
}

func (d *Dataset) Header() *las.Header {
	return &d.header
}

func (d *Dataset) PointCount() uint64 {
	return d.pointCount
}

// Appends the main index nodes intersecting window
func (d *Dataset) SelectPages(dst []index.Selection, window geometry.Box) []index.Selection {
	return d.index.SelectNodes(dst, window, d.ID)
}

func (d *Dataset) open() error {
	if d.file != nil {
		return nil
	}
	f, err := las.OpenReadWrite(d.Path)
	if err != nil {
		return err
	}
	attrs, err := las.OpenAttributes(d.Path, d.pointCount)
	if err != nil {
		return multierr.Append(err, f.Close())
	}
	d.file = f
	d.attrs = attrs
	return nil
}

// Reads n raw records starting at from
func (d *Dataset) ReadRecords(from uint64, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.open(); err != nil {
		return nil, err
	}
	return d.file.ReadPoints(from, n)
}

func (d *Dataset) WriteRecords(from uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.open(); err != nil {
		return err
	}
	return d.file.WritePoints(from, buf)
}

func (d *Dataset) ReadAttributes(from uint64, n int, dst *las.AttributeValues) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.open(); err != nil {
		return err
	}
	return d.attrs.ReadPage(from, n, dst)
}

func (d *Dataset) WriteAttributes(from uint64, vals *las.AttributeValues) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.open(); err != nil {
		return err
	}
	return d.attrs.WritePage(from, vals)
}

// Reads the page local index stored at offset of the index file, translated
// like the main index
func (d *Dataset) ReadPageIndex(offset uint64) (*index.Index, error) {
	idx := index.New()
	if err := idx.ReadFileAt(index.IndexPath(d.Path), int64(offset)); err != nil {
		return nil, err
	}
	idx.Translate(d.translation)
	return idx, nil
}

// Releases open file handles. The dataset stays usable and reopens them on
// demand.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.file != nil {
		err = multierr.Append(err, d.file.Close())
	}
	if d.attrs != nil {
		err = multierr.Append(err, d.attrs.Close())
	}
	d.file, d.attrs = nil, nil
	return err
}
