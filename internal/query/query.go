// Package query evaluates predicates over the pages of every open dataset
// and iterates the selected points through a bounded page cache.
package query

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/cache"
	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/page"
)

const DefaultCacheSize = 200

// Key addresses one page of one opened dataset
type Key struct {
	Dataset    uint64
	Generation uint64
	Page       uint64
}

// Options of a query
type Options struct {
	// Name labels the page cache metrics
	Name      string
	CacheSize int
	View      page.View
	Logger    *zap.SugaredLogger
}

// Query iterates the points of the registry's datasets which satisfy its
// Where predicate. Pages are read through a cache owned by the query. A Query
// is not safe for concurrent use.
type Query struct {
	registry *dataset.Registry
	logger   *zap.SugaredLogger

	where       page.Where
	view        page.View
	modifiers   []page.Modifier
	segmentInfo page.SegmentInfo

	clip        geometry.Box
	clipEnabled bool

	pages   *cache.Cache[Key, *page.Page]
	working []Key
	memo    *selectionMemo

	selected  []index.Selection
	pageIndex int
	evaluated int
	page      *page.Page
	cursor    int

	maximumResults int
	nResults       int

	grid   grid
	voxels voxels
}

func New(registry *dataset.Registry, opts Options) *Query {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Name == "" {
		opts.Name = "query"
	}
	if opts.View.ColorSources == nil && opts.View.PointSize == 0 {
		opts.View = page.DefaultView()
	}

	q := &Query{
		registry: registry,
		logger:   opts.Logger,
		view:     opts.View,
		clip:     geometry.EmptyBox(),
		cursor:   -1,
	}
	q.pages = cache.New(opts.Name, opts.CacheSize, q.evicted)
	q.memo = newSelectionMemo(opts.Logger)
	return q
}

// Host implementation used by the pages of this query

func (q *Query) Dataset(id uint64) (*dataset.Dataset, error) {
	return q.registry.Get(id)
}

func (q *Query) Where() *page.Where {
	return &q.where
}

func (q *Query) SegmentInfo() page.SegmentInfo {
	return q.segmentInfo
}

func (q *Query) View() *page.View {
	return &q.view
}

func (q *Query) Modifiers() []page.Modifier {
	return q.modifiers
}

func (q *Query) Remaining() (int, bool) {
	if q.maximumResults == 0 {
		return 0, false
	}
	return q.maximumResults - q.nResults, true
}

func (q *Query) AddResults(n int) {
	if q.maximumResults > 0 {
		q.nResults += n
	}
}

func (q *Query) Logger() *zap.SugaredLogger {
	return q.logger
}

// Settings pushed by the owner

func (q *Query) SetWhere(w *page.Where) {
	q.where = *w.Clone()
}

func (q *Query) SetView(v page.View) {
	q.view = v
}

func (q *Query) SetModifiers(m []page.Modifier) {
	q.modifiers = m
}

func (q *Query) SetSegmentInfo(info page.SegmentInfo) {
	q.segmentInfo = info
}

// Restricts pages to box when enabled
func (q *Query) SetClip(box geometry.Box, enabled bool) {
	q.clip = box
	q.clipEnabled = enabled
}

// Clip box when the clip filter is enabled, otherwise the boundary of the
// searched datasets
func (q *Query) ClipBoundary() geometry.Box {
	if q.clipEnabled && !q.clip.IsEmpty() {
		return q.clip
	}
	return q.registry.Boundary(q.where.DatasetFilter())
}

// Stops selection after n points, zero means no limit
func (q *Query) SetMaximumResults(n int) {
	q.maximumResults = n
}

func (q *Query) MaximumResults() int {
	return q.maximumResults
}

// Points selected since the last Exec, counted only with a maximum set
func (q *Query) NumberOfResults() int {
	return q.nResults
}

func (q *Query) SetCacheSize(n int) {
	q.pages.SetCapacity(n)
}

func (q *Query) CacheSize() int {
	return q.pages.Capacity()
}

// Selects the pages intersecting the query shape, or the clip boundary
// without a shape, and rewinds iteration
func (q *Query) Exec() {
	window := q.where.Window(q.ClipBoundary())
	q.ExecPages(q.memo.selectPages(q.registry, q.where.DatasetFilter(), window))
}

// Iterates the given page selection
func (q *Query) ExecPages(selected []index.Selection) {
	q.selected = selected
	q.evaluated = 0
	q.Reset()
	q.SetState(page.StateSelect)
	q.nResults = 0
}

// Selected pages of the last Exec
func (q *Query) Selected() []index.Selection {
	return q.selected
}

// Rewinds to the first selected page without selecting again
func (q *Query) Reset() {
	q.pageIndex = 0
	q.page = nil
	q.cursor = -1
}

// Advances to the next selected point
func (q *Query) Next() bool {
	if q.page != nil && q.cursor+1 < q.page.SelectionSize {
		q.cursor++
		return true
	}
	return q.NextPage()
}

// Advances to the first selected point of the next page which has any
func (q *Query) NextPage() bool {
	q.page = nil
	q.cursor = -1

	for q.pageIndex < len(q.selected) {
		// Pages past the limit would select nothing
		if q.pageIndex >= q.evaluated && q.maximumResults > 0 && q.nResults >= q.maximumResults {
			return false
		}
		s := q.selected[q.pageIndex]
		q.pageIndex++
		q.evaluated = max(q.evaluated, q.pageIndex)

		p := q.Read(s.ID, uint64(s.Idx))
		p.Run(q, page.StateRunModifiers)
		if p.SelectionSize > 0 {
			q.page = p
			q.cursor = 0
			return true
		}
	}
	return false
}

// Current page, nil before the first Next or after the last
func (q *Query) Page() *page.Page {
	return q.page
}

// Returns the page from the cache, reading it when missing. The page is
// moved to the front of the cache.
func (q *Query) Read(datasetID, pageID uint64) *page.Page {
	key := q.key(datasetID, pageID)
	if p, ok := q.pages.Get(key); ok {
		return p
	}
	p := page.New(datasetID, pageID)
	q.pages.Put(key, p)
	p.Run(q, page.StateTransform)
	return p
}

// Page at its selected stage, for algorithms which address pages directly
func (q *Query) Tile(datasetID, pageID uint64) *page.Page {
	p := q.Read(datasetID, pageID)
	p.Run(q, page.StateRunModifiers)
	return p
}

func (q *Query) key(datasetID, pageID uint64) Key {
	k := Key{Dataset: datasetID, Page: pageID}
	if d, err := q.registry.Get(datasetID); err == nil {
		k.Generation = d.Generation
	}
	return k
}

func (q *Query) evicted(key Key, p *page.Page) {
	if !p.Modified() {
		return
	}
	if err := q.write(key, p); err != nil {
		q.logger.Errorw("write back failed", "dataset", key.Dataset, "page", key.Page, "error", err)
		return
	}
	q.pages.Metrics().WriteBacks.Inc()
}

func (q *Query) write(key Key, p *page.Page) error {
	d, err := q.registry.Get(key.Dataset)
	if err != nil {
		return err
	}
	if d.Generation != key.Generation {
		return errors.Wrapf(dataset.ErrNotFound, "dataset %d was closed", key.Dataset)
	}
	return errors.Wrapf(p.Write(d), "dataset %d page %d", key.Dataset, key.Page)
}

// Marks the current page as changed so Flush or eviction writes it
func (q *Query) SetModified() {
	if q.page != nil {
		q.page.SetModified()
	}
}

// Writes every modified cached page
func (q *Query) Flush() error {
	var err error
	q.pages.Each(func(key Key, p *page.Page) bool {
		if p.Modified() {
			err = multierr.Append(err, q.write(key, p))
		}
		return true
	})
	return err
}

// Drops every cached page and the current selection. Unflushed changes are
// lost.
func (q *Query) Clear() {
	q.pages.Clear()
	q.working = nil
	q.selected = nil
	q.memo.clear()
	q.Reset()
}

// Moves every cached page back to stage s
func (q *Query) SetState(s page.State) {
	q.pages.Each(func(_ Key, p *page.Page) bool {
		p.SetState(s)
		return true
	})
}

// Forgets memoized page selections. Selections are keyed by dataset state,
// so this only releases memory.
func (q *Query) Invalidate() {
	q.memo.clear()
}

func (q *Query) Close() {
	q.memo.close()
}
