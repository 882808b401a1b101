package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
)

// selectionMemo remembers page selections by window and dataset state.
// Camera driven viewports repeat the same windows frame after frame.
type selectionMemo struct {
	cache  *ristretto.Cache[string, []index.Selection]
	logger *zap.SugaredLogger
}

func newSelectionMemo(logger *zap.SugaredLogger) *selectionMemo {
	c, err := ristretto.NewCache(&ristretto.Config[string, []index.Selection]{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		logger.Warnw("selection memo disabled", "error", err)
		c = nil
	}
	return &selectionMemo{cache: c, logger: logger}
}

// Key from the window and the id, generation, visibility and translation of
// every searched dataset. A dataset opened under a reused id gets a new
// generation, so no selection of its predecessor is returned.
func memoKey(r *dataset.Registry, filter mapset.Set[uint64], window geometry.Box) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%g,%g,%g,%g,%g,%g", window.Min.X, window.Min.Y, window.Min.Z, window.Max.X, window.Max.Y, window.Max.Z)
	for _, id := range r.Keys() {
		if filter != nil && !filter.Contains(id) {
			continue
		}
		d, err := r.Get(id)
		if err != nil {
			continue
		}
		t := d.Translation()
		fmt.Fprintf(&b, "|%d,%d,%t,%g,%g,%g", id, d.Generation, d.Visible, t.X, t.Y, t.Z)
	}
	return b.String()
}

func (m *selectionMemo) selectPages(r *dataset.Registry, filter mapset.Set[uint64], window geometry.Box) []index.Selection {
	if m.cache == nil {
		return r.SelectPages(nil, filter, window)
	}
	key := memoKey(r, filter, window)
	if s, ok := m.cache.Get(key); ok {
		return slices.Clone(s)
	}
	s := r.SelectPages(nil, filter, window)
	m.cache.Set(key, slices.Clone(s), int64(len(s))+1)
	return s
}

func (m *selectionMemo) clear() {
	if m.cache != nil {
		m.cache.Clear()
	}
}

func (m *selectionMemo) close() {
	if m.cache != nil {
		m.cache.Close()
	}
}
