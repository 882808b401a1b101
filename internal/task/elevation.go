package task

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/page"
	"github.com/ecopia-map/pointdb/internal/query"
)

// ClassGround is the LAS classification of ground points
const ClassGround = 2

// ElevationOptions of the elevation task
type ElevationOptions struct {
	PointsPerCell    int     `yaml:"pointsPerCell"`
	CellLengthMinPct float64 `yaml:"cellLengthMinPct"`
}

func DefaultElevationOptions() ElevationOptions {
	return ElevationOptions{
		PointsPerCell:    query.DefaultPointsPerCell,
		CellLengthMinPct: query.DefaultCellLengthMinPct,
	}
}

// Elevation computes the height of every point above the lowest ground
// point of its grid cell. Cells without ground get elevation 0.
type Elevation struct {
	q      *query.Query
	opts   ElevationOptions
	where  page.Where
	logger *zap.SugaredLogger

	step  int
	steps int
	done  bool
}

// The task reuses q and replaces its predicate. Only the dataset filter of
// the current predicate is kept.
func NewElevation(q *query.Query, opts ElevationOptions, logger *zap.SugaredLogger) *Elevation {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Elevation{q: q, opts: opts, logger: logger}
}

func (e *Elevation) Start() (int, error) {
	e.where = page.Where{Datasets: e.q.Where().DatasetFilter()}
	e.q.SetWhere(&e.where)
	e.q.SetMaximumResults(0)
	e.q.SetGrid(e.opts.PointsPerCell, e.opts.CellLengthMinPct)

	e.step = 0
	e.steps = e.q.GridSize()
	e.done = false
	e.logger.Infow("elevation started", "cells", e.steps)
	return e.steps, nil
}

func (e *Elevation) RunChunk(budget time.Duration) (Progress, error) {
	t := startTimer(budget)
	for !e.done {
		if !e.q.NextGrid() {
			if err := e.q.Flush(); err != nil {
				return e.progress(), err
			}
			e.done = true
			e.logger.Infow("elevation finished", "cells", e.steps)
			break
		}
		if err := e.cell(); err != nil {
			return e.progress(), err
		}
		e.step++
		if t.expired() {
			break
		}
	}
	return e.progress(), nil
}

func (e *Elevation) cell() error {
	q := e.q
	e.where.SetBox(q.GridCell())
	q.SetWhere(&e.where)
	q.Exec()

	ground := math.Inf(1)
	for q.Next() {
		v, err := q.Point()
		if err != nil {
			return err
		}
		if v.Classification() == ClassGround {
			ground = math.Min(ground, v.Z())
		}
	}

	q.Reset()
	for q.Next() {
		v, err := q.Point()
		if err != nil {
			return err
		}
		if math.IsInf(ground, 1) {
			v.SetElevation(0)
		} else {
			v.SetElevation(v.Z() - ground)
		}
		q.SetModified()
	}
	return nil
}

func (e *Elevation) progress() Progress {
	p := Progress{Step: e.step, Steps: e.steps, Done: e.done}
	if e.steps > 0 {
		p.Percent = 100 * float64(e.step) / float64(e.steps)
	}
	if e.done {
		p.Percent = 100
	}
	return p
}
