package io

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/task"
)

type StandardConsumer struct {
	budget time.Duration
	logger *zap.SugaredLogger
}

func NewStandardConsumer(budget time.Duration, logger *zap.SugaredLogger) *StandardConsumer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StandardConsumer{budget: budget, logger: logger}
}

// Continually consumes WorkUnits submitted to a work channel building the index of each file.
// Continues working until the work channel is closed. Failed files are submitted to the error channel, which must have room
// for one error per file
func (c *StandardConsumer) Consume(ctx context.Context, workchan chan *WorkUnit, errchan chan error, waitGroup *sync.WaitGroup) {
	defer waitGroup.Done()

	for work := range workchan {
		if err := c.doWork(ctx, work); err != nil {
			c.logger.Errorw("indexing failed", "input", work.Input, "error", err)
			errchan <- err
		}
	}
}

// Builds the index of one file, logging progress every 10 percent
func (c *StandardConsumer) doWork(ctx context.Context, workUnit *WorkUnit) error {
	logger := c.logger.With("input", workUnit.Input)
	builder := index.NewBuilder(workUnit.Settings, c.logger)

	oldProgress := -1
	p, err := task.Run(ctx, task.NewBuild(builder, workUnit.Input, workUnit.Output), c.budget, func(p task.Progress) {
		progress := int(p.Percent) / 10 * 10
		if progress != oldProgress {
			oldProgress = progress
			logger.Debugw("indexing", "progress", progress)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "index %s", workUnit.Input)
	}
	if p.Canceled {
		return errors.Wrapf(ctx.Err(), "index %s", workUnit.Input)
	}
	return nil
}
