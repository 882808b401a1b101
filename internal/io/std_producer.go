package io

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/index"
)

type StandardProducer struct {
	outputDir string
	settings  index.Settings
	force     bool
	logger    *zap.SugaredLogger
}

// Files are indexed in place when outputDir is empty
func NewStandardProducer(outputDir string, settings index.Settings, force bool, logger *zap.SugaredLogger) *StandardProducer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StandardProducer{
		outputDir: outputDir,
		settings:  settings,
		force:     force,
		logger:    logger,
	}
}

// Submits a WorkUnit per file which needs an index to the provided
// workchannel. Closes the channel when all work is submitted or ctx is done.
func (p *StandardProducer) Produce(ctx context.Context, work chan *WorkUnit, wg *sync.WaitGroup, files []string) {
	defer wg.Done()
	defer close(work)

	for _, input := range files {
		output := p.outputPath(input)
		if !p.force && output == input && index.HasIndex(input) {
			p.logger.Infow("index is up to date", "input", input)
			continue
		}
		select {
		case work <- &WorkUnit{Input: input, Output: output, Settings: p.settings}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *StandardProducer) outputPath(input string) string {
	if p.outputDir == "" {
		return input
	}
	return filepath.Join(p.outputDir, filepath.Base(input))
}
