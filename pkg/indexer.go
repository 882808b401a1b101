package pkg

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/io"
	"github.com/ecopia-map/pointdb/internal/options"
	"github.com/ecopia-map/pointdb/internal/task"
	"github.com/ecopia-map/pointdb/tools"
)

type IIndexer interface {
	RunIndexer(ctx context.Context, opts *options.Options) (int, error)
}

type Indexer struct {
	fileFinder tools.FileFinder
	logger     *zap.SugaredLogger
}

func NewIndexer(fileFinder tools.FileFinder, logger *zap.SugaredLogger) IIndexer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Indexer{
		fileFinder: fileFinder,
		logger:     logger,
	}
}

// Builds the index of every input LAS file. Returns the number of files
// processed.
func (indexer *Indexer) RunIndexer(ctx context.Context, opts *options.Options) (int, error) {
	indexer.logger.Infow("preparing list of files to process")

	lasFiles, err := indexer.fileFinder.GetLasFilesToProcess(opts)
	if err != nil {
		return 0, err
	}
	for i, filePath := range lasFiles {
		indexer.logger.Debugw("las file", "n", i, "path", filePath)
	}

	indexOpts := opts.IndexOptions
	if indexOpts == nil {
		indexOpts = &options.IndexOptions{Settings: index.DefaultSettings()}
	}
	if indexOpts.Output != "" {
		if err := tools.EnsureDirectory(indexOpts.Output); err != nil {
			return 0, err
		}
	}

	// a consumer goroutine per CPU unless set
	numConsumers := indexOpts.Workers
	if numConsumers <= 0 {
		numConsumers = runtime.NumCPU()
	}
	numConsumers = min(numConsumers, max(len(lasFiles), 1))

	workChannel := make(chan *io.WorkUnit, numConsumers*5)
	// one slot per file so that consumers never block on errors
	errorChannel := make(chan error, len(lasFiles))

	var waitGroup sync.WaitGroup

	waitGroup.Add(1)
	producer := io.NewStandardProducer(indexOpts.Output, indexOpts.Settings, indexOpts.Force, indexer.logger)
	go producer.Produce(ctx, workChannel, &waitGroup, lasFiles)

	for i := 0; i < numConsumers; i++ {
		waitGroup.Add(1)
		consumer := io.NewStandardConsumer(task.DefaultBudget, indexer.logger)
		go consumer.Consume(ctx, workChannel, errorChannel, &waitGroup)
	}

	// wait for producers and consumers to finish
	waitGroup.Wait()
	close(errorChannel)

	for e := range errorChannel {
		err = multierr.Append(err, e)
	}
	if err == nil {
		err = ctx.Err()
	}
	indexer.logger.Infow("indexing finished", "files", len(lasFiles), "errors", len(multierr.Errors(err)))
	return len(lasFiles), err
}
