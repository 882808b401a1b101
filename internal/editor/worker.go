package editor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/task"
)

var ErrBusy = errors.New("worker is running a task")

// Result of a task submitted to the worker
type Result struct {
	Progress task.Progress
	Err      error
}

type job struct {
	t          task.Task
	onProgress func(task.Progress)
	result     chan Result
	started    bool
	progress   task.Progress
}

// Worker performs all page loading and task work of an editor on one
// goroutine. Each iteration runs one unit of work under the editor lock: a
// task chunk or one viewport load step.
type Worker struct {
	editor *Editor
	logger *zap.SugaredLogger
	budget time.Duration

	frames   chan struct{}
	wake     chan struct{}
	canceled atomic.Bool

	// guarded by the editor lock
	job *job
}

func NewWorker(e *Editor, budget time.Duration, logger *zap.SugaredLogger) *Worker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if budget <= 0 {
		budget = task.DefaultBudget
	}
	w := &Worker{
		editor: e,
		logger: logger,
		budget: budget,
		frames: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
	}
	e.mu.Lock()
	e.notify = w.Wake
	e.mu.Unlock()
	return w
}

// Receives a value when viewport pages changed since the last receive
func (w *Worker) Frames() <-chan struct{} {
	return w.frames
}

// Tells an idle worker that there is work
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) frame() {
	select {
	case w.frames <- struct{}{}:
	default:
	}
}

// Queues t. The returned channel receives the outcome once t is done, fails
// or is canceled. onProgress runs on the worker with the editor locked.
func (w *Worker) Submit(t task.Task, onProgress func(task.Progress)) (<-chan Result, error) {
	w.editor.mu.Lock()
	defer w.editor.mu.Unlock()

	if w.job != nil {
		return nil, ErrBusy
	}
	w.canceled.Store(false)
	w.job = &job{t: t, onProgress: onProgress, result: make(chan Result, 1)}
	w.Wake()
	return w.job.result, nil
}

// Stops the running task at its next chunk boundary
func (w *Worker) Cancel() {
	w.canceled.Store(true)
	w.Wake()
}

// Loops until ctx is done. A running task is aborted on return.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debugw("worker started")
	defer w.logger.Debugw("worker stopped")
	for {
		if ctx.Err() != nil {
			w.stop()
			return nil
		}
		if w.step() {
			continue
		}
		select {
		case <-ctx.Done():
			w.stop()
			return nil
		case <-w.wake:
		}
	}
}

// Runs one unit of work, returns false when there was none
func (w *Worker) step() bool {
	e := w.editor
	e.mu.Lock()
	defer e.mu.Unlock()

	if w.job != nil {
		w.runJob()
		return true
	}
	if !e.loadStep() {
		w.frame()
		return true
	}
	return false
}

func (w *Worker) runJob() {
	j := w.job
	if w.canceled.Load() {
		j.progress.Canceled = true
		w.finish(Result{Progress: j.progress, Err: task.Abort(j.t)})
		return
	}

	if !j.started {
		steps, err := j.t.Start()
		if err != nil {
			task.Abort(j.t)
			w.finish(Result{Err: err})
			return
		}
		j.started = true
		j.progress.Steps = steps
		return
	}

	p, err := j.t.RunChunk(w.budget)
	j.progress = p
	if err != nil {
		task.Abort(j.t)
		w.finish(Result{Progress: p, Err: err})
		return
	}
	if j.onProgress != nil {
		j.onProgress(p)
	}
	if p.Done {
		w.finish(Result{Progress: p})
	}
}

func (w *Worker) finish(r Result) {
	if r.Err != nil {
		w.logger.Errorw("task failed", "error", r.Err)
	}
	w.job.result <- r
	w.job = nil
	// tasks may have changed pages of the viewports
	w.frame()
}

func (w *Worker) stop() {
	e := w.editor
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.job != nil {
		w.job.progress.Canceled = true
		w.finish(Result{Progress: w.job.progress, Err: task.Abort(w.job.t)})
	}
}
