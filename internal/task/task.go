// Package task runs long operations in bounded chunks so that a caller can
// report progress and stop them between chunks.
package task

import (
	"context"
	"time"
)

// DefaultBudget is the wall clock time of one chunk
const DefaultBudget = 20 * time.Millisecond

// Progress after a chunk
type Progress struct {
	Step     int
	Steps    int
	Percent  float64
	Done     bool
	Canceled bool
}

// Task is a long running operation split into chunks.
//
// Start prepares the work and returns the number of steps it expects.
// RunChunk works until the task is done or about budget has elapsed. A zero
// budget runs a single step.
type Task interface {
	Start() (steps int, err error)
	RunChunk(budget time.Duration) (Progress, error)
}

// Aborter is implemented by tasks which hold resources or partial output
// that must be released when they are not run to the end
type Aborter interface {
	Abort() error
}

// Runs t chunk by chunk until it is done or ctx is canceled. Cancellation is
// checked between chunks and yields Progress.Canceled with a nil error.
func Run(ctx context.Context, t Task, budget time.Duration, onProgress func(Progress)) (Progress, error) {
	steps, err := t.Start()
	if err != nil {
		Abort(t)
		return Progress{}, err
	}
	last := Progress{Steps: steps}
	for {
		if ctx.Err() != nil {
			last.Canceled = true
			return last, Abort(t)
		}
		p, err := t.RunChunk(budget)
		if err != nil {
			Abort(t)
			return p, err
		}
		last = p
		if onProgress != nil {
			onProgress(p)
		}
		if p.Done {
			return p, nil
		}
	}
}

// Releases the resources of t when it implements Aborter
func Abort(t Task) error {
	if a, ok := t.(Aborter); ok {
		return a.Abort()
	}
	return nil
}

// timer tracks the budget of one chunk
type timer struct {
	deadline time.Time
	single   bool
}

func startTimer(budget time.Duration) timer {
	return timer{deadline: time.Now().Add(budget), single: budget <= 0}
}

// Reports whether the chunk must return after the step just finished
func (t timer) expired() bool {
	return t.single || !time.Now().Before(t.deadline)
}
