package task

import (
	"time"

	"github.com/ecopia-map/pointdb/internal/index"
)

const percentSteps = 100

// Build runs an index build as a task. Its steps are percent points.
type Build struct {
	builder *index.Builder
	input   string
	output  string
}

func NewBuild(builder *index.Builder, input, output string) *Build {
	return &Build{builder: builder, input: input, output: output}
}

func (b *Build) Start() (int, error) {
	return percentSteps, b.builder.Start(b.input, b.output)
}

func (b *Build) RunChunk(budget time.Duration) (Progress, error) {
	t := startTimer(budget)
	for !b.builder.End() {
		if err := b.builder.Next(); err != nil {
			return b.progress(), err
		}
		if t.expired() {
			break
		}
	}
	p := b.progress()
	if p.Done {
		return p, b.builder.Close()
	}
	return p, nil
}

func (b *Build) progress() Progress {
	pct := b.builder.Percent()
	return Progress{
		Step:    int(pct),
		Steps:   percentSteps,
		Percent: pct,
		Done:    b.builder.End(),
	}
}

// Removes the temporary output of an unfinished build
func (b *Build) Abort() error {
	return b.builder.Close()
}
