package io

import (
	"context"
	"sync"
)

type Producer interface {
	Produce(ctx context.Context, work chan *WorkUnit, wg *sync.WaitGroup, files []string)
}

type Consumer interface {
	Consume(ctx context.Context, work chan *WorkUnit, errchan chan error, wg *sync.WaitGroup)
}
