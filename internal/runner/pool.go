package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// Pool fans queued job requests out to a bounded set of executors, capping
// how many jobs run concurrently in this process.
type Pool struct {
	queue  studio.Queue
	runner *Runner
	size   int
}

// NewPool creates a Pool with the given concurrency.
func NewPool(queue studio.Queue, runner *Runner, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{queue: queue, runner: runner, size: size}
}

// Run starts the executors and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (p *Pool) Enqueue(ctx context.Context, req studio.JobRequest) error {
	if err := p.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (p *Pool) consume(ctx context.Context) {
	for {
		req, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.runner.Execute(ctx, req)
	}
}
