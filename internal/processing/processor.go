// Package processing runs export jobs on an in-process worker pool when no
// Redis queue is configured. Jobs do not survive a restart.
package processing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dharsanguruparan/HashDrop/internal/queue"
)

// ErrQueueFull is returned by EnqueueExport when every buffered slot is taken.
var ErrQueueFull = errors.New("export queue full")

// RunFunc executes one export job.
type RunFunc func(ctx context.Context, payload queue.ExportPayload) error

// Pool consumes export jobs from a buffered channel.
type Pool struct {
	run     RunFunc
	jobs    chan queue.ExportPayload
	workers int
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New builds a Pool with queue capacity tied to worker count.
func New(run RunFunc, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		run:     run,
		jobs:    make(chan queue.ExportPayload, workers*4),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled; Wait blocks
// until they have.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// EnqueueExport implements queue.Enqueuer. It never blocks: a full buffer
// is reported to the caller instead of silently dropping the job.
func (p *Pool) EnqueueExport(ctx context.Context, payload queue.ExportPayload) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- payload:
		return nil
	default:
		p.logger.Warn("export queue full, rejecting job", "archive", payload.Name)
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if err := p.run(ctx, job); err != nil {
				p.logger.Error("export job failed", "archive", job.Name, "err", err)
			}
		}
	}
}
