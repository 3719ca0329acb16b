// Package pool implements the worker pool: a bounded pool of per-table
// workers with a stage barrier. Each task is a self-contained unit that
// opens its own database session; the pool shares nothing across workers
// beyond the log sink.
package pool

import (
	"context"
	"sync"

	"dbaccel/internal/logging"
)

// Task is one unit of table work handed to the pool.
type Task struct {
	Table string
	Run   func(ctx context.Context) error
}

// Pool bounds concurrent table work to jobs workers.
type Pool struct {
	jobs   int
	logger *logging.Logger
}

// New returns a Pool of the given size. jobs below 1 is clamped to 1.
func New(jobs int, logger *logging.Logger) *Pool {
	if jobs < 1 {
		jobs = 1
	}
	return &Pool{jobs: jobs, logger: logger}
}

// Run dispatches tasks with at most jobs in flight. The first task
// failure stops further dispatch, in-flight tasks are drained, and the
// failure is returned. Run only returns once every started task has
// finished, so calling it once per stage is the restore-side stage
// barrier.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	sem := make(chan struct{}, p.jobs)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

dispatch:
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			setErr(err)
			break
		}

		select {
		case <-ctx.Done():
			setErr(ctx.Err())
			break dispatch
		case sem <- struct{}{}:
		}

		// A sibling may have failed while this dispatch was parked on
		// the semaphore; do not start new work after cancellation.
		if err := ctx.Err(); err != nil {
			<-sem
			setErr(err)
			break
		}

		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer func() { <-sem }()

			p.logger.WithField("table", t.Table).Debug("worker started")

			if err := t.Run(ctx); err != nil {
				p.logger.WithFields(map[string]interface{}{
					"table": t.Table,
					"error": err.Error(),
				}).Error("worker failed")
				setErr(err)
				cancel()
				return
			}

			p.logger.WithField("table", t.Table).Debug("worker finished")
		}(task)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}
