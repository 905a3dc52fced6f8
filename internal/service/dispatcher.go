package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

var ErrDispatcherFull = errors.New("no free batch worker")

// Job represents a unit of work to be executed.
type Job interface {
	ID() string
	Execute(ctx context.Context) error
}

// Dispatcher runs jobs on a bounded goroutine pool. Submissions never block;
// a full pool is reported as ErrDispatcherFull.
type Dispatcher struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Logger
}

func NewDispatcher(maxWorkers int, log *logrus.Logger) (*Dispatcher, error) {
	d := &Dispatcher{log: log}
	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.WithField("panic", p).Error("batch worker panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	d.pool = pool
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Submit schedules job on the pool.
func (d *Dispatcher) Submit(job Job) error {
	if d.ctx.Err() != nil {
		return fmt.Errorf("dispatcher is stopping: %w", ErrDispatcherFull)
	}

	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		entry := d.log.WithField("job_id", job.ID())
		entry.Info("job started")
		if err := job.Execute(d.ctx); err != nil {
			entry.WithError(err).Error("job finished with error")
			return
		}
		entry.Info("job finished")
	})
	if err != nil {
		d.wg.Done()
		if errors.Is(err, ants.ErrPoolOverload) {
			return ErrDispatcherFull
		}
		return fmt.Errorf("failed to submit job %s: %w", job.ID(), err)
	}
	return nil
}

// Wait blocks until every submitted job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop waits up to timeout for running jobs, then cancels their context and
// waits for them to return before releasing the pool.
func (d *Dispatcher) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		d.log.Warn("batch workers still running after shutdown timeout, cancelling")
		d.cancel()
		<-done
	}
	d.cancel()
	d.pool.Release()
}
