package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
)

var (
	ErrQueueClosed = errors.New("write queue is closed")
	ErrJobPanicked = errors.New("write job panicked")
)

// Job is one unit of storage work. It runs alone: no other job overlaps it.
type Job func() error

type task struct {
	id     string
	job    Job
	result chan error
}

// WriteQueue runs submitted jobs one at a time, in submission order, on a single goroutine.
type WriteQueue struct {
	tasks  chan *task
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	logger *zap.Logger
}

// New starts the queue actor. capacity bounds how many jobs may wait before Submit blocks.
func New(capacity int) *WriteQueue {
	q := &WriteQueue{
		tasks:  make(chan *task, capacity),
		done:   make(chan struct{}),
		logger: common.GetLoggerWith(common.LoggerNameWriteQueue),
	}
	go q.run()
	return q
}

func (q *WriteQueue) run() {
	defer close(q.done)
	for t := range q.tasks {
		metrics.WriteQueueDepth.Set(float64(len(q.tasks)))
		start := time.Now()
		err := q.execute(t)
		metrics.WriteQueueJobDuration.Observe(time.Since(start).Seconds())
		t.result <- err
	}
}

func (q *WriteQueue) execute(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Job panicked", zap.String("job_id", t.id), zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return t.job()
}

// SubmitAsync enqueues job and returns a channel that receives its result exactly once.
// It blocks while the queue is full.
func (q *WriteQueue) SubmitAsync(job Job) <-chan error {
	return q.enqueue(context.Background(), job)
}

// enqueue gives up with ctx.Err() if ctx ends while the queue is full; the job
// is then never run.
func (q *WriteQueue) enqueue(ctx context.Context, job Job) <-chan error {
	result := make(chan error, 1)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		result <- ErrQueueClosed
		return result
	}

	t := &task{id: uuid.NewString(), job: job, result: result}
	select {
	case q.tasks <- t:
	case <-ctx.Done():
		q.logger.Warn("Job not queued, context ended while queue was full", zap.String("job_id", t.id))
		result <- ctx.Err()
		return result
	}
	metrics.WriteQueueDepth.Set(float64(len(q.tasks)))
	q.logger.Debug("Job submitted", zap.String("job_id", t.id))
	return result
}

// Submit enqueues job and waits for its result. If ctx ends while the queue is
// full the job is dropped. If it ends after the job was queued the job still
// runs, but its result is discarded.
func (q *WriteQueue) Submit(ctx context.Context, job Job) error {
	select {
	case err := <-q.enqueue(ctx, job):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, waits for queued ones to finish and stops the actor.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
	q.logger.Info("Write queue drained and stopped")
}
