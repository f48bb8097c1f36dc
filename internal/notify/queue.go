package notify

import (
	"context"
	"log/slog"
	"sync"

	"pulsefeed/internal/model"
)

// Dispatcher is implemented by Notifier; split out so the queue can be
// tested with a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, hit *model.Hit)
}

// Queue decouples notification delivery from rule checks: checks enqueue
// hits and return immediately, a fixed worker pool drains the buffer.
// Each hit is enqueued at most once, so delivery stays at most once per
// hit even though the queue itself makes no deduplication effort.
type Queue struct {
	dispatcher Dispatcher
	log        *slog.Logger
	ch         chan *model.Hit
	workers    int
	wg         sync.WaitGroup
}

// NewQueue creates a Queue with the given buffer size and worker count.
func NewQueue(dispatcher Dispatcher, log *slog.Logger, buffer, workers int) *Queue {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		dispatcher: dispatcher,
		log:        log,
		ch:         make(chan *model.Hit, buffer),
		workers:    workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case hit := <-q.ch:
					q.dispatcher.Dispatch(ctx, hit)
				}
			}
		}()
	}
}

// Enqueue hands a hit to the worker pool without blocking. When the buffer
// is full the hit is left in its pending state; it stays visible in the
// store and the drop is logged, but rule-check throughput is never delayed
// by notification backpressure.
func (q *Queue) Enqueue(hit *model.Hit) {
	select {
	case q.ch <- hit:
	default:
		q.log.Warn("notification queue full, leaving hit pending", "hit_id", hit.ID)
	}
}

// Wait blocks until all workers have exited after ctx cancellation.
func (q *Queue) Wait() {
	q.wg.Wait()
}
