package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/collector"
	"main/internal/model/enum"
	"main/internal/obs"
)

var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is the bounded fan-in buffer between collectors and the write
// path, one per entity. A full queue blocks the producer up to the
// bounded wait, then sheds the oldest batch to make room; new data
// always wins over stale data.
type Queue struct {
	entity    enum.Entity
	ch        chan collector.Batch
	blockWait time.Duration
	metrics   *obs.Metrics

	// mu serializes sends against close: publishers hold it shared for
	// the whole send, Close takes it exclusively before closing ch, so a
	// producer that outlives its stop grace can never send on a closed
	// channel.
	mu     sync.RWMutex
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(entity enum.Entity, capacity int, blockWait time.Duration, metrics *obs.Metrics) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if blockWait <= 0 {
		blockWait = 500 * time.Millisecond
	}
	return &Queue{
		entity:    entity,
		ch:        make(chan collector.Batch, capacity),
		blockWait: blockWait,
		metrics:   metrics,
	}
}

// Publish enqueues a batch. When the queue is full it waits up to the
// bounded block period for the consumer to catch up, then starts
// evicting the oldest batches.
func (q *Queue) Publish(ctx context.Context, batch collector.Batch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.metrics.IncQueueClosed()
		return ErrQueueClosed
	}

	select {
	case q.ch <- batch:
		return nil
	default:
	}

	timer := time.NewTimer(q.blockWait)
	defer timer.Stop()
	select {
	case q.ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	for {
		select {
		case dropped := <-q.ch:
			q.metrics.IncQueueDrop()
			logs.Warnf("queue %s: full after %s, dropped oldest batch of %d records",
				q.entity, q.blockWait, dropped.Count)
		default:
		}
		select {
		case q.ch <- batch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Close stops the queue from accepting new batches. It waits out any
// publisher already inside its bounded send, so buffered batches stay
// intact and readable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run consumes batches until the queue is closed and drained or the
// context ends.
func (q *Queue) Run(ctx context.Context, handler func(collector.Batch)) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-q.ch:
			if !ok {
				return
			}
			handler(batch)
		}
	}
}

// Len reports the number of buffered batches.
func (q *Queue) Len() int { return len(q.ch) }
