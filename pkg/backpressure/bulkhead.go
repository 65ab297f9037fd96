package backpressure

import (
	"context"
	"hash/fnv"

	"go.uber.org/zap"
)

// Task is one unit of bulkhead-isolated work.
type Task func(ctx context.Context) error

// Bulkhead partitions work into a fixed number of lanes, each with its
// own bounded concurrency and queue, so that a burst on one partition
// group cannot starve every other group's workers (§4.11).
type Bulkhead struct {
	lanes []*lane
	logger *zap.Logger
}

type lane struct {
	sem   chan struct{}
	queue chan queued
}

type queued struct {
	ctx  context.Context
	task Task
	done chan error
}

// NewBulkhead creates a bulkhead with the given number of lanes, each
// admitting at most maxConcurrent tasks at a time and queuing up to
// queueDepth beyond that before Submit blocks.
func NewBulkhead(lanes int, maxConcurrent int, queueDepth int, logger *zap.Logger) *Bulkhead {
	b := &Bulkhead{lanes: make([]*lane, lanes), logger: logger}
	for i := range b.lanes {
		l := &lane{sem: make(chan struct{}, maxConcurrent), queue: make(chan queued, queueDepth)}
		b.lanes[i] = l
		go l.run()
	}
	return b
}

func (l *lane) run() {
	for q := range l.queue {
		l.sem <- struct{}{}
		go func(q queued) {
			defer func() { <-l.sem }()
			q.done <- q.task(q.ctx)
		}(q)
	}
}

// Submit assigns a task to the lane owning partitionKey and blocks until
// either the lane has room to queue it or ctx is cancelled. It then
// blocks for the task's own completion, returning its error.
func (b *Bulkhead) Submit(ctx context.Context, partitionKey string, task Task) error {
	l := b.lanes[laneIndex(partitionKey, len(b.lanes))]
	done := make(chan error, 1)

	select {
	case l.queue <- queued{ctx: ctx, task: task, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func laneIndex(partitionKey string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(partitionKey))
	return int(h.Sum32() % uint32(lanes))
}
