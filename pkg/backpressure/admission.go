package backpressure

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
)

// AdmissionQueue fronts the REST handler with a bounded concurrency
// limit. At the high-water mark it logs a warning; once full, Enter
// returns ErrRejected so the handler can answer 503 with Retry-After,
// per §4.11.
type AdmissionQueue struct {
	capacity  int64
	highWater int64
	inFlight  int64
	logger    *zap.Logger
}

// ErrRejected signals the admission queue is at capacity.
var ErrRejected = &rejectedError{}

type rejectedError struct{}

func (*rejectedError) Error() string { return "admission queue at capacity" }

// NewAdmissionQueue builds a queue of the given capacity, warning once
// occupancy crosses highWaterPct (e.g. 0.8 for 80%).
func NewAdmissionQueue(capacity int, highWaterPct float64, logger *zap.Logger) *AdmissionQueue {
	return &AdmissionQueue{
		capacity:  int64(capacity),
		highWater: int64(float64(capacity) * highWaterPct),
		logger:    logger,
	}
}

// Enter admits one request, returning a release func to call when the
// request completes. Returns ErrRejected if the queue is already full.
func (q *AdmissionQueue) Enter(ctx context.Context) (release func(), err error) {
	n := atomic.AddInt64(&q.inFlight, 1)
	if n > q.capacity {
		atomic.AddInt64(&q.inFlight, -1)
		return nil, ErrRejected
	}
	if n >= q.highWater {
		q.logger.Warn("admission queue at high-water mark",
			logging.NewFields().Component("backpressure").Count(int(n)).Custom("capacity", q.capacity).ToZap()...)
	}
	return func() { atomic.AddInt64(&q.inFlight, -1) }, nil
}

// Occupancy returns the current in-flight count and capacity, for the
// `/backpressure/status` diagnostics endpoint.
func (q *AdmissionQueue) Occupancy() (inFlight, capacity int64) {
	return atomic.LoadInt64(&q.inFlight), q.capacity
}
