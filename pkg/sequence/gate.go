// Package sequence implements C3: per-partition sequencing that delivers
// arrivals to the Pipeline in monotonically increasing order, buffering
// out-of-order messages and sweeping stale buffers on a timeout.
package sequence

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
	"go.uber.org/zap"
)

// Decision is the outcome of Gate.Admit.
type Decision string

const (
	DecisionDeliver        Decision = "DELIVER"
	DecisionBuffered       Decision = "BUFFERED"
	DecisionOutOfOrderOld  Decision = "OUT_OF_ORDER_TOO_OLD"
	DecisionGapTooLarge    Decision = "GAP_TOO_LARGE"
	DecisionBypass         Decision = "BYPASS"
)

// Result carries the admission decision plus any messages ready to be
// delivered in sequence order — the triggering message itself and any
// buffered successors the arrival drained.
type Result struct {
	Decision Decision
	Ready    []*model.TradeCaptureRequest
	Err      error
}

type partitionState struct {
	lastDelivered        int64
	buffer               map[int64]model.BufferedMessage
	oldestBufferedArrival time.Time
}

// Gate implements the C3 decision procedure and timeout sweeper.
type Gate struct {
	mu             sync.Mutex
	partitions     map[string]*partitionState
	bufferWindow   int
	timeout        time.Duration
	timeWindowDays int
	logger         *zap.Logger

	now func() time.Time
}

// New constructs a Gate with the given buffer window (max entries per
// partition), buffered-message timeout, and history-replay bypass window
// in days, per §4.3.
func New(bufferWindow int, timeout time.Duration, timeWindowDays int, logger *zap.Logger) *Gate {
	return &Gate{
		partitions:     make(map[string]*partitionState),
		bufferWindow:   bufferWindow,
		timeout:        timeout,
		timeWindowDays: timeWindowDays,
		logger:         logger,
		now:            time.Now,
	}
}

func (g *Gate) stateFor(partitionKey string) *partitionState {
	ps, ok := g.partitions[partitionKey]
	if !ok {
		ps = &partitionState{lastDelivered: 0, buffer: make(map[int64]model.BufferedMessage)}
		g.partitions[partitionKey] = ps
	}
	return ps
}

// Admit applies the §4.3 decision procedure to one incoming request. A nil
// SequenceNumber bypasses the gate entirely (absent-sequence mode).
func (g *Gate) Admit(partitionKey string, req *model.TradeCaptureRequest) Result {
	if req.SequenceNumber == nil {
		return Result{Decision: DecisionBypass, Ready: []*model.TradeCaptureRequest{req}}
	}
	seq := *req.SequenceNumber

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timeWindowDays > 0 && req.BookingTimestamp.Before(g.now().AddDate(0, 0, -g.timeWindowDays)) {
		return Result{Decision: DecisionBypass, Ready: []*model.TradeCaptureRequest{req}}
	}

	ps := g.stateFor(partitionKey)

	if seq <= ps.lastDelivered {
		return Result{Decision: DecisionOutOfOrderOld, Err: apperrors.New(apperrors.ErrorTypeGapTooLarge, "sequence at or before last delivered").WithDetailsf("partition=%s seq=%d lastDelivered=%d", partitionKey, seq, ps.lastDelivered)}
	}

	if seq == ps.lastDelivered+1 {
		ready := []*model.TradeCaptureRequest{req}
		ps.lastDelivered = seq
		ready = append(ready, g.drain(ps)...)
		if len(ps.buffer) == 0 {
			ps.oldestBufferedArrival = time.Time{}
		}
		return Result{Decision: DecisionDeliver, Ready: ready}
	}

	if len(ps.buffer) >= g.bufferWindow {
		return Result{Decision: DecisionGapTooLarge, Err: apperrors.NewGapTooLargeError(partitionKey, seq)}
	}

	arrival := g.now()
	ps.buffer[seq] = model.BufferedMessage{PartitionKey: partitionKey, SequenceNumber: seq, Payload: req, ArrivalTime: arrival}
	if ps.oldestBufferedArrival.IsZero() || arrival.Before(ps.oldestBufferedArrival) {
		ps.oldestBufferedArrival = arrival
	}
	return Result{Decision: DecisionBuffered}
}

// drain removes and returns the contiguous run starting at lastDelivered+1,
// advancing lastDelivered as it goes. Caller holds g.mu.
func (g *Gate) drain(ps *partitionState) []*model.TradeCaptureRequest {
	var out []*model.TradeCaptureRequest
	for {
		next := ps.lastDelivered + 1
		msg, ok := ps.buffer[next]
		if !ok {
			break
		}
		delete(ps.buffer, next)
		ps.lastDelivered = next
		out = append(out, msg.Payload)
	}
	return out
}

// SweepResult names a partition and the buffered messages timed out for
// DLQ emission.
type SweepResult struct {
	PartitionKey string
	Messages     []model.BufferedMessage
}

// Sweep scans every partition for a buffer whose oldest arrival exceeds
// the configured timeout, DLQs its contents, and resets lastDelivered to
// unblock subsequent traffic, per §4.3 step 5.
func (g *Gate) Sweep() []SweepResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	var results []SweepResult
	now := g.now()
	for partitionKey, ps := range g.partitions {
		if ps.oldestBufferedArrival.IsZero() || now.Sub(ps.oldestBufferedArrival) < g.timeout {
			continue
		}

		seqs := make([]int64, 0, len(ps.buffer))
		for seq := range ps.buffer {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

		msgs := make([]model.BufferedMessage, 0, len(seqs))
		maxSeq := ps.lastDelivered
		for _, seq := range seqs {
			msgs = append(msgs, ps.buffer[seq])
			if seq > maxSeq {
				maxSeq = seq
			}
			delete(ps.buffer, seq)
		}
		ps.lastDelivered = maxSeq
		ps.oldestBufferedArrival = time.Time{}

		g.logger.Warn("sequence buffer timed out, emitting to DLQ",
			logging.NewFields().PartitionKey(partitionKey).Count(len(msgs)).ToZap()...)
		results = append(results, SweepResult{PartitionKey: partitionKey, Messages: msgs})
	}
	return results
}

// PartitionBufferStatus summarizes one partition's gate state for the
// `/sequence-buffer/status` diagnostics endpoint.
type PartitionBufferStatus struct {
	PartitionKey   string    `json:"partitionKey"`
	LastDelivered  int64     `json:"lastDelivered"`
	BufferedCount  int       `json:"bufferedCount"`
	OldestArrival  time.Time `json:"oldestArrival,omitempty"`
}

// Status snapshots every partition currently tracked by the gate.
func (g *Gate) Status() []PartitionBufferStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PartitionBufferStatus, 0, len(g.partitions))
	for partitionKey, ps := range g.partitions {
		out = append(out, PartitionBufferStatus{
			PartitionKey:  partitionKey,
			LastDelivered: ps.lastDelivered,
			BufferedCount: len(ps.buffer),
			OldestArrival: ps.oldestBufferedArrival,
		})
	}
	return out
}

// StartSweeper runs Sweep every interval until stop is closed, invoking
// onTimeout for each partition's DLQ-bound batch.
func (g *Gate) StartSweeper(interval time.Duration, stop <-chan struct{}, onTimeout func(SweepResult)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, res := range g.Sweep() {
					onTimeout(res)
				}
			case <-stop:
				return
			}
		}
	}()
}
