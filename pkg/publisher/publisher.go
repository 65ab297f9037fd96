// Package publisher implements C8: fan-out of a committed SwapBlotter to
// every enabled subscriber, with per-subscriber failure isolation.
package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// Subscriber is the narrow capability every delivery mode (bus topic,
// webhook, ops-alert stream) implements, per §9's tagged-variant note.
type Subscriber interface {
	Name() string
	Publish(ctx context.Context, blotter *model.SwapBlotter) error
}

// Result is one subscriber's outcome, used for the per-subscriber
// status tracked by the `/backpressure/status`-style diagnostics and by
// tests.
type Result struct {
	Subscriber string
	Err        error
}

// Publisher fans a SwapBlotter out to every registered subscriber
// concurrently; one subscriber's failure never blocks or affects
// another's, and none of them feed back into the Pipeline's own
// success/failure decision (§4.8).
type Publisher struct {
	subscribers []Subscriber
	logger      *zap.Logger

	mu     sync.Mutex
	status map[string]Result
}

func New(subscribers []Subscriber, logger *zap.Logger) *Publisher {
	return &Publisher{subscribers: subscribers, logger: logger, status: make(map[string]Result)}
}

// Publish delivers blotter to every subscriber concurrently and returns
// once all have finished (or ctx is cancelled for the slowest of them).
// It never returns an error itself; failures are recorded per
// subscriber and logged.
func (p *Publisher) Publish(ctx context.Context, blotter *model.SwapBlotter) []Result {
	results := make([]Result, len(p.subscribers))
	var wg sync.WaitGroup
	wg.Add(len(p.subscribers))

	for i, sub := range p.subscribers {
		go func(i int, sub Subscriber) {
			defer wg.Done()
			err := sub.Publish(ctx, blotter)
			result := Result{Subscriber: sub.Name(), Err: err}
			results[i] = result

			p.mu.Lock()
			p.status[sub.Name()] = result
			p.mu.Unlock()

			if err != nil {
				p.logger.Error("subscriber delivery failed",
					logging.NewFields().Component("publisher").Custom("subscriber", sub.Name()).
						TradeID(blotter.TradeID).Error(err).ToZap()...)
			} else {
				p.logger.Debug("subscriber delivery succeeded",
					logging.NewFields().Component("publisher").Custom("subscriber", sub.Name()).
						TradeID(blotter.TradeID).ToZap()...)
			}
		}(i, sub)
	}

	wg.Wait()
	return results
}

// Status returns the most recent delivery result per subscriber, for
// diagnostics.
func (p *Publisher) Status() map[string]Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Result, len(p.status))
	for k, v := range p.status {
		out[k] = v
	}
	return out
}

// backoffSchedule is the fixed webhook retry schedule from §4.8: 3
// attempts total, with 1s then 2s between them.
var backoffSchedule = []time.Duration{time.Second, 2 * time.Second}
