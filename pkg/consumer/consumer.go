// Package consumer implements C10: the single logical consumer group
// that subscribes to every per-partition sub-topic produced by the
// ingress router, with lag-driven pause/resume and a bounded in-flight
// worker budget.
package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
)

// ClientOpts builds the franz-go options for a client that subscribes to
// every sub-topic under inputTopicPrefix via a regex match (the wildcard
// subscription of §4.10) using cooperative-sticky assignment so a
// rebalance prefers to keep the previous partition→worker mapping.
func ClientOpts(seedBrokers []string, groupID, inputTopicPrefix string) []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(seedBrokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics("^" + inputTopicPrefix + "/.*$"),
		kgo.ConsumeRegex(),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.RequireStableFetchOffsets(),
	}
}

// Handler processes one routed message. Returning an error does not stop
// the manager; the caller's handler is responsible for its own DLQ/retry
// policy (handled upstream by the pipeline).
type Handler func(ctx context.Context, record *kgo.Record) error

// Config mirrors §4.10/§6's `backpressure.messaging.*` keys.
type Config struct {
	GroupID     string
	MaxLag      int64
	ResumeLag   int64
	MaxInflight int
	LagInterval time.Duration
}

// FetchClient is the narrow franz-go surface the manager depends on, so
// tests can substitute a fake instead of a live broker connection.
type FetchClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	GetConsumeTopics() []string
	PauseFetchTopics(topics ...string) []string
	ResumeFetchTopics(topics ...string)
}

// LagSampler reports total consumer-group lag summed across all
// assigned partitions. Backed by *kadm.Client.Lag in production.
type LagSampler func(ctx context.Context, groupID string) (int64, error)

// Manager runs the fetch loop, bounds concurrent handler invocations,
// and samples consumer-group lag to pause/resume fetching.
type Manager struct {
	client  FetchClient
	lag     LagSampler
	cfg     Config
	handler Handler
	logger  *zap.Logger

	inflight chan struct{}
	paused   atomic.Bool

	wg sync.WaitGroup
}

func New(client FetchClient, lag LagSampler, cfg Config, handler Handler, logger *zap.Logger) *Manager {
	return &Manager{
		client:   client,
		lag:      lag,
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		inflight: make(chan struct{}, cfg.MaxInflight),
	}
}

// NewKadmLagSampler builds a LagSampler backed by a real admin client,
// summing lag across every topic/partition the group is assigned.
func NewKadmLagSampler(admin *kadm.Client) LagSampler {
	return func(ctx context.Context, groupID string) (int64, error) {
		groupLags, err := admin.Lag(ctx, groupID)
		if err != nil {
			return 0, err
		}
		var total int64
		for _, group := range groupLags {
			for _, topicLag := range group.Lag {
				for _, partLag := range topicLag {
					if partLag.Lag > 0 {
						total += partLag.Lag
					}
				}
			}
		}
		return total, nil
	}
}

// Run drives the fetch loop and the lag sampler until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	go m.sampleLag(ctx)

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return ctx.Err()
		default:
		}

		fetches := m.client.PollFetches(ctx)
		if ctx.Err() != nil {
			m.wg.Wait()
			return ctx.Err()
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				m.logger.Error("fetch error",
					logging.NewFields().Component("consumer").Custom("topic", fe.Topic).
						Custom("partition", fe.Partition).Error(fe.Err).ToZap()...)
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case m.inflight <- struct{}{}:
			case <-ctx.Done():
				return
			}
			m.wg.Add(1)
			go func(rec *kgo.Record) {
				defer m.wg.Done()
				defer func() { <-m.inflight }()
				if err := m.handler(ctx, rec); err != nil {
					m.logger.Error("handler failed",
						logging.NewFields().Component("consumer").Custom("topic", rec.Topic).Error(err).ToZap()...)
				}
			}(record)
		})
	}
}

// sampleLag sums lag across all assigned partitions every LagInterval and
// pauses/resumes the fetch loop at the configured thresholds, per §4.10.
func (m *Manager) sampleLag(ctx context.Context) {
	if m.lag == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.LagInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, err := m.lag(ctx, m.cfg.GroupID)
			if err != nil {
				m.logger.Warn("lag sample failed",
					logging.NewFields().Component("consumer").Error(err).ToZap()...)
				continue
			}

			topics := m.client.GetConsumeTopics()
			switch {
			case total > m.cfg.MaxLag && !m.paused.Load():
				m.client.PauseFetchTopics(topics...)
				m.paused.Store(true)
				m.logger.Warn("consumer group paused on lag", logging.NewFields().Component("consumer").Custom("lag", total).ToZap()...)
			case total < m.cfg.ResumeLag && m.paused.Load():
				m.client.ResumeFetchTopics(topics...)
				m.paused.Store(false)
				m.logger.Info("consumer group resumed", logging.NewFields().Component("consumer").Custom("lag", total).ToZap()...)
			}
		}
	}
}

// Paused reports whether the manager currently has the fetch loop
// paused, for the `/consumer-groups/status` diagnostics endpoint.
func (m *Manager) Paused() bool { return m.paused.Load() }
