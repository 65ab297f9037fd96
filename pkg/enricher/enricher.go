// Package enricher implements C6: concurrent reference-data fan-out
// guarded by a per-dependency circuit breaker, with a read-through cache
// so a tripped breaker degrades to PARTIAL rather than blocking ingestion.
package enricher

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// Lookup is one reference-data dependency: security master, account
// master, credit, or any future lookup. Name is used as the circuit
// breaker name and the cache-key prefix; CacheKey supplies the
// per-request component, which varies by lookup (a security lookup
// keys on SecurityID, an account/credit lookup on AccountID).
type Lookup interface {
	Name() string
	CacheKey(req *model.TradeCaptureRequest) string
	Fetch(ctx context.Context, req *model.TradeCaptureRequest) (map[string]string, error)
}

// Cache is the read-through cache fronting every Lookup, satisfied by
// the C11 cache layer over Redis.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]string, bool)
	Set(ctx context.Context, key string, value map[string]string, ttl time.Duration)
}

// Result is the outcome of one Enrich call, per §3 EnrichmentStatus.
type Result struct {
	Status  model.EnrichmentStatus
	Fields  map[string]string
	Sources []string
	Errs    map[string]error
}

// Enricher fans a request out to every registered Lookup concurrently,
// each independently circuit-broken, and merges the results.
type Enricher struct {
	lookups  []Lookup
	breakers map[string]*gobreaker.CircuitBreaker
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// New constructs an Enricher with one circuit breaker per lookup, each
// tripping after 5 consecutive failures and probing again after 30s.
func New(lookups []Lookup, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *Enricher {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(lookups))
	for _, l := range lookups {
		name := l.Name()
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Enricher{lookups: lookups, breakers: breakers, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Enrich fans the request out to every lookup concurrently, per §4.6.
// A lookup that fails (including a tripped breaker) is absorbed into the
// PARTIAL outcome rather than failing the whole call; every lookup
// failing yields FAILED.
func (e *Enricher) Enrich(ctx context.Context, req *model.TradeCaptureRequest) Result {
	merged := make(map[string]string)
	sources := make([]string, 0, len(e.lookups))
	errs := make(map[string]error)

	// Each goroutine owns a distinct slice index, so no shared-map lock
	// is needed to collect results.
	outcomes := make([]fetchOutcome, len(e.lookups))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range e.lookups {
		i, l := i, l
		g.Go(func() error {
			fields, err := e.fetchOne(gctx, l, req)
			outcomes[i] = fetchOutcome{fields: fields, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, l := range e.lookups {
		outcome := outcomes[i]
		if outcome.err != nil {
			errs[l.Name()] = outcome.err
			e.logger.Warn("enrichment lookup failed",
				logging.NewFields().Component("enricher").Custom("lookup", l.Name()).Error(outcome.err).ToZap()...)
			continue
		}
		for k, v := range outcome.fields {
			merged[k] = v
		}
		sources = append(sources, l.Name())
	}

	status := model.EnrichmentComplete
	switch {
	case len(sources) == 0 && len(e.lookups) > 0:
		status = model.EnrichmentFailed
	case len(errs) > 0:
		status = model.EnrichmentPartial
	}

	return Result{Status: status, Fields: merged, Sources: sources, Errs: errs}
}

type fetchOutcome struct {
	fields map[string]string
	err    error
}

// retryableLookupError is satisfied by a Lookup's own error type (e.g.
// pkg/refdata.LookupError) when it can tell a transient failure (429,
// 5xx) apart from one retrying cannot fix (4xx). The Enricher only
// depends on this narrow interface, never on a concrete Lookup's error
// type, keeping the C6 abstraction independent of any one dependency's
// transport.
type retryableLookupError interface {
	Retryable() bool
}

// isRetryable categorizes a lookup failure per §4.6's adaptive retry
// guidance: a dropped connection or timeout is always worth one more
// attempt; a Lookup-reported 429/5xx is retryable by its own say-so; any
// other error (including a 4xx client error) is not.
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var retryable retryableLookupError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return false
}

func (e *Enricher) fetchOne(ctx context.Context, l Lookup, req *model.TradeCaptureRequest) (map[string]string, error) {
	cacheKey := l.Name() + ":" + l.CacheKey(req)
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	breaker := e.breakers[l.Name()]
	result, err := breaker.Execute(func() (interface{}, error) {
		return e.fetchWithRetry(ctx, l, req)
	})
	if err != nil {
		return nil, err
	}

	fields, _ := result.(map[string]string)
	if e.cache != nil {
		e.cache.Set(ctx, cacheKey, fields, e.cacheTTL)
	}
	return fields, nil
}

// fetchWithRetry retries a transient lookup failure up to twice with
// exponential backoff before counting it as a single circuit-breaker
// failure, so a brief network blip never trips the breaker on its own.
func (e *Enricher) fetchWithRetry(ctx context.Context, l Lookup, req *model.TradeCaptureRequest) (map[string]string, error) {
	return backoff.Retry(ctx, func() (map[string]string, error) {
		fields, err := l.Fetch(ctx, req)
		if err != nil && isRetryable(err) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return fields, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
}
