// Package idempotency implements C2: two-tier deduplication combining a
// fast Redis cache with a durable Postgres record, guarded by a unique-key
// constraint on claim so concurrent workers never double-process a key.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// ProbeResult is the outcome of Probe, per §4.2.
type ProbeResult struct {
	Status      model.IdempotencyStatus
	ResultRef   string
	PayloadHash string
}

var ErrAlreadyExists = errors.New("idempotency record already claimed")

// Store implements C2 over a Redis cache (12h TTL) fronting a durable
// Postgres table.
type Store struct {
	db        *sqlx.DB
	cache     *redis.Client
	logger    *zap.Logger
	window    time.Duration
	cacheTTL  time.Duration
}

func New(db *sqlx.DB, cache *redis.Client, logger *zap.Logger, window, cacheTTL time.Duration) *Store {
	return &Store{db: db, cache: cache, logger: logger, window: window, cacheTTL: cacheTTL}
}

func cacheKey(key string) string {
	return "tc:idem:" + key
}

type cacheEntry struct {
	Status      model.IdempotencyStatus `json:"status"`
	ResultRef   string                  `json:"resultRef,omitempty"`
	PayloadHash string                  `json:"payloadHash,omitempty"`
}

// Probe checks the in-memory cache first, falling back to the durable
// store on miss and promoting the result back into the cache, per §4.2.
func (s *Store) Probe(ctx context.Context, key string) (ProbeResult, error) {
	if raw, err := s.cache.Get(ctx, cacheKey(key)).Result(); err == nil {
		var entry cacheEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil {
			return ProbeResult{Status: entry.Status, ResultRef: entry.ResultRef, PayloadHash: entry.PayloadHash}, nil
		}
	}

	var rec model.IdempotencyRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT key, partition_key, status, result_ref, payload_hash, fail_reason, created_at, updated_at, expires_at
		FROM idempotency_record WHERE key = $1 AND archive_flag = false`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return ProbeResult{Status: ""}, nil
	}
	if err != nil {
		return ProbeResult{}, apperrors.NewDatabaseError("probe idempotency record", err)
	}

	s.promote(ctx, key, rec.Status, rec.ResultRef, rec.PayloadHash)
	return ProbeResult{Status: rec.Status, ResultRef: rec.ResultRef, PayloadHash: rec.PayloadHash}, nil
}

func (s *Store) promote(ctx context.Context, key string, status model.IdempotencyStatus, resultRef, payloadHash string) {
	payload, err := json.Marshal(cacheEntry{Status: status, ResultRef: resultRef, PayloadHash: payloadHash})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(key), payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("failed to promote idempotency record to cache",
			logging.NewFields().Custom("key", key).Error(err).ToZap()...)
	}
}

// Claim inserts a PROCESSING record under a unique-key constraint. A
// unique-violation means another worker already claimed the key.
func (s *Store) Claim(ctx context.Context, key, partitionKey, payloadHash string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_record (key, partition_key, status, payload_hash, created_at, updated_at, expires_at, archive_flag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)`,
		key, partitionKey, model.IdempotencyProcessing, payloadHash, now, now, now.Add(s.window))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return apperrors.NewDatabaseError("claim idempotency record", err)
	}
	s.promote(ctx, key, model.IdempotencyProcessing, "", payloadHash)
	return nil
}

// MarkCompleted is an idempotent terminal-status write, executed by the
// caller inside its own fresh transaction per §5. payloadHash is carried
// through to the cache promotion so a later duplicate-payload probe can
// still compare against it without a DB round trip.
func (s *Store) MarkCompleted(ctx context.Context, key, resultRef, payloadHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_record SET status = $2, result_ref = $3, updated_at = $4
		WHERE key = $1`, key, model.IdempotencyCompleted, resultRef, time.Now())
	if err != nil {
		return apperrors.NewDatabaseError("mark idempotency completed", err)
	}
	s.promote(ctx, key, model.IdempotencyCompleted, resultRef, payloadHash)
	return nil
}

// MarkFailed is an idempotent terminal-status write; a terminal FAILED
// status permits a later client retry from the beginning.
func (s *Store) MarkFailed(ctx context.Context, key, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_record SET status = $2, fail_reason = $3, updated_at = $4
		WHERE key = $1`, key, model.IdempotencyFailed, reason, time.Now())
	if err != nil {
		return apperrors.NewDatabaseError("mark idempotency failed", err)
	}
	s.promote(ctx, key, model.IdempotencyFailed, "", "")
	return nil
}

// isUniqueViolation recognizes Postgres error code 23505 across both the
// pgx native error type and a plain driver error surfaced through sqlx.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
