// Package retrysupervisor implements C12: deadlock-aware retry of
// database-writing operations in a brand-new transaction per attempt.
// Retry of external calls is not done here; pkg/enricher retries its
// own lookups.
package retrysupervisor

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
)

// Config holds the §4.12 deadlock-retry backoff shape.
type Config struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// Supervisor wraps database-writing operations with the §4.12 deadlock
// recovery algorithm.
type Supervisor struct {
	db     *sqlx.DB
	cfg    Config
	logger *zap.Logger
}

func New(db *sqlx.DB, cfg Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{db: db, cfg: cfg, logger: logger}
}

// Op is one single-transaction write step; fn receives a fresh
// transaction each attempt and must not reuse a transaction across
// calls, per §4.12's rationale that a deadlock marks the caller's
// transaction rollback-only.
type Op func(ctx context.Context, tx *sqlx.Tx) error

// Run executes op in its own fresh transaction, retrying with
// exponential backoff on a detected deadlock up to MaxAttempts. Any
// other error is propagated immediately without retry.
func (s *Supervisor) Run(ctx context.Context, operation string, op Op) error {
	backoff := retry.WithCappedDuration(s.cfg.Max, s.exponentialBackoff())
	backoff = retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		runErr := s.runOnce(ctx, op)
		if runErr == nil {
			return nil
		}
		if isDeadlock(runErr) {
			s.logger.Warn("deadlock victim, retrying in a fresh transaction",
				logging.NewFields().Component("retrysupervisor").Operation(operation).
					Custom("attempt", attempt).Error(runErr).ToZap()...)
			return retry.RetryableError(apperrors.NewDeadlockError(operation, runErr))
		}
		return runErr
	})
}

// exponentialBackoff grows the delay by Config.Multiplier each attempt,
// starting at Initial. retry.NewExponential always doubles, so a custom
// BackoffFunc is needed to honor a configured multiplier other than 2.
func (s *Supervisor) exponentialBackoff() retry.Backoff {
	mult := s.cfg.Multiplier
	if mult <= 0 {
		mult = 2
	}
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay := time.Duration(float64(s.cfg.Initial) * math.Pow(mult, float64(attempt)))
		attempt++
		return delay, false
	})
}

func (s *Supervisor) runOnce(ctx context.Context, op Op) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin transaction", err)
	}

	if err := op(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// isDeadlock recognizes Postgres error code 40P01 (deadlock_detected)
// across the pgx native error type and any *AppError already classified
// as a deadlock by a nested retry layer. errors.As unwraps both the
// go-retry RetryableError marker and sqlx/pgx error wrapping.
func isDeadlock(err error) bool {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type == apperrors.ErrorTypeDeadlock {
		return true
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "40P01"
	}
	return false
}
