// Package partitionlock implements C1: a distributed, fencing-token lease
// that guarantees at-most-one in-flight Pipeline execution per
// partitionKey across all process instances.
package partitionlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"go.uber.org/zap"
)

const keyPrefix = "tc:lock:"

// acquireScript installs the lease only if absent, per §4.1.
var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// renewScript extends the lease TTL only if the caller's token still
// matches, i.e. fencing.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the lease only if the caller's token still
// matches (fencing), making double-release idempotent.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// LockHandle is returned by Acquire and must be passed to Renew/Release.
type LockHandle struct {
	PartitionKey string
	Token        string
	HoldTTL      time.Duration
}

// Locker acquires, renews, and releases per-partition leases.
type Locker struct {
	client *redis.Client
	logger *zap.Logger
}

func New(client *redis.Client, logger *zap.Logger) *Locker {
	return &Locker{client: client, logger: logger}
}

func lockKey(partitionKey string) string {
	return keyPrefix + partitionKey
}

// Acquire attempts to install a lease on partitionKey, retrying with
// exponential backoff (initial 50ms, doubling, capped at 500ms) until
// waitTimeout elapses, per §4.1.
func (l *Locker) Acquire(ctx context.Context, partitionKey string, waitTimeout, holdTTL time.Duration) (*LockHandle, error) {
	token := uuid.NewString()
	handle := &LockHandle{PartitionKey: partitionKey, Token: token, HoldTTL: holdTTL}

	b := retry.NewExponential(50 * time.Millisecond)
	b = retry.WithCappedDuration(500*time.Millisecond, b)
	b = retry.WithMaxDuration(waitTimeout, b)

	acquired := false
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := acquireScript.Run(ctx, l.client, []string{lockKey(partitionKey)}, token, holdTTL.Milliseconds()).Int()
		if err != nil {
			return apperrors.NewDependencyUnavailableError("partition-lock-store", err)
		}
		if res == 1 {
			acquired = true
			return nil
		}
		return retry.RetryableError(apperrors.NewLockTimeoutError(partitionKey))
	})

	if !acquired {
		if err != nil {
			l.logger.Warn("partition lock acquire failed",
				logging.NewFields().PartitionKey(partitionKey).Error(err).ToZap()...)
		}
		// A failed script call (the lock store itself is unreachable) is a
		// distinct failure from the lease staying held past waitTimeout:
		// surface it as-is so the caller sees BACKEND_UNAVAILABLE rather
		// than a misleading LOCK_TIMEOUT.
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Type == apperrors.ErrorTypeDependencyDown {
			return nil, err
		}
		return nil, apperrors.NewLockTimeoutError(partitionKey)
	}
	return handle, nil
}

// Renew extends the lease TTL; required for operations running longer than
// holdTTL. Returns an error if the token no longer matches (lease expired
// or stolen by a crash-recovery acquirer).
func (l *Locker) Renew(ctx context.Context, handle *LockHandle) error {
	res, err := renewScript.Run(ctx, l.client, []string{lockKey(handle.PartitionKey)}, handle.Token, handle.HoldTTL.Milliseconds()).Int()
	if err != nil {
		return apperrors.NewDependencyUnavailableError("partition-lock-store", err)
	}
	if res != 1 {
		return apperrors.NewLockTimeoutError(handle.PartitionKey)
	}
	return nil
}

// Release deletes the lease if and only if the token matches, per the
// §4.1 fencing contract. Double-release is idempotent: releasing a lease
// the caller no longer holds is a silent no-op.
func (l *Locker) Release(ctx context.Context, handle *LockHandle) error {
	_, err := releaseScript.Run(ctx, l.client, []string{lockKey(handle.PartitionKey)}, handle.Token).Int()
	if err != nil {
		return apperrors.NewDependencyUnavailableError("partition-lock-store", err)
	}
	return nil
}
