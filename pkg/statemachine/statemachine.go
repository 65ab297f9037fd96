// Package statemachine implements C4: the per-partition CDM position
// state, mutated only under an optimistic version guard so a lost update
// surfaces as a retryable conflict rather than silently clobbering a
// concurrent writer.
package statemachine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// Cache is the read-through cache StateMachine invalidates on every
// committed write, satisfied by the C11 cache layer.
type Cache interface {
	Get(ctx context.Context, partitionKey string) (model.PartitionState, bool)
	Set(ctx context.Context, partitionKey string, state model.PartitionState)
	Invalidate(ctx context.Context, partitionKey string)
}

// StateMachine implements C4's read/transition operations over a durable
// Postgres table, fronted by an optional read-through cache.
type StateMachine struct {
	db     *sqlx.DB
	cache  Cache
	logger *zap.Logger
}

func New(db *sqlx.DB, cache Cache, logger *zap.Logger) *StateMachine {
	return &StateMachine{db: db, cache: cache, logger: logger}
}

// Read returns the current PartitionState, consulting the cache before
// falling back to the durable store on miss, per §4.4.
func (sm *StateMachine) Read(ctx context.Context, partitionKey string) (model.PartitionState, error) {
	if sm.cache != nil {
		if state, ok := sm.cache.Get(ctx, partitionKey); ok {
			return state, nil
		}
	}

	var state model.PartitionState
	err := sm.db.GetContext(ctx, &state, `
		SELECT partition_key, position_state, state_blob, last_sequence_number, version
		FROM partition_state WHERE partition_key = $1`, partitionKey)
	if errors.Is(err, sql.ErrNoRows) {
		state = model.PartitionState{PartitionKey: partitionKey, PositionState: "", Version: 0}
		return state, nil
	}
	if err != nil {
		return model.PartitionState{}, apperrors.NewDatabaseError("read partition state", err)
	}

	if sm.cache != nil {
		sm.cache.Set(ctx, partitionKey, state)
	}
	return state, nil
}

// Transition validates from→to against the §3 DAG and writes the new
// state under an optimistic version guard, per §4.4. The caller supplies
// the transaction (§5: step 11 runs in its own fresh transaction) so a
// deadlock here never poisons an unrelated write.
func (sm *StateMachine) Transition(ctx context.Context, tx *sqlx.Tx, partitionKey string, from, to model.PositionState, newBlob []byte, expectedVersion int64, lastSequenceNumber int64) (int64, error) {
	if !model.IsLegalTransition(from, to) {
		return 0, apperrors.NewIllegalTransitionError(partitionKey, string(from), string(to))
	}

	newVersion := expectedVersion + 1
	var result sql.Result
	var err error

	if expectedVersion == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO partition_state (partition_key, position_state, state_blob, last_sequence_number, version)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (partition_key) DO NOTHING`,
			partitionKey, to, newBlob, lastSequenceNumber, newVersion)
		if err != nil {
			return 0, apperrors.NewDatabaseError("insert partition state", err)
		}
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE partition_state
			SET position_state = $1, state_blob = $2, last_sequence_number = $3, version = $4
			WHERE partition_key = $5 AND version = $6`,
			to, newBlob, lastSequenceNumber, newVersion, partitionKey, expectedVersion)
		if err != nil {
			return 0, apperrors.NewDatabaseError("update partition state", err)
		}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("update partition state", err)
	}
	if rows == 0 {
		return 0, apperrors.NewStateConflictError(partitionKey)
	}

	if sm.cache != nil {
		sm.cache.Invalidate(ctx, partitionKey)
	}
	sm.logger.Info("partition state transitioned",
		logging.PartitionFields("transition", partitionKey).
			Custom("from", from).Custom("to", to).Custom("version", newVersion).ToZap()...)
	return newVersion, nil
}
