// Package blotterstore implements the §6 SwapBlotter table: a
// write-once-per-tradeId durable record of the Pipeline's output.
package blotterstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Persist writes blotter inside the caller's transaction, per §4.7 step
// 12 (its own fresh transaction, owned by the Pipeline/RetrySupervisor).
// A tradeId is written at most once; a repeat Persist for the same
// tradeId (idempotent replay) is a silent no-op rather than a conflict.
func (s *Store) Persist(ctx context.Context, tx *sqlx.Tx, blotter *model.SwapBlotter) error {
	blob, err := json.Marshal(blotter)
	if err != nil {
		return apperrors.NewValidationError("failed to serialize blotter for persistence").WithDetailsf(err.Error())
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO swap_blotter (trade_id, partition_key, blob, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (trade_id) DO NOTHING`,
		blotter.TradeID, blotter.PartitionKey, blob, time.Now())
	if err != nil {
		return apperrors.NewDatabaseError("persist swap blotter", err)
	}
	return nil
}

// Get retrieves a previously persisted blotter by tradeId, used to
// serve cached idempotent results (§4.7 step 3).
func (s *Store) Get(ctx context.Context, tradeID string) (*model.SwapBlotter, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT blob FROM swap_blotter WHERE trade_id = $1`, tradeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("swap_blotter:" + tradeID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get swap blotter", err)
	}

	var blotter model.SwapBlotter
	if err := json.Unmarshal(blob, &blotter); err != nil {
		return nil, apperrors.NewDatabaseError("decode swap blotter", err)
	}
	return &blotter, nil
}
