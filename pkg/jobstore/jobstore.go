// Package jobstore implements C14: async-job lifecycle tracking with a
// webhook callback fired on every terminal transition.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// WebhookNotifier delivers the terminal-state callback; the REST
// façade's JobWebhookNotifier satisfies this.
type WebhookNotifier interface {
	NotifyJobStatus(ctx context.Context, callbackURL string, status model.JobStatus)
}

// Store implements C14 over the durable JobStatus table.
type Store struct {
	db       *sqlx.DB
	notifier WebhookNotifier
	logger   *zap.Logger
}

func New(db *sqlx.DB, notifier WebhookNotifier, logger *zap.Logger) *Store {
	return &Store{db: db, notifier: notifier, logger: logger}
}

// Create inserts a new PENDING job row and returns its generated id.
func (s *Store) Create(ctx context.Context, tradeID, callbackURL string) (string, error) {
	jobID := uuid.NewString()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_status (job_id, trade_id, status, progress, callback_url, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $5)`,
		jobID, tradeID, model.JobPending, callbackURL, now)
	if err != nil {
		return "", apperrors.NewDatabaseError("create job", err)
	}
	return jobID, nil
}

// Get reads one job by id.
func (s *Store) Get(ctx context.Context, jobID string) (model.JobStatus, error) {
	var job model.JobStatus
	err := s.db.GetContext(ctx, &job, `
		SELECT job_id, trade_id, status, progress, result_ref, error, callback_url, created_at, updated_at
		FROM job_status WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobStatus{}, apperrors.NewNotFoundError("job " + jobID)
	}
	if err != nil {
		return model.JobStatus{}, apperrors.NewDatabaseError("get job", err)
	}
	return job, nil
}

// Transition moves a job to a new state, validating the edge against
// the §4.14 DAG, persists progress/result/error, and fires the webhook
// callback on any terminal transition. Webhook failure never affects
// the persisted job state.
func (s *Store) Transition(ctx context.Context, jobID string, to model.JobState, progress int, resultRef, failReason string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !model.IsLegalJobTransition(job.Status, to) {
		return apperrors.NewIllegalTransitionError(jobID, string(job.Status), string(to))
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE job_status SET status = $2, progress = $3, result_ref = $4, error = $5, updated_at = $6
		WHERE job_id = $1`, jobID, to, progress, resultRef, failReason, now)
	if err != nil {
		return apperrors.NewDatabaseError("transition job", err)
	}

	job.Status = to
	job.Progress = progress
	job.ResultRef = resultRef
	job.Error = failReason
	job.UpdatedAt = now

	if isTerminal(to) && job.CallbackURL != "" && s.notifier != nil {
		s.notifier.NotifyJobStatus(ctx, job.CallbackURL, job)
	}

	s.logger.Info("job transitioned",
		logging.NewFields().Component("jobstore").Custom("jobId", jobID).
			Custom("status", to).ToZap()...)
	return nil
}

// Cancel honors a cancellation only while the job is PENDING, per §4.14.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	return s.Transition(ctx, jobID, model.JobCancelled, 0, "", "")
}

func isTerminal(state model.JobState) bool {
	switch state {
	case model.JobCompleted, model.JobFailed, model.JobCancelled:
		return true
	default:
		return false
	}
}
