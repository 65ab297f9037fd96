// Package pipeline implements C7: the end-to-end per-request
// orchestration wiring every other component together per §4.7.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/backpressure"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/blotterstore"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/dlq"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/enricher"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/idempotency"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/jobstore"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/partitionlock"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/publisher"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/retrysupervisor"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/rulesengine"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/sequence"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/statemachine"
)

// Outcome is the terminal or interim disposition of one Execute call,
// per the enumerated returns of §4.7's 16-step algorithm.
type Outcome string

const (
	OutcomeCompleted        Outcome = "COMPLETED"
	OutcomePending          Outcome = "PENDING"
	OutcomeBuffered         Outcome = "BUFFERED"
	OutcomeRateLimited      Outcome = "RATE_LIMIT_EXCEEDED"
	OutcomeLockFailed       Outcome = "LOCK_ACQUISITION_FAILED"
	OutcomeRejected         Outcome = "REJECTED"
	OutcomePendingApproval  Outcome = "PENDING_APPROVAL"
	OutcomeFailed           Outcome = "FAILED"
	OutcomeDuplicatePayload Outcome = "DUPLICATE_DIFFERENT_PAYLOAD"
)

// Result is returned by Execute.
type Result struct {
	Outcome Outcome
	Blotter *model.SwapBlotter
	Err     error
	// Duplicate is true when Outcome is OutcomeCompleted because step 3
	// served an already-COMPLETED idempotency record rather than because
	// this call ran the algorithm to completion itself — the REST façade
	// uses it to choose 200 (replay) over 201 (freshly created).
	Duplicate bool
}

// Validator is the step-9 validation capability, narrowed to what the
// Pipeline invokes so production code can be backed by
// pkg/validation.Validator without an import-time coupling.
type Validator interface {
	Validate(ctx context.Context, req *model.TradeCaptureRequest, enrichment map[string]string) error
}

// ApprovalService is the step-10 approval capability; approval services
// are external collaborators specified only by this method, per §9.
type ApprovalService interface {
	Decide(ctx context.Context, blotter *model.SwapBlotter) (model.WorkflowStatus, error)
}

// Config carries the subset of §6's defaults the Pipeline itself reads
// directly (lock timing; everything else is owned by the component it
// configures).
type Config struct {
	LockWaitTimeout time.Duration
	LockHoldTTL     time.Duration
}

// Pipeline wires C1, C2, C3, C4, C5, C6, C8, C12, C14 plus validation and
// approval into the single end-to-end algorithm of §4.7.
type Pipeline struct {
	cfg Config

	rateLimiter *backpressure.RateLimiter
	locker      *partitionlock.Locker
	idempotency *idempotency.Store
	gate        *sequence.Gate
	enricher    *enricher.Enricher
	rules       *rulesengine.Engine
	validator   Validator
	approval    ApprovalService
	stateMachine *statemachine.StateMachine
	blotters    *blotterstore.Store
	retry       *retrysupervisor.Supervisor
	publisher   *publisher.Publisher
	dlqSink     *dlq.Sink
	jobs        *jobstore.Store

	tracer      trace.Tracer
	elapsedHist metric.Int64Histogram

	logger *zap.Logger
}

func New(
	cfg Config,
	rateLimiter *backpressure.RateLimiter,
	locker *partitionlock.Locker,
	idempotencyStore *idempotency.Store,
	gate *sequence.Gate,
	enr *enricher.Enricher,
	rules *rulesengine.Engine,
	validator Validator,
	approvalSvc ApprovalService,
	sm *statemachine.StateMachine,
	blotters *blotterstore.Store,
	retry *retrysupervisor.Supervisor,
	pub *publisher.Publisher,
	dlqSink *dlq.Sink,
	jobs *jobstore.Store,
	logger *zap.Logger,
) *Pipeline {
	meter := otel.Meter("tradecapture/pipeline")
	elapsedHist, _ := meter.Int64Histogram("pipeline.elapsed_millis",
		metric.WithDescription("wall-clock duration of one Execute call, in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Pipeline{
		cfg: cfg, rateLimiter: rateLimiter, locker: locker, idempotency: idempotencyStore,
		gate: gate, enricher: enr, rules: rules, validator: validator, approval: approvalSvc,
		stateMachine: sm, blotters: blotters, retry: retry, publisher: pub, dlqSink: dlqSink,
		jobs: jobs, tracer: otel.Tracer("tradecapture/pipeline"), elapsedHist: elapsedHist, logger: logger,
	}
}

// Execute runs the full 16-step algorithm of §4.7 for one request. jobID
// is empty unless this execution corresponds to a tracked async job.
func (p *Pipeline) Execute(ctx context.Context, req *model.TradeCaptureRequest, jobID string) Result {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("trade.id", req.TradeID),
		attribute.String("partition.key", req.PartitionKey()),
	))
	defer func() {
		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int64("elapsed_millis", elapsed.Milliseconds()))
		p.elapsedHist.Record(ctx, elapsed.Milliseconds(),
			metric.WithAttributes(attribute.String("trade.id", req.TradeID)))
		span.End()
	}()

	result := p.execute(ctx, req, jobID)

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	if result.Blotter != nil {
		result.Blotter.ProcessingMetadata.ElapsedMillis = time.Since(start).Milliseconds()
	}
	return result
}

// execute runs the body of the §4.7 algorithm; split from Execute so the
// tracing/metrics wrapper above always sees the final Result regardless
// of which step returns early.
func (p *Pipeline) execute(ctx context.Context, req *model.TradeCaptureRequest, jobID string) Result {
	partitionKey := req.PartitionKey()
	idemKey := req.IdempotencyRecordKey()

	// Step 1: rate limit.
	allowed, err := p.rateLimiter.Allow(ctx, partitionKey)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	if !allowed {
		return Result{Outcome: OutcomeRateLimited}
	}

	// Step 2: acquire partition lock.
	handle, err := p.locker.Acquire(ctx, partitionKey, p.cfg.LockWaitTimeout, p.cfg.LockHoldTTL)
	if err != nil {
		return Result{Outcome: OutcomeLockFailed, Err: err}
	}
	defer func() {
		if releaseErr := p.locker.Release(ctx, handle); releaseErr != nil {
			p.logger.Warn("failed to release partition lock",
				logging.NewFields().Component("pipeline").PartitionKey(partitionKey).Error(releaseErr).ToZap()...)
		}
	}()

	// Step 3: idempotency probe.
	probe, err := p.idempotency.Probe(ctx, idemKey)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	switch probe.Status {
	case model.IdempotencyCompleted:
		if probe.PayloadHash != "" && probe.PayloadHash != hashPayload(req) {
			return Result{Outcome: OutcomeDuplicatePayload, Err: apperrors.NewDuplicatePayloadError(idemKey)}
		}
		blotter, getErr := p.blotters.Get(ctx, probe.ResultRef)
		if getErr != nil {
			return Result{Outcome: OutcomeFailed, Err: getErr}
		}
		return Result{Outcome: OutcomeCompleted, Blotter: blotter, Duplicate: true}
	case model.IdempotencyProcessing:
		return Result{Outcome: OutcomePending}
	}

	// Step 4: sequence gate.
	admission := p.gate.Admit(partitionKey, req)
	switch admission.Decision {
	case sequence.DecisionBuffered:
		return Result{Outcome: OutcomeBuffered}
	case sequence.DecisionOutOfOrderOld, sequence.DecisionGapTooLarge:
		p.emitDLQ(ctx, req, dlq.StageSequence, admission.Err)
		return Result{Outcome: OutcomeFailed, Err: admission.Err}
	}

	// DecisionDeliver/DecisionBypass may hand back more than the
	// triggering request itself: a delivered arrival can drain a run of
	// buffered successors, and every one of them must be processed in
	// order before Execute returns its own result.
	var last Result
	for i, ready := range admission.Ready {
		last = p.process(ctx, ready, ready.PartitionKey(), ready.IdempotencyRecordKey(), jobID)
		if i < len(admission.Ready)-1 && last.Outcome != OutcomeCompleted {
			p.logger.Warn("drained successor failed to complete, continuing with the remainder",
				logging.NewFields().Component("pipeline").PartitionKey(partitionKey).Custom("outcome", last.Outcome).ToZap()...)
		}
	}
	return last
}

// process runs steps 5-16 for one admitted request.
func (p *Pipeline) process(ctx context.Context, req *model.TradeCaptureRequest, partitionKey, idemKey, jobID string) Result {
	payloadHash := hashPayload(req)
	// Step 5: claim idempotency record.
	if err := p.idempotency.Claim(ctx, idemKey, partitionKey, payloadHash); err != nil {
		if err == idempotency.ErrAlreadyExists {
			return Result{Outcome: OutcomePending}
		}
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	if jobID != "" {
		if err := p.jobs.Transition(ctx, jobID, model.JobProcessing, 0, "", ""); err != nil {
			p.logger.Warn("failed to mark tracked job processing",
				logging.NewFields().Component("pipeline").Custom("jobId", jobID).Error(err).ToZap()...)
		}
	}

	// Step 6: enrich, outside any transaction.
	enrichment := p.enricher.Enrich(ctx, req)

	// Step 7: build the initial working blotter.
	blotter := buildBlotter(req, enrichment)

	// Step 8: apply rules.
	rulesApplied, err := p.rules.Evaluate(ctx, req, blotter)
	if err != nil {
		return p.fail(ctx, idemKey, jobID, blotter, err)
	}
	blotter.ProcessingMetadata.RulesApplied = rulesApplied

	// Step 9: validate.
	if err := p.validator.Validate(ctx, req, enrichment.Fields); err != nil {
		return p.reject(ctx, idemKey, jobID, blotter, err)
	}

	// Step 10: approval.
	if blotter.WorkflowStatus == model.WorkflowPendingApproval {
		decision, err := p.approval.Decide(ctx, blotter)
		if err != nil {
			return p.fail(ctx, idemKey, jobID, blotter, err)
		}
		switch decision {
		case model.WorkflowApproved:
			blotter.WorkflowStatus = model.WorkflowApproved
		case model.WorkflowRejected:
			return p.reject(ctx, idemKey, jobID, blotter, apperrors.NewValidationError("approval service rejected the trade"))
		default:
			return Result{Outcome: OutcomePendingApproval, Blotter: blotter}
		}
	}

	// Step 11: state transition, wrapped by the retry supervisor for
	// deadlock-aware fresh-transaction retry. A capture that reaches this
	// point has cleared validation and any approval gate, so it runs the
	// full scenario-1 happy path: none→Executed→Formed.
	blotter.State = model.StateFormed
	newBlob, err := json.Marshal(blotter)
	if err != nil {
		return p.fail(ctx, idemKey, jobID, blotter, err)
	}
	if err := p.transitionState(ctx, partitionKey, newBlob, req); err != nil {
		return p.fail(ctx, idemKey, jobID, blotter, err)
	}

	// Step 12: persist the blotter.
	if err := p.retry.Run(ctx, "persist-blotter", func(ctx context.Context, tx *sqlx.Tx) error {
		return p.blotters.Persist(ctx, tx, blotter)
	}); err != nil {
		return p.fail(ctx, idemKey, jobID, blotter, err)
	}

	// Step 13: finalize idempotency.
	if err := p.retry.Run(ctx, "finalize-idempotency", func(ctx context.Context, _ *sqlx.Tx) error {
		return p.idempotency.MarkCompleted(ctx, idemKey, req.TradeID, payloadHash)
	}); err != nil {
		return p.fail(ctx, idemKey, jobID, blotter, err)
	}

	// Step 14: publish asynchronously, outside any transaction.
	go p.publisher.Publish(context.Background(), blotter)

	// Step 16: update the tracked job, if any.
	if jobID != "" {
		if err := p.jobs.Transition(ctx, jobID, model.JobCompleted, 100, req.TradeID, ""); err != nil {
			p.logger.Warn("failed to finalize tracked job",
				logging.NewFields().Component("pipeline").Custom("jobId", jobID).Error(err).ToZap()...)
		}
	}

	return Result{Outcome: OutcomeCompleted, Blotter: blotter}
}

// transitionState implements §4.7 step 11: drives a partition through
// scenario 1's happy-path edges, none→Executed→Formed, in one
// retry-wrapped transaction. A partition on its first arrival takes
// both edges back to back; a partition already sitting at Executed
// (e.g. a prior attempt failed between the two edges) only takes the
// second. A partition already at or past Formed is left alone — the
// §3 DAG has no self-loop, so a repeat capture against an
// already-Formed partition is treated as a blob/sequence refresh
// rather than a new transition.
func (p *Pipeline) transitionState(ctx context.Context, partitionKey string, newBlob []byte, req *model.TradeCaptureRequest) error {
	current, err := p.stateMachine.Read(ctx, partitionKey)
	if err != nil {
		return err
	}

	var lastSeq int64
	if req.SequenceNumber != nil {
		lastSeq = *req.SequenceNumber
	}

	return p.retry.Run(ctx, "state-transition", func(ctx context.Context, tx *sqlx.Tx) error {
		state, version := current.PositionState, current.Version
		if version == 0 {
			v, err := p.stateMachine.Transition(ctx, tx, partitionKey, "", model.StateExecuted, newBlob, 0, lastSeq)
			if err != nil {
				return err
			}
			state, version = model.StateExecuted, v
		}
		if state != model.StateExecuted {
			return nil
		}
		_, err := p.stateMachine.Transition(ctx, tx, partitionKey, model.StateExecuted, model.StateFormed, newBlob, version, lastSeq)
		return err
	})
}

func (p *Pipeline) fail(ctx context.Context, idemKey, jobID string, blotter *model.SwapBlotter, cause error) Result {
	if err := p.idempotency.MarkFailed(ctx, idemKey, cause.Error()); err != nil {
		p.logger.Error("failed to mark idempotency record failed",
			logging.NewFields().Component("pipeline").Custom("key", idemKey).Error(err).ToZap()...)
	}
	p.finalizeJob(ctx, jobID, cause)
	return Result{Outcome: OutcomeFailed, Blotter: blotter, Err: cause}
}

func (p *Pipeline) reject(ctx context.Context, idemKey, jobID string, blotter *model.SwapBlotter, cause error) Result {
	blotter.WorkflowStatus = model.WorkflowRejected
	if err := p.idempotency.MarkFailed(ctx, idemKey, cause.Error()); err != nil {
		p.logger.Error("failed to mark idempotency record failed",
			logging.NewFields().Component("pipeline").Custom("key", idemKey).Error(err).ToZap()...)
	}
	p.finalizeJob(ctx, jobID, cause)
	return Result{Outcome: OutcomeRejected, Blotter: blotter, Err: cause}
}

// finalizeJob transitions a tracked async job to FAILED, firing its
// webhook callback; a no-op when this execution has no associated job.
func (p *Pipeline) finalizeJob(ctx context.Context, jobID string, cause error) {
	if jobID == "" {
		return
	}
	if err := p.jobs.Transition(ctx, jobID, model.JobFailed, 100, "", cause.Error()); err != nil {
		p.logger.Warn("failed to finalize failed tracked job",
			logging.NewFields().Component("pipeline").Custom("jobId", jobID).Error(err).ToZap()...)
	}
}

func (p *Pipeline) emitDLQ(ctx context.Context, req *model.TradeCaptureRequest, stage dlq.Stage, cause error) {
	payload, _ := json.Marshal(req)
	errClass := "unknown"
	errMessage := ""
	if cause != nil {
		errClass = string(apperrors.GetType(cause))
		errMessage = cause.Error()
	}
	if err := p.dlqSink.Emit(ctx, dlq.Entry{
		Payload: payload, Stage: stage, ErrorClass: errClass, ErrorMessage: errMessage,
		Timestamp: time.Now(), PartitionKey: req.PartitionKey(), TradeID: req.TradeID,
	}); err != nil {
		p.logger.Error("failed to emit to DLQ",
			logging.NewFields().Component("pipeline").TradeID(req.TradeID).Error(err).ToZap()...)
	}
}

func buildBlotter(req *model.TradeCaptureRequest, enrichment enricher.Result) *model.SwapBlotter {
	return &model.SwapBlotter{
		TradeID:          req.TradeID,
		PartitionKey:     req.PartitionKey(),
		TradeLots:        req.TradeLots,
		State:            model.StateExecuted,
		EnrichmentStatus: enrichment.Status,
		WorkflowStatus:   model.WorkflowApproved,
		Contract: model.Contract{
			Identifiers: map[string]string{"securityId": req.SecurityID},
		},
		ProcessingMetadata: model.ProcessingMetadata{
			ProcessedAt:       time.Now(),
			EnrichmentSources: enrichment.Sources,
		},
	}
}

func hashPayload(req *model.TradeCaptureRequest) string {
	blob, err := json.Marshal(req)
	if err != nil {
		return req.TradeID
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
