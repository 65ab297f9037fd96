package restapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/pipeline"
)

type captureResponse struct {
	TradeID        string               `json:"tradeId"`
	PartitionKey   string               `json:"partitionKey"`
	Status         pipeline.Outcome     `json:"status"`
	WorkflowStatus model.WorkflowStatus `json:"workflowStatus,omitempty"`
}

type asyncAcceptedResponse struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

// captureTrade implements POST /trades/capture. Mode is chosen by the
// caller: supplying X-Callback-Url (or ?async=true) requests async
// handling, tracked as a C14 job and answered with 202; otherwise the
// request blocks for the synchronous §4.7 result.
func (h *handler) captureTrade(w http.ResponseWriter, r *http.Request) {
	var req model.TradeCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	if err := req.Validate(); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	callbackURL := r.Header.Get("X-Callback-Url")
	async := callbackURL != "" || r.URL.Query().Get("async") == "true"

	if async {
		jobID, err := h.deps.Jobs.Create(r.Context(), req.TradeID, callbackURL)
		if err != nil {
			writeError(w, err)
			return
		}
		// Execute outlives the request, so it gets a background context
		// rather than r.Context() (cancelled the instant this handler
		// returns its 202), mirroring the Pipeline's own step-14 publish.
		go h.deps.Pipeline.Execute(context.Background(), &req, jobID)

		writeJSON(w, http.StatusAccepted, asyncAcceptedResponse{
			JobID:     jobID,
			StatusURL: "/trades/jobs/" + jobID + "/status",
		})
		return
	}

	result := h.deps.Pipeline.Execute(r.Context(), &req, "")
	h.writeCaptureResult(w, &req, result)
}

func (h *handler) writeCaptureResult(w http.ResponseWriter, req *model.TradeCaptureRequest, result pipeline.Result) {
	switch result.Outcome {
	case pipeline.OutcomeCompleted:
		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		resp := captureResponse{TradeID: req.TradeID, PartitionKey: req.PartitionKey(), Status: result.Outcome}
		if result.Blotter != nil {
			resp.WorkflowStatus = result.Blotter.WorkflowStatus
		}
		writeJSON(w, status, resp)
	case pipeline.OutcomePendingApproval, pipeline.OutcomeBuffered, pipeline.OutcomePending:
		writeJSON(w, http.StatusAccepted, captureResponse{TradeID: req.TradeID, PartitionKey: req.PartitionKey(), Status: result.Outcome})
	case pipeline.OutcomeDuplicatePayload:
		writeError(w, result.Err)
	case pipeline.OutcomeRateLimited:
		writeError(w, apperrors.New(apperrors.ErrorTypeRateLimit, "rate limit exceeded"))
	case pipeline.OutcomeLockFailed:
		writeError(w, apperrors.New(apperrors.ErrorTypeLockTimeout, "partition lock unavailable"))
	case pipeline.OutcomeRejected:
		writeError(w, result.Err)
	default:
		if result.Err != nil {
			writeError(w, result.Err)
			return
		}
		writeError(w, apperrors.New(apperrors.ErrorTypeInternal, "unexpected pipeline outcome"))
	}
}

// jobStatus implements GET /trades/jobs/{jobId}/status.
func (h *handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := h.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// cancelJob implements DELETE /trades/jobs/{jobId}; the store enforces
// that only a still-PENDING job may be cancelled.
func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.deps.Jobs.Cancel(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
