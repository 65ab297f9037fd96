package restapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
)

type backpressureStatusResponse struct {
	InFlight int64 `json:"inFlight"`
	Capacity int64 `json:"capacity"`
}

// backpressureStatus implements GET /backpressure/status.
func (h *handler) backpressureStatus(w http.ResponseWriter, r *http.Request) {
	inFlight, capacity := h.deps.Admission.Occupancy()
	writeJSON(w, http.StatusOK, backpressureStatusResponse{InFlight: inFlight, Capacity: capacity})
}

type rateLimitStatusResponse struct {
	PartitionKey string  `json:"partitionKey"`
	Tokens       float64 `json:"tokensRemaining"`
	Capacity     float64 `json:"capacity"`
}

// rateLimitStatus implements GET /rate-limit/status/{partitionKey}.
func (h *handler) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	partitionKey := chi.URLParam(r, "partitionKey")
	tokens, capacity, err := h.deps.RateLimiter.PartitionStatus(r.Context(), partitionKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitStatusResponse{PartitionKey: partitionKey, Tokens: tokens, Capacity: capacity})
}

type consumerGroupStatusResponse struct {
	ConsumerGroup string `json:"consumerGroup"`
	Paused        bool   `json:"paused"`
}

// consumerGroupStatus implements GET /consumer-groups/status.
func (h *handler) consumerGroupStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Consumer == nil {
		writeError(w, apperrors.New(apperrors.ErrorTypeDependencyDown, "consumer manager not attached"))
		return
	}
	writeJSON(w, http.StatusOK, consumerGroupStatusResponse{
		ConsumerGroup: h.deps.ConsumerGroup,
		Paused:        h.deps.Consumer.Paused(),
	})
}

// sequenceBufferStatus implements GET /sequence-buffer/status.
func (h *handler) sequenceBufferStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Gate.Status())
}
