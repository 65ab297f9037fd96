package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// JobWebhookNotifier POSTs a job's terminal status to its caller-supplied
// callback URL, satisfying jobstore.WebhookNotifier. Failures are logged
// and otherwise swallowed: a webhook delivery failure must never affect
// the already-persisted job state (pkg/jobstore.Transition's contract).
type JobWebhookNotifier struct {
	client *http.Client
	logger *zap.Logger
}

func NewJobWebhookNotifier(logger *zap.Logger) *JobWebhookNotifier {
	return &JobWebhookNotifier{client: &http.Client{Timeout: 10 * time.Second}, logger: logger}
}

type jobCallbackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobCallbackPayload struct {
	JobID   string            `json:"jobId"`
	TradeID string            `json:"tradeId"`
	Status  model.JobState    `json:"status"`
	Result  string            `json:"result,omitempty"`
	Error   jobCallbackError  `json:"error"`
}

// NotifyJobStatus implements jobstore.WebhookNotifier. A nullable
// error.code/error.message in the source webhook format is always
// serialized as the literal "UNKNOWN" rather than omitted or null, per
// §9's Open Question resolution — some consumers reject a null in a
// typed collection constructor.
func (n *JobWebhookNotifier) NotifyJobStatus(ctx context.Context, callbackURL string, status model.JobStatus) {
	payload := jobCallbackPayload{
		JobID:   status.JobID,
		TradeID: status.TradeID,
		Status:  status.Status,
		Result:  status.ResultRef,
		Error:   jobCallbackError{Code: "UNKNOWN", Message: "UNKNOWN"},
	}
	if status.Status == model.JobFailed {
		payload.Error.Code = string(model.JobFailed)
		if status.Error != "" {
			payload.Error.Message = status.Error
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode job webhook payload",
			logging.NewFields().Component("restapi").Custom("jobId", status.JobID).Error(err).ToZap()...)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build job webhook request",
			logging.NewFields().Component("restapi").Custom("jobId", status.JobID).Error(err).ToZap()...)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("job webhook delivery failed",
			logging.NewFields().Component("restapi").Custom("jobId", status.JobID).Error(err).ToZap()...)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("job webhook rejected",
			logging.NewFields().Component("restapi").Custom("jobId", status.JobID).Custom("status", resp.StatusCode).ToZap()...)
	}
}
