package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// WebhookSubscriber POSTs the blotter as JSON to a fixed URL, retrying
// 5xx responses and network errors per §4.8's 3-attempt/1s,2s schedule;
// 4xx responses are not retried.
type WebhookSubscriber struct {
	name    string
	url     string
	client  *http.Client
	backoff []time.Duration
}

func NewWebhookSubscriber(name, url string) *WebhookSubscriber {
	return &WebhookSubscriber{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		backoff: backoffSchedule,
	}
}

func (s *WebhookSubscriber) Name() string { return s.name }

func (s *WebhookSubscriber) Publish(ctx context.Context, blotter *model.SwapBlotter) error {
	payload, err := json.Marshal(blotter)
	if err != nil {
		return err
	}

	attempts := len(s.backoff) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.backoff[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.attempt(ctx, payload)
		if lastErr == nil {
			return nil
		}
		if httpErr, ok := lastErr.(*statusError); ok && httpErr.status >= 400 && httpErr.status < 500 {
			return lastErr
		}
	}
	return lastErr
}

func (s *WebhookSubscriber) attempt(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}
	return nil
}

type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("webhook responded with status %d", e.status) }
