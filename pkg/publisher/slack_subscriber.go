package publisher

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// SlackOpsAlertSubscriber posts a message to an ops channel when a
// SwapBlotter lands in a state that needs human attention: REJECTED
// workflow outcomes or a non-COMPLETE enrichment status. It never fires
// on an otherwise-healthy publish, per the DOMAIN STACK's ops-alert
// assignment for this library.
type SlackOpsAlertSubscriber struct {
	name    string
	client  *slack.Client
	channel string
}

func NewSlackOpsAlertSubscriber(name, token, channel string) *SlackOpsAlertSubscriber {
	return &SlackOpsAlertSubscriber{name: name, client: slack.New(token), channel: channel}
}

func (s *SlackOpsAlertSubscriber) Name() string { return s.name }

func (s *SlackOpsAlertSubscriber) Publish(ctx context.Context, blotter *model.SwapBlotter) error {
	if !s.needsAlert(blotter) {
		return nil
	}

	text := fmt.Sprintf("trade %s (partition %s) needs attention: workflowStatus=%s enrichmentStatus=%s",
		blotter.TradeID, blotter.PartitionKey, blotter.WorkflowStatus, blotter.EnrichmentStatus)

	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	return err
}

func (s *SlackOpsAlertSubscriber) needsAlert(blotter *model.SwapBlotter) bool {
	return blotter.WorkflowStatus == model.WorkflowRejected || blotter.EnrichmentStatus != model.EnrichmentComplete
}
