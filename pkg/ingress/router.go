// Package ingress implements C9: consumes the single upstream topic and
// republishes each message to its per-partition sub-topic, named by the
// sanitized partition key and keyed by the unsanitized one.
package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/dlq"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// Producer is the narrow franz-go surface the router depends on.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Router implements C9's consume-then-republish loop.
type Router struct {
	producer         Producer
	inputTopicPrefix string
	dlq              *dlq.Sink
	logger           *zap.Logger
}

func New(producer Producer, inputTopicPrefix string, sink *dlq.Sink, logger *zap.Logger) *Router {
	return &Router{producer: producer, inputTopicPrefix: inputTopicPrefix, dlq: sink, logger: logger}
}

// Route decodes one upstream message and republishes it to
// `<inputTopicPrefix>/<sanitizedPartitionKey>`. A message with a missing
// or undecodable partitionKey is routed to the DLQ instead, per §4.9.
func (r *Router) Route(ctx context.Context, raw []byte) error {
	var req model.TradeCaptureRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return r.dlq.Emit(ctx, dlq.Entry{
			Payload: raw, Stage: dlq.StageRouter,
			ErrorClass: "undecodable_payload", ErrorMessage: err.Error(), Timestamp: time.Now(),
		})
	}

	partitionKey := req.PartitionKey()
	if req.AccountID == "" || req.BookID == "" || req.SecurityID == "" {
		return r.dlq.Emit(ctx, dlq.Entry{
			Payload: raw, Stage: dlq.StageRouter,
			ErrorClass: "missing_partition_key", ErrorMessage: "accountId/bookId/securityId required to derive partitionKey",
			Timestamp: time.Now(), TradeID: req.TradeID,
		})
	}

	sanitized := model.SanitizePartitionKey(partitionKey)
	topic := r.inputTopicPrefix + "/" + sanitized

	record := &kgo.Record{Topic: topic, Key: []byte(partitionKey), Value: raw}
	result := r.producer.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		r.logger.Error("failed to republish to sub-topic",
			logging.NewFields().Component("ingress").PartitionKey(partitionKey).Error(err).ToZap()...)
		return err
	}

	r.logger.Debug("routed to sub-topic",
		logging.NewFields().Component("ingress").PartitionKey(partitionKey).Custom("topic", topic).ToZap()...)
	return nil
}
