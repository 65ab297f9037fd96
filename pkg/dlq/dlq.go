// Package dlq implements C13: a single logical dead-letter sink shared by
// the router, consumer, and publisher failure paths.
package dlq

import (
	"context"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
)

// Stage names the pipeline stage that produced a dead-letter, per §4.13.
type Stage string

const (
	StageRouter    Stage = "ROUTER"
	StageConsumer  Stage = "CONSUMER"
	StagePublisher Stage = "PUBLISHER"
	StageSequence  Stage = "SEQUENCE"
)

// Entry is one dead-letter emission, carrying everything §4.13 requires:
// original payload, failure-stage tag, error class/message, timestamp,
// and routing metadata.
type Entry struct {
	Payload      []byte
	Stage        Stage
	ErrorClass   string
	ErrorMessage string
	Timestamp    time.Time
	PartitionKey string
	TradeID      string
}

// Producer is the narrow slice of *kgo.Client the Sink depends on, so
// tests can substitute a fake without a live broker.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Sink emits dead-letters to the bus, bounded by a short timeout so DLQ
// emission never blocks the producer path beyond it, per §4.13.
type Sink struct {
	producer Producer
	topic    string
	timeout  time.Duration
	logger   *zap.Logger
}

func New(producer Producer, topic string, timeout time.Duration, logger *zap.Logger) *Sink {
	return &Sink{producer: producer, topic: topic, timeout: timeout, logger: logger}
}

// Emit writes entry to the DLQ topic, keyed by partitionKey when present
// so diagnostics tooling can still group dead-letters per partition.
func (s *Sink) Emit(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic:   s.topic,
		Value:   entry.Payload,
		Headers: headersFor(entry),
	}
	if entry.PartitionKey != "" {
		record.Key = []byte(entry.PartitionKey)
	}

	result := s.producer.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		s.logger.Error("dlq emission failed",
			logging.NewFields().Component("dlq").Custom("stage", entry.Stage).
				TradeID(entry.TradeID).Error(err).ToZap()...)
		return err
	}

	s.logger.Warn("dead-lettered",
		logging.NewFields().Component("dlq").Custom("stage", entry.Stage).
			PartitionKey(entry.PartitionKey).TradeID(entry.TradeID).
			Custom("errorClass", entry.ErrorClass).ToZap()...)
	return nil
}

func headersFor(entry Entry) []kgo.RecordHeader {
	return []kgo.RecordHeader{
		{Key: "stage", Value: []byte(entry.Stage)},
		{Key: "errorClass", Value: []byte(entry.ErrorClass)},
		{Key: "errorMessage", Value: []byte(entry.ErrorMessage)},
		{Key: "timestamp", Value: []byte(entry.Timestamp.UTC().Format(time.RFC3339Nano))},
		{Key: "tradeId", Value: []byte(entry.TradeID)},
	}
}
