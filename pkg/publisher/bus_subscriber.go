package publisher

import (
	"context"
	"encoding/json"

	"github.com/twmb/franz-go/pkg/kgo"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// Producer is the narrow franz-go surface the bus subscriber depends on.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// BusSubscriber publishes a SwapBlotter, framed as JSON, to
// `<outputTopicPrefix>/<sanitizedPartitionKey>` keyed by the unsanitized
// partitionKey, per §4.8's
// persistent-delivery bus mode.
type BusSubscriber struct {
	name              string
	producer          Producer
	outputTopicPrefix string
}

func NewBusSubscriber(name string, producer Producer, outputTopicPrefix string) *BusSubscriber {
	return &BusSubscriber{name: name, producer: producer, outputTopicPrefix: outputTopicPrefix}
}

func (s *BusSubscriber) Name() string { return s.name }

func (s *BusSubscriber) Publish(ctx context.Context, blotter *model.SwapBlotter) error {
	payload, err := json.Marshal(blotter)
	if err != nil {
		return apperrors.NewValidationError("failed to serialize blotter for bus publish").WithDetailsf(err.Error())
	}

	record := &kgo.Record{
		Topic: s.outputTopicPrefix + "/" + model.SanitizePartitionKey(blotter.PartitionKey),
		Key:   []byte(blotter.PartitionKey),
		Value: payload,
	}
	result := s.producer.ProduceSync(ctx, record)
	return result.FirstErr()
}
