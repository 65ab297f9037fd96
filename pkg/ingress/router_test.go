package ingress

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/dlq"
)

func TestIngressRouter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ingress Router Suite")
}

type fakeProducer struct{ records []*kgo.Record }

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r}
	}
	return results
}

var _ = Describe("Router", func() {
	var (
		producer *fakeProducer
		sink     *dlq.Sink
		router   *Router
	)

	BeforeEach(func() {
		producer = &fakeProducer{}
		sink = dlq.New(producer, "trade/capture/router/dlq", time.Second, zap.NewNop())
		router = New(producer, "trade/capture/input", sink, zap.NewNop())
	})

	It("republishes to the sanitized per-partition sub-topic", func() {
		payload := []byte(`{"tradeId":"T-1","accountId":"A","bookId":"B","securityId":"S 1"}`)
		Expect(router.Route(context.Background(), payload)).To(Succeed())

		Expect(producer.records).To(HaveLen(1))
		Expect(producer.records[0].Topic).To(Equal("trade/capture/input/A_B_S_1"))
		Expect(producer.records[0].Key).To(Equal([]byte("A_B_S 1")))
	})

	It("dead-letters an undecodable payload", func() {
		Expect(router.Route(context.Background(), []byte("not json"))).To(Succeed())
		Expect(producer.records).To(HaveLen(1))
		Expect(producer.records[0].Topic).To(Equal("trade/capture/router/dlq"))
	})

	It("dead-letters a message with a missing partition key", func() {
		payload := []byte(`{"tradeId":"T-1"}`)
		Expect(router.Route(context.Background(), payload)).To(Succeed())
		Expect(producer.records).To(HaveLen(1))
		Expect(producer.records[0].Topic).To(Equal("trade/capture/router/dlq"))
	})
})
