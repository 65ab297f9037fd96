package sequence

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

func TestSequence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sequence Gate Suite")
}

func seqReq(seq int64, booking time.Time) *model.TradeCaptureRequest {
	return &model.TradeCaptureRequest{
		TradeID:          "T-1",
		SequenceNumber:   &seq,
		BookingTimestamp: booking,
	}
}

var _ = Describe("Gate", func() {
	var (
		gate *Gate
		now  time.Time
	)

	BeforeEach(func() {
		now = time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
		gate = New(3, 300*time.Second, 7, zap.NewNop())
		gate.now = func() time.Time { return now }
	})

	It("bypasses the gate when no sequence number is present", func() {
		req := &model.TradeCaptureRequest{TradeID: "T-1", BookingTimestamp: now}
		result := gate.Admit("P1", req)
		Expect(result.Decision).To(Equal(DecisionBypass))
		Expect(result.Ready).To(ConsistOf(req))
	})

	It("bypasses the gate for a historical replay older than the time window", func() {
		old := now.AddDate(0, 0, -10)
		req := seqReq(1, old)
		result := gate.Admit("P1", req)
		Expect(result.Decision).To(Equal(DecisionBypass))
		Expect(result.Ready).To(ConsistOf(req))
	})

	It("delivers the next contiguous sequence immediately", func() {
		result := gate.Admit("P1", seqReq(1, now))
		Expect(result.Decision).To(Equal(DecisionDeliver))
		Expect(result.Ready).To(HaveLen(1))
	})

	It("buffers an out-of-order arrival and drains it once the gap fills", func() {
		first := gate.Admit("P1", seqReq(1, now))
		Expect(first.Decision).To(Equal(DecisionDeliver))

		buffered := gate.Admit("P1", seqReq(3, now))
		Expect(buffered.Decision).To(Equal(DecisionBuffered))
		Expect(buffered.Ready).To(BeEmpty())

		fill := gate.Admit("P1", seqReq(2, now))
		Expect(fill.Decision).To(Equal(DecisionDeliver))
		Expect(fill.Ready).To(HaveLen(2))
	})

	It("rejects a sequence at or before the last delivered as too old", func() {
		first := gate.Admit("P1", seqReq(1, now))
		Expect(first.Decision).To(Equal(DecisionDeliver))

		dup := gate.Admit("P1", seqReq(1, now))
		Expect(dup.Decision).To(Equal(DecisionOutOfOrderOld))
		Expect(dup.Err).To(HaveOccurred())
	})

	It("rejects a gap that exceeds the buffer window", func() {
		gate.Admit("P1", seqReq(2, now))
		gate.Admit("P1", seqReq(3, now))
		gate.Admit("P1", seqReq(4, now))

		overflow := gate.Admit("P1", seqReq(5, now))
		Expect(overflow.Decision).To(Equal(DecisionGapTooLarge))
		Expect(errors.IsType(overflow.Err, errors.ErrorTypeGapTooLarge)).To(BeTrue())
	})

	It("keeps partitions independent", func() {
		gate.Admit("P1", seqReq(1, now))
		result := gate.Admit("P2", seqReq(1, now))
		Expect(result.Decision).To(Equal(DecisionDeliver))
	})

	Describe("Sweep", func() {
		It("emits timed-out buffered messages to the DLQ and unblocks the partition", func() {
			gate.Admit("P1", seqReq(1, now))
			gate.Admit("P1", seqReq(3, now))

			now = now.Add(301 * time.Second)
			results := gate.Sweep()
			Expect(results).To(HaveLen(1))
			Expect(results[0].PartitionKey).To(Equal("P1"))
			Expect(results[0].Messages).To(HaveLen(1))
			Expect(results[0].Messages[0].SequenceNumber).To(Equal(int64(3)))

			next := gate.Admit("P1", seqReq(4, now))
			Expect(next.Decision).To(Equal(DecisionDeliver))
		})

		It("does nothing when no buffer has timed out", func() {
			gate.Admit("P1", seqReq(1, now))
			gate.Admit("P1", seqReq(3, now))

			now = now.Add(10 * time.Second)
			Expect(gate.Sweep()).To(BeEmpty())
		})
	})
})
