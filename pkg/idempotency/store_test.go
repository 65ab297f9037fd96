package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

func TestIdempotency(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Idempotency Store Suite")
}

var _ = Describe("Store", func() {
	var (
		ctx       context.Context
		db        *sqlx.DB
		mock      sqlmock.Sqlmock
		miniRedis *miniredis.Miniredis
		cache     *redis.Client
		store     *Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL

		miniRedis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		cache = redis.NewClient(&redis.Options{Addr: miniRedis.Addr()})

		store = New(db, cache, zap.NewNop(), 24*time.Hour, 12*time.Hour)
	})

	AfterEach(func() {
		_ = cache.Close()
		miniRedis.Close()
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("Claim", func() {
		It("should insert a PROCESSING record", func() {
			mock.ExpectExec("INSERT INTO idempotency_record").
				WithArgs("T-1", "A_B_SEC1", model.IdempotencyProcessing, "hash1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := store.Claim(ctx, "T-1", "A_B_SEC1", "hash1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return ErrAlreadyExists on a unique violation", func() {
			mock.ExpectExec("INSERT INTO idempotency_record").
				WithArgs("T-1", "A_B_SEC1", model.IdempotencyProcessing, "hash1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnError(&fakePgError{code: "23505"})

			err := store.Claim(ctx, "T-1", "A_B_SEC1", "hash1")
			Expect(err).To(MatchError(ErrAlreadyExists))
		})

		It("should wrap other database errors", func() {
			mock.ExpectExec("INSERT INTO idempotency_record").
				WithArgs("T-1", "A_B_SEC1", model.IdempotencyProcessing, "hash1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnError(errors.New("connection reset"))

			err := store.Claim(ctx, "T-1", "A_B_SEC1", "hash1")
			Expect(err).To(HaveOccurred())
			Expect(err).NotTo(MatchError(ErrAlreadyExists))
		})
	})

	Describe("Probe", func() {
		It("should return an empty status when neither cache nor store has the key", func() {
			rows := sqlmock.NewRows([]string{"key", "partition_key", "status", "result_ref", "payload_hash", "fail_reason", "created_at", "updated_at", "expires_at"})
			mock.ExpectQuery("SELECT (.+) FROM idempotency_record").WithArgs("T-9").WillReturnRows(rows)

			result, err := store.Probe(ctx, "T-9")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(BeEmpty())
		})

	})

	Describe("MarkCompleted", func() {
		It("should update the durable record and promote the cache", func() {
			mock.ExpectExec("UPDATE idempotency_record SET").
				WithArgs("T-1", model.IdempotencyCompleted, "blotter-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.MarkCompleted(ctx, "T-1", "blotter-1", "hash-1")).To(Succeed())

			result, err := store.Probe(ctx, "T-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(model.IdempotencyCompleted))
		})

		It("should serve the payload hash from cache without a DB round trip", func() {
			mock.ExpectExec("UPDATE idempotency_record SET").
				WithArgs("T-1", model.IdempotencyCompleted, "blotter-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.MarkCompleted(ctx, "T-1", "blotter-1", "hash-1")).To(Succeed())

			result, err := store.Probe(ctx, "T-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.PayloadHash).To(Equal("hash-1"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("MarkFailed", func() {
		It("should update the durable record with a fail reason", func() {
			mock.ExpectExec("UPDATE idempotency_record SET").
				WithArgs("T-1", model.IdempotencyFailed, "validation error", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.MarkFailed(ctx, "T-1", "validation error")).To(Succeed())
		})
	})
})

type fakePgError struct{ code string }

func (e *fakePgError) Error() string    { return "pg error " + e.code }
func (e *fakePgError) SQLState() string { return e.code }
