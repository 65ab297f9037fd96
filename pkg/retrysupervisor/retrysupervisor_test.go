package retrysupervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
)

func TestRetrySupervisor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retry Supervisor Suite")
}

type fakeDeadlockError struct{}

func (fakeDeadlockError) Error() string    { return "deadlock detected" }
func (fakeDeadlockError) SQLState() string { return "40P01" }

var _ = Describe("Supervisor", func() {
	var (
		ctx  context.Context
		db   *sqlx.DB
		mock sqlmock.Sqlmock
		sup  *Supervisor
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		sup = New(db, Config{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 1.5}, zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("commits on the first attempt when the operation succeeds", func() {
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := sup.Run(ctx, "claim", func(ctx context.Context, tx *sqlx.Tx) error { return nil })
		Expect(err).NotTo(HaveOccurred())
	})

	It("retries in a fresh transaction after a deadlock and succeeds", func() {
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		attempt := 0
		err := sup.Run(ctx, "claim", func(ctx context.Context, tx *sqlx.Tx) error {
			attempt++
			if attempt == 1 {
				return fakeDeadlockError{}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt).To(Equal(2))
	})

	It("propagates a non-deadlock error immediately without retry", func() {
		mock.ExpectBegin()
		mock.ExpectRollback()

		attempt := 0
		err := sup.Run(ctx, "claim", func(ctx context.Context, tx *sqlx.Tx) error {
			attempt++
			return errors.New("validation failed")
		})
		Expect(err).To(HaveOccurred())
		Expect(attempt).To(Equal(1))
	})

	It("surfaces a terminal deadlock error after exhausting MaxAttempts", func() {
		for i := 0; i < 3; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		err := sup.Run(ctx, "claim", func(ctx context.Context, tx *sqlx.Tx) error {
			return fakeDeadlockError{}
		})
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeDeadlock) || errors.As(err, new(*apperrors.AppError))).To(BeTrue())
	})
})
