package statemachine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

func TestStateMachine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "State Machine Suite")
}

type noopCache struct {
	invalidated []string
}

func (c *noopCache) Get(ctx context.Context, partitionKey string) (model.PartitionState, bool) {
	return model.PartitionState{}, false
}
func (c *noopCache) Set(ctx context.Context, partitionKey string, state model.PartitionState) {}
func (c *noopCache) Invalidate(ctx context.Context, partitionKey string) {
	c.invalidated = append(c.invalidated, partitionKey)
}

var _ = Describe("StateMachine", func() {
	var (
		ctx   context.Context
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
		cache *noopCache
		sm    *StateMachine
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		cache = &noopCache{}
		sm = New(db, cache, zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("Read", func() {
		It("returns a zero-version state on a cache and store miss", func() {
			rows := sqlmock.NewRows([]string{"partition_key", "position_state", "state_blob", "last_sequence_number", "version"})
			mock.ExpectQuery("SELECT (.+) FROM partition_state").WithArgs("P1").WillReturnRows(rows)

			state, err := sm.Read(ctx, "P1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Version).To(Equal(int64(0)))
			Expect(state.PositionState).To(BeEmpty())
		})
	})

	Describe("Transition", func() {
		It("rejects an illegal transition without touching the store", func() {
			mock.ExpectBegin()
			mock.ExpectRollback()

			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = sm.Transition(ctx, tx, "P1", model.StateSettled, model.StateExecuted, nil, 1, 5)
			Expect(apperrors.IsType(err, apperrors.ErrorTypeStateIllegal)).To(BeTrue())
			_ = tx.Rollback()
		})

		It("inserts the initial row for the creation edge", func() {
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO partition_state").
				WithArgs("P1", model.StateExecuted, []byte(nil), int64(5), int64(1)).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()

			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			version, err := sm.Transition(ctx, tx, "P1", "", model.StateExecuted, nil, 0, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(int64(1)))
			Expect(tx.Commit()).To(Succeed())
			Expect(cache.invalidated).To(ContainElement("P1"))
		})

		It("returns a conflict when the expected version no longer matches", func() {
			mock.ExpectBegin()
			mock.ExpectExec("UPDATE partition_state").
				WithArgs(model.StateFormed, []byte(nil), int64(7), int64(2), "P1", int64(1)).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectCommit()

			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = sm.Transition(ctx, tx, "P1", model.StateExecuted, model.StateFormed, nil, 1, 7)
			Expect(apperrors.IsType(err, apperrors.ErrorTypeStateConflict)).To(BeTrue())
			Expect(tx.Commit()).To(Succeed())
		})

		It("advances the version on a successful transition", func() {
			mock.ExpectBegin()
			mock.ExpectExec("UPDATE partition_state").
				WithArgs(model.StateFormed, []byte(nil), int64(7), int64(2), "P1", int64(1)).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			version, err := sm.Transition(ctx, tx, "P1", model.StateExecuted, model.StateFormed, nil, 1, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(int64(2)))
			Expect(tx.Commit()).To(Succeed())
		})
	})
})
