package blotterstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

func TestBlotterStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Blotter Store Suite")
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
		store *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		store = New(db)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("Persist", func() {
		It("inserts the blotter inside the caller's transaction", func() {
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO swap_blotter").
				WithArgs("T-1", "A_B_S1", sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()

			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Persist(ctx, tx, &model.SwapBlotter{TradeID: "T-1", PartitionKey: "A_B_S1"})).To(Succeed())
			Expect(tx.Commit()).To(Succeed())
		})
	})

	Describe("Get", func() {
		It("decodes a previously persisted blotter", func() {
			blob, err := json.Marshal(&model.SwapBlotter{TradeID: "T-1", PartitionKey: "A_B_S1"})
			Expect(err).NotTo(HaveOccurred())

			rows := sqlmock.NewRows([]string{"blob"}).AddRow(blob)
			mock.ExpectQuery("SELECT blob FROM swap_blotter").WithArgs("T-1").WillReturnRows(rows)

			blotter, err := store.Get(ctx, "T-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(blotter.TradeID).To(Equal("T-1"))
		})

		It("returns a not-found error when no row matches", func() {
			mock.ExpectQuery("SELECT blob FROM swap_blotter").WithArgs("missing").WillReturnError(sql.ErrNoRows)

			_, err := store.Get(ctx, "missing")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})
	})
})
