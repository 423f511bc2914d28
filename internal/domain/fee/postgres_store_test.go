package fee

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockFeeStore(t *testing.T) (*PostgresFeeStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewPostgresFeeStore(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestPostgresFeeStore_Get(t *testing.T) {
	store, mock := newMockFeeStore(t)
	paidAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM school_fees\s+WHERE id = \$1`).
		WithArgs("fee-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "amount", "recipient_id", "created_at"}).
			AddRow("fee-1", "Term 1", int64(3000), "bursar", paidAt))
	mock.ExpectQuery(`FROM school_fee_payments\s+WHERE fee_id = \$1`).
		WithArgs("fee-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "transaction_id", "paid_at"}).
			AddRow("student", "t1", paidAt))

	f, err := store.Get(context.Background(), "fee-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), f.Amount)
	assert.True(t, f.PaidBy("student"))
	assert.Equal(t, "t1", f.Payments["student"].TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFeeStore_GetNotFound(t *testing.T) {
	store, mock := newMockFeeStore(t)

	mock.ExpectQuery(`FROM school_fees`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrFeeNotFound)
}

func TestPostgresFeeStore_RecordPaymentDuplicate(t *testing.T) {
	store, mock := newMockFeeStore(t)

	mock.ExpectExec(`INSERT INTO school_fee_payments`).
		WithArgs("fee-1", "student", "t2", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: sqlStateUniqueViolation})

	err := store.RecordPayment(context.Background(), "fee-1", "student", Payment{TransactionID: "t2", PaidAt: time.Now()})
	require.ErrorIs(t, err, ErrAlreadyPaid)
	require.NoError(t, mock.ExpectationsWereMet())
}
