package fee

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

//go:embed schema.sql
var schemaSQL string

type PostgresFeeStore struct {
	db *sqlx.DB
}

func NewPostgresFeeStore(db *sqlx.DB) *PostgresFeeStore {
	return &PostgresFeeStore{db: db}
}

// Migrate creates the fee tables if they do not exist.
func (s *PostgresFeeStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate fee schema: %w", err)
	}
	return nil
}

func (s *PostgresFeeStore) Create(ctx context.Context, f *Fee) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO school_fees (id, title, amount, recipient_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.Title, f.Amount, f.RecipientID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fee: %w", err)
	}
	return nil
}

type paymentRow struct {
	StudentID     string    `db:"student_id"`
	TransactionID string    `db:"transaction_id"`
	PaidAt        time.Time `db:"paid_at"`
}

func (s *PostgresFeeStore) Get(ctx context.Context, id string) (*Fee, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var f Fee
	err := s.db.GetContext(ctx, &f, `
		SELECT id, title, amount, recipient_id, created_at
		FROM school_fees
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fee: %w", err)
	}

	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT student_id, transaction_id, paid_at
		FROM school_fee_payments
		WHERE fee_id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("get fee payments: %w", err)
	}

	f.Payments = make(map[string]Payment, len(rows))
	for _, r := range rows {
		f.Payments[r.StudentID] = Payment{TransactionID: r.TransactionID, PaidAt: r.PaidAt}
	}
	return &f, nil
}

func (s *PostgresFeeStore) RecordPayment(ctx context.Context, feeID, studentID string, p Payment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO school_fee_payments (fee_id, student_id, transaction_id, paid_at)
		VALUES ($1, $2, $3, $4)
	`, feeID, studentID, p.TransactionID, p.PaidAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case sqlStateUniqueViolation:
				return ErrAlreadyPaid
			case sqlStateForeignKeyViolation:
				return ErrFeeNotFound
			}
		}
		return fmt.Errorf("record fee payment: %w", err)
	}
	return nil
}
