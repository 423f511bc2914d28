package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const defaultQueryTimeout = 3 * time.Second

const (
	sqlStateUniqueViolation = "23505"
	sqlStateCheckViolation  = "23514"

	constraintPendingPerOrder = "wallet_transactions_one_pending_per_order"
	constraintPendingPerUser  = "pin_reset_requests_one_pending_per_user"
)

const txColumns = `id, wallet_user_id, type, amount, description, status, method, recipient, order_id, fee_id, created_at`

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps wallets and transactions in PostgreSQL. Each unit is
// a READ COMMITTED transaction; wallet rows and pending holds are taken
// with SELECT ... FOR UPDATE so concurrent units on the same wallet or
// order serialize on the row lock.
type PostgresStore struct {
	db       *sqlx.DB
	currency string
	timeout  time.Duration
}

func NewPostgresStore(db *sqlx.DB, currency string, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &PostgresStore{db: db, currency: currency, timeout: timeout}
}

// Migrate creates the ledger tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: migrate ledger schema: %v", ErrInternal, err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrInternal, err)
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx, currency: s.currency, timeout: s.timeout}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", ErrInternal, err)
	}
	return nil
}

type postgresTx struct {
	tx       *sqlx.Tx
	currency string
	timeout  time.Duration
}

// query bounds one store call.
func (t *postgresTx) query(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	return context.WithTimeout(ctx, t.timeout)
}

func pqError(err error) *pq.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr
	}
	return nil
}

func (t *postgresTx) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, currency)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, t.currency); err != nil {
		return nil, fmt.Errorf("%w: ensure wallet: %v", ErrInternal, err)
	}

	var w Wallet
	err := t.tx.GetContext(ctx, &w, `
		SELECT user_id, balance, currency, pin_hash, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: lock wallet: %v", ErrInternal, err)
	}
	return &w, nil
}

func (t *postgresTx) SetBalance(ctx context.Context, userID string, balance int64) error {
	ctx, cancel := t.query(ctx)
	defer cancel()

	_, err := t.tx.ExecContext(ctx, `UPDATE wallets SET balance = $1, updated_at = now() WHERE user_id = $2`, balance, userID)
	if err != nil {
		if pqErr := pqError(err); pqErr != nil && pqErr.Code == sqlStateCheckViolation {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("%w: update balance: %v", ErrInternal, err)
	}
	return nil
}

func (t *postgresTx) SetPinHash(ctx context.Context, userID string, hash *string) error {
	ctx, cancel := t.query(ctx)
	defer cancel()

	_, err := t.tx.ExecContext(ctx, `UPDATE wallets SET pin_hash = $1, updated_at = now() WHERE user_id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("%w: update pin hash: %v", ErrInternal, err)
	}
	return nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	ctx, cancel := t.query(ctx)
	defer cancel()

	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tr.ID, tr.WalletUserID, string(tr.Type), tr.Amount, tr.Description, string(tr.Status),
		tr.Method, tr.Recipient, tr.OrderID, tr.FeeID, tr.Timestamp)
	if err != nil {
		if pqErr := pqError(err); pqErr != nil && pqErr.Code == sqlStateUniqueViolation && pqErr.Constraint == constraintPendingPerOrder {
			return ErrDuplicateHold
		}
		return fmt.Errorf("%w: insert transaction: %v", ErrInternal, err)
	}
	return nil
}

func (t *postgresTx) getTransaction(ctx context.Context, notFound error, query string, args ...interface{}) (*Transaction, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	var tr Transaction
	err := t.tx.GetContext(ctx, &tr, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", ErrInternal, err)
	}
	return &tr, nil
}

func (t *postgresTx) Transaction(ctx context.Context, id string) (*Transaction, error) {
	return t.getTransaction(ctx, ErrTransactionNotFound,
		`SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1`, id)
}

func (t *postgresTx) PendingByOrder(ctx context.Context, orderID string) (*Transaction, error) {
	return t.getTransaction(ctx, ErrHoldNotFound, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE order_id = $1 AND status = 'pending'
		FOR UPDATE
	`, orderID)
}

func (t *postgresTx) LatestByOrder(ctx context.Context, orderID string) (*Transaction, error) {
	return t.getTransaction(ctx, ErrHoldNotFound, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE order_id = $1 AND amount < 0
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID)
}

func (t *postgresTx) SetTransactionStatus(ctx context.Context, id string, from, to Status) error {
	ctx, cancel := t.query(ctx)
	defer cancel()

	result, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET status = $3
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("%w: update transaction status: %v", ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (t *postgresTx) HeldAmount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	var held int64
	err := t.tx.GetContext(ctx, &held, `
		SELECT COALESCE(SUM(ABS(amount)), 0)
		FROM wallet_transactions
		WHERE wallet_user_id = $1
		  AND status = 'pending'
		  AND type IN ('payment', 'fee-payment')
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: held amount: %v", ErrInternal, err)
	}
	return held, nil
}

func (t *postgresTx) ListTransactions(ctx context.Context, f Filter) ([]Transaction, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	base := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE 1=1`
	args := make([]interface{}, 0, 10)
	idx := 1

	if f.UserID != "" {
		base += fmt.Sprintf(" AND wallet_user_id = $%d", idx)
		args = append(args, f.UserID)
		idx++
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, typ := range f.Types {
			types[i] = string(typ)
		}
		base += fmt.Sprintf(" AND type = ANY($%d)", idx)
		args = append(args, pq.Array(types))
		idx++
	}
	if f.Status != nil {
		base += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(*f.Status))
		idx++
	}
	if f.OrderID != nil {
		base += fmt.Sprintf(" AND order_id = $%d", idx)
		args = append(args, *f.OrderID)
		idx++
	}
	if f.FeeID != nil {
		base += fmt.Sprintf(" AND fee_id = $%d", idx)
		args = append(args, *f.FeeID)
		idx++
	}
	if f.DateFrom != nil {
		base += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		base += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *f.DateTo)
		idx++
	}

	order := "created_at"
	if f.SortBy == SortByAmount {
		order = "ABS(amount)"
	}
	dir := "DESC"
	if f.Asc {
		dir = "ASC"
	}
	base = strings.TrimSpace(base) + fmt.Sprintf(" ORDER BY %s %s, id", order, dir)

	if f.Limit > 0 {
		base += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	if f.Offset > 0 {
		base += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, f.Offset)
	}

	transactions := make([]Transaction, 0)
	if err := t.tx.SelectContext(ctx, &transactions, base, args...); err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", ErrInternal, err)
	}
	return transactions, nil
}

func (t *postgresTx) InsertPinReset(ctx context.Context, r *PinResetRequest) error {
	ctx, cancel := t.query(ctx)
	defer cancel()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pin_reset_requests (id, user_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, r.ID, r.UserID, string(r.Status), r.Timestamp)
	if err != nil {
		if pqErr := pqError(err); pqErr != nil && pqErr.Code == sqlStateUniqueViolation && pqErr.Constraint == constraintPendingPerUser {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("%w: insert pin reset: %v", ErrInternal, err)
	}
	return nil
}

func (t *postgresTx) PinReset(ctx context.Context, id string) (*PinResetRequest, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	var r PinResetRequest
	err := t.tx.GetContext(ctx, &r, `
		SELECT id, user_id, status, created_at, completed_at
		FROM pin_reset_requests
		WHERE id = $1
		FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get pin reset: %v", ErrInternal, err)
	}
	return &r, nil
}

func (t *postgresTx) PendingPinReset(ctx context.Context, userID string) (*PinResetRequest, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	var r PinResetRequest
	err := t.tx.GetContext(ctx, &r, `
		SELECT id, user_id, status, created_at, completed_at
		FROM pin_reset_requests
		WHERE user_id = $1 AND status = 'pending'
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: pending pin reset: %v", ErrInternal, err)
	}
	return &r, nil
}

func (t *postgresTx) ListPendingPinResets(ctx context.Context) ([]PinResetRequest, error) {
	ctx, cancel := t.query(ctx)
	defer cancel()

	out := make([]PinResetRequest, 0)
	err := t.tx.SelectContext(ctx, &out, `
		SELECT id, user_id, status, created_at, completed_at
		FROM pin_reset_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list pin resets: %v", ErrInternal, err)
	}
	return out, nil
}

func (t *postgresTx) CompletePinReset(ctx context.Context, id string) error {
	ctx, cancel := t.query(ctx)
	defer cancel()

	result, err := t.tx.ExecContext(ctx, `
		UPDATE pin_reset_requests
		SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("%w: complete pin reset: %v", ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		if _, err := t.PinReset(ctx, id); err != nil {
			return err
		}
		return ErrRequestNotPending
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
