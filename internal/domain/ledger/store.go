package ledger

import (
	"context"
	"slices"
)

// Store is the single entry point to wallet, transaction and pin-reset
// persistence. All access, reads included, goes through WithTx so every
// operation sees its own writes and nothing else's partial state.
type Store interface {
	// WithTx runs fn as one unit. A non-nil error from fn discards every
	// write made through tx and is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit-of-work view of the store handed to WithTx callbacks.
type Tx interface {
	// Wallet returns the user's wallet, creating it with balance 0 on
	// first access. The wallet stays locked until the unit ends.
	Wallet(ctx context.Context, userID string) (*Wallet, error)
	SetBalance(ctx context.Context, userID string, balance int64) error
	SetPinHash(ctx context.Context, userID string, hash *string) error

	InsertTransaction(ctx context.Context, t *Transaction) error
	Transaction(ctx context.Context, id string) (*Transaction, error)
	// PendingByOrder returns the pending transaction for orderID or
	// ErrHoldNotFound.
	PendingByOrder(ctx context.Context, orderID string) (*Transaction, error)
	// LatestByOrder returns the most recent transaction for orderID in any
	// status or ErrHoldNotFound.
	LatestByOrder(ctx context.Context, orderID string) (*Transaction, error)
	// SetTransactionStatus moves id from -> to, failing with
	// ErrStatusConflict when the row is no longer in from.
	SetTransactionStatus(ctx context.Context, id string, from, to Status) error
	// HeldAmount sums |amount| of the user's pending payment and
	// fee-payment rows.
	HeldAmount(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, f Filter) ([]Transaction, error)

	InsertPinReset(ctx context.Context, r *PinResetRequest) error
	PinReset(ctx context.Context, id string) (*PinResetRequest, error)
	// PendingPinReset returns the user's pending request, or nil.
	PendingPinReset(ctx context.Context, userID string) (*PinResetRequest, error)
	ListPendingPinResets(ctx context.Context) ([]PinResetRequest, error)
	CompletePinReset(ctx context.Context, id string) error
}

// LockWallets takes the given wallets in ascending user id order. Units
// that touch more than one wallet call it first, so two units moving money
// in opposite directions queue on the same row instead of deadlocking.
func LockWallets(ctx context.Context, tx Tx, userIDs ...string) error {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		if id == "" {
			continue
		}
		if _, err := tx.Wallet(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
