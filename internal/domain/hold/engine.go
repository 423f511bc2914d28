package hold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/domain/wallet"
	"github.com/schoolhub/wallet-ledger/internal/pkg/events"
	"github.com/schoolhub/wallet-ledger/internal/pkg/lock"
	"github.com/schoolhub/wallet-ledger/internal/pkg/validator"
)

// Engine reserves funds against orders and fees, then settles or releases
// them. Per order the lifecycle is NO_HOLD -> HELD -> SETTLED | RELEASED.
type Engine struct {
	store  ledger.Store
	locker lock.Locker
	events events.Publisher
}

func NewEngine(store ledger.Store, locker lock.Locker, publisher events.Publisher) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Engine{store: store, locker: locker, events: publisher}
}

func lockKey(orderID string) string {
	return "hold:" + orderID
}

func (e *Engine) withOrderLock(ctx context.Context, orderID string, fn func() error) error {
	if orderID == "" {
		return fn()
	}
	unlock, err := e.locker.Lock(ctx, lockKey(orderID))
	if err != nil {
		return fmt.Errorf("lock order %s: %w", orderID, err)
	}
	defer unlock()
	return fn()
}

// CreateHold records a pending debit for the order. The buyer's balance is
// untouched but the amount no longer counts as available.
func (e *Engine) CreateHold(ctx context.Context, req HoldRequest) (*ledger.Transaction, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var h *ledger.Transaction
	err := e.withOrderLock(ctx, req.OrderID, func() error {
		return e.store.WithTx(ctx, func(tx ledger.Tx) error {
			h = newHold(req)
			return createTx(ctx, tx, h)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", req.BuyerID).
		Str("order_id", req.OrderID).
		Int64("amount", req.Amount).
		Msg("hold created")
	e.publish(ctx, events.FromTransaction(events.TypeHoldCreated, h))
	return h, nil
}

func newHold(req HoldRequest) *ledger.Transaction {
	typ := req.Type
	if typ == "" {
		typ = ledger.TypePayment
	}
	return &ledger.Transaction{
		ID:           uuid.NewString(),
		WalletUserID: req.BuyerID,
		Type:         typ,
		Amount:       -req.Amount,
		Description:  req.Description,
		Status:       ledger.StatusPending,
		Recipient:    ledger.StrPtr(req.RecipientRef),
		OrderID:      ledger.StrPtr(req.OrderID),
		FeeID:        ledger.StrPtr(req.FeeID),
		Timestamp:    time.Now().UTC(),
	}
}

func createTx(ctx context.Context, tx ledger.Tx, h *ledger.Transaction) error {
	available, err := wallet.AvailableTx(ctx, tx, h.WalletUserID)
	if err != nil {
		return err
	}
	if available < h.AbsAmount() {
		return ledger.ErrInsufficientFunds
	}

	if orderID := ledger.Deref(h.OrderID); orderID != "" {
		_, err := tx.PendingByOrder(ctx, orderID)
		if err == nil {
			return ledger.ErrDuplicateHold
		}
		if !errors.Is(err, ledger.ErrHoldNotFound) {
			return err
		}
	}
	return tx.InsertTransaction(ctx, h)
}

// SettleHold debits the buyer, credits the resolved recipient and completes
// the hold in one unit. A resolver failure leaves the hold pending.
func (e *Engine) SettleHold(ctx context.Context, orderID string, resolve RecipientResolver) (*Settlement, error) {
	if orderID == "" {
		return nil, ledger.ErrHoldNotFound
	}

	var s *Settlement
	err := e.withOrderLock(ctx, orderID, func() error {
		return e.store.WithTx(ctx, func(tx ledger.Tx) error {
			h, err := tx.PendingByOrder(ctx, orderID)
			if err != nil {
				return err
			}
			recipientID, err := resolveRecipient(ctx, h, resolve)
			if err != nil {
				return err
			}
			s, err = settleTx(ctx, tx, h, recipientID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", s.Hold.WalletUserID).
		Str("order_id", orderID).
		Str("recipient_id", s.RecipientID).
		Int64("amount", s.Credit.Amount).
		Msg("hold settled")
	e.publishSettlement(ctx, s)
	return s, nil
}

func resolveRecipient(ctx context.Context, h *ledger.Transaction, resolve RecipientResolver) (string, error) {
	if resolve == nil {
		resolve = Direct
	}
	recipientID, err := resolve.Resolve(ctx, h)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ledger.ErrRecipientNotFound, err)
	}
	if recipientID == "" {
		return "", ledger.ErrRecipientNotFound
	}
	return recipientID, nil
}

// settleTx moves the held amount from the buyer to recipientID and
// completes the hold. Both wallets are locked in id order before any write.
func settleTx(ctx context.Context, tx ledger.Tx, h *ledger.Transaction, recipientID string) (*Settlement, error) {
	amount := h.AbsAmount()

	if err := ledger.LockWallets(ctx, tx, h.WalletUserID, recipientID); err != nil {
		return nil, err
	}

	buyer, err := tx.Wallet(ctx, h.WalletUserID)
	if err != nil {
		return nil, err
	}
	if buyer.Balance < amount {
		return nil, ledger.ErrInsufficientFunds
	}
	if err := tx.SetBalance(ctx, h.WalletUserID, buyer.Balance-amount); err != nil {
		return nil, err
	}

	credit, err := wallet.CreditTx(ctx, tx, wallet.CreditRequest{
		UserID:      recipientID,
		Amount:      amount,
		Type:        h.Type,
		Description: h.Description,
		OrderID:     ledger.Deref(h.OrderID),
		FeeID:       ledger.Deref(h.FeeID),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.SetTransactionStatus(ctx, h.ID, ledger.StatusPending, ledger.StatusCompleted); err != nil {
		return nil, err
	}
	settled := *h
	settled.Status = ledger.StatusCompleted

	return &Settlement{Hold: &settled, Credit: credit, RecipientID: recipientID}, nil
}

// ReleaseHold cancels the order's pending hold. No pending hold is not an
// error: the order was never held, or was already settled or released.
func (e *Engine) ReleaseHold(ctx context.Context, orderID string) error {
	if orderID == "" {
		return nil
	}

	var released *ledger.Transaction
	err := e.withOrderLock(ctx, orderID, func() error {
		return e.store.WithTx(ctx, func(tx ledger.Tx) error {
			h, err := tx.PendingByOrder(ctx, orderID)
			if errors.Is(err, ledger.ErrHoldNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := tx.SetTransactionStatus(ctx, h.ID, ledger.StatusPending, ledger.StatusCancelled); err != nil {
				return err
			}
			h.Status = ledger.StatusCancelled
			released = h
			return nil
		})
	})
	if err != nil {
		return err
	}

	if released == nil {
		log.Debug().Str("order_id", orderID).Msg("no pending hold to release")
		return nil
	}

	log.Info().
		Str("user_id", released.WalletUserID).
		Str("order_id", orderID).
		Int64("amount", released.AbsAmount()).
		Msg("hold released")
	e.publish(ctx, events.FromTransaction(events.TypeHoldReleased, released))
	return nil
}

// Hold returns the order's latest debit row in any status.
func (e *Engine) Hold(ctx context.Context, orderID string) (*ledger.Transaction, error) {
	var h *ledger.Transaction
	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		h, err = tx.LatestByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// PayNow creates and settles a hold in the same unit, so the committed row
// is already completed when the balances move.
func (e *Engine) PayNow(ctx context.Context, req HoldRequest, resolve RecipientResolver) (*Settlement, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var s *Settlement
	err := e.withOrderLock(ctx, req.OrderID, func() error {
		return e.store.WithTx(ctx, func(tx ledger.Tx) error {
			h := newHold(req)
			recipientID, err := resolveRecipient(ctx, h, resolve)
			if err != nil {
				return err
			}
			if err := ledger.LockWallets(ctx, tx, h.WalletUserID, recipientID); err != nil {
				return err
			}
			if err := createTx(ctx, tx, h); err != nil {
				return err
			}
			s, err = settleTx(ctx, tx, h, recipientID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", req.BuyerID).
		Str("order_id", req.OrderID).
		Str("fee_id", req.FeeID).
		Str("recipient_id", s.RecipientID).
		Int64("amount", req.Amount).
		Msg("payment settled")
	e.publishSettlement(ctx, s)
	return s, nil
}

func (e *Engine) publishSettlement(ctx context.Context, s *Settlement) {
	e.publish(ctx,
		events.FromTransaction(events.TypeHoldSettled, s.Hold),
		events.FromTransaction(events.TypeCredited, s.Credit),
	)
}

func (e *Engine) publish(ctx context.Context, evs ...events.Event) {
	if err := e.events.Publish(ctx, evs...); err != nil {
		log.Warn().Err(err).Int("events", len(evs)).Msg("failed to publish hold events")
	}
}

func validate(req HoldRequest) error {
	if req.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	if errs := validator.Validate(req); errs != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, errs)
	}
	return nil
}
