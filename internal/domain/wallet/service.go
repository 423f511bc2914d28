package wallet

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/pkg/events"
	"github.com/schoolhub/wallet-ledger/internal/pkg/pin"
	"github.com/schoolhub/wallet-ledger/internal/pkg/validator"
)

type Service struct {
	store     ledger.Store
	events    events.Publisher
	pinLength int
}

func NewService(store ledger.Store, publisher events.Publisher, pinLength int) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if pinLength <= 0 {
		pinLength = pin.DefaultLength
	}
	return &Service{store: store, events: publisher, pinLength: pinLength}
}

// Store exposes the ledger store so other domain services can compose
// wallet mutations into their own units.
func (s *Service) Store() ledger.Store {
	return s.store
}

// GetWallet returns the user's wallet, creating an empty one on first access.
func (s *Service) GetWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	var w *ledger.Wallet
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		w, err = tx.Wallet(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) SetPin(ctx context.Context, userID, p string) error {
	if !pin.Valid(p, s.pinLength) {
		return ledger.ErrInvalidPinFormat
	}
	hash, err := pin.Hash(p)
	if err != nil {
		return fmt.Errorf("%w: hash pin", ledger.ErrInternal)
	}

	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Wallet(ctx, userID); err != nil {
			return err
		}
		return tx.SetPinHash(ctx, userID, &hash)
	})
	if err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Msg("wallet pin set")
	s.publish(ctx, events.Event{Type: events.TypePinChanged, UserID: userID, OccurredAt: time.Now().UTC()})
	return nil
}

// VerifyPin reports whether p matches the stored PIN hash.
func (s *Service) VerifyPin(ctx context.Context, userID, p string) (bool, error) {
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return false, err
	}
	return verify(w, p)
}

// CheckPin is VerifyPin returning ErrIncorrectPin on mismatch.
func (s *Service) CheckPin(ctx context.Context, userID, p string) error {
	ok, err := s.VerifyPin(ctx, userID, p)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrIncorrectPin
	}
	return nil
}

func verify(w *ledger.Wallet, p string) (bool, error) {
	if !w.HasPin() {
		return false, ledger.ErrNoPinSet
	}
	return pin.Verify(p, *w.PinHash), nil
}

// checkPinIfSet gates a debit on the PIN only when the wallet has one.
func checkPinIfSet(w *ledger.Wallet, p string) error {
	if !w.HasPin() {
		return nil
	}
	if ok, _ := verify(w, p); !ok {
		return ledger.ErrIncorrectPin
	}
	return nil
}

// AvailableBalance is balance minus the sum of pending holds.
func (s *Service) AvailableBalance(ctx context.Context, userID string) (int64, error) {
	var available int64
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		available, err = AvailableTx(ctx, tx, userID)
		return err
	})
	return available, err
}

// AvailableTx computes the available balance inside an open unit.
func AvailableTx(ctx context.Context, tx ledger.Tx, userID string) (int64, error) {
	w, err := tx.Wallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	held, err := tx.HeldAmount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Balance - held, nil
}

func (s *Service) Credit(ctx context.Context, req CreditRequest) (*ledger.Transaction, error) {
	var t *ledger.Transaction
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		t, err = CreditTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("type", string(t.Type)).Msg("wallet credit applied")
	s.publish(ctx, events.FromTransaction(events.TypeCredited, t))
	return t, nil
}

// CreditTx increments the balance and appends a completed credit row
// inside the caller's unit.
func CreditTx(ctx context.Context, tx ledger.Tx, req CreditRequest) (*ledger.Transaction, error) {
	if err := validate(req, req.Amount); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = ledger.TypeTopUp
	}

	w, err := tx.Wallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if w.Balance > math.MaxInt64-req.Amount {
		return nil, ledger.ErrInvalidAmount
	}
	if err := tx.SetBalance(ctx, req.UserID, w.Balance+req.Amount); err != nil {
		return nil, err
	}

	t := &ledger.Transaction{
		ID:           uuid.NewString(),
		WalletUserID: req.UserID,
		Type:         req.Type,
		Amount:       req.Amount,
		Description:  req.Description,
		Status:       ledger.StatusCompleted,
		Method:       ledger.StrPtr(req.Method),
		OrderID:      ledger.StrPtr(req.OrderID),
		FeeID:        ledger.StrPtr(req.FeeID),
		Timestamp:    time.Now().UTC(),
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Debit(ctx context.Context, req DebitRequest) (*ledger.Transaction, error) {
	var t *ledger.Transaction
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		t, err = DebitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("type", string(t.Type)).Msg("wallet debit applied")
	s.publish(ctx, events.FromTransaction(events.TypeDebited, t))
	return t, nil
}

// DebitTx checks available balance, decrements it and appends a completed
// debit row inside the caller's unit.
func DebitTx(ctx context.Context, tx ledger.Tx, req DebitRequest) (*ledger.Transaction, error) {
	if err := validate(req, req.Amount); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = ledger.TypePayment
	}

	available, err := AvailableTx(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	if available < req.Amount {
		return nil, ledger.ErrInsufficientFunds
	}

	w, err := tx.Wallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := tx.SetBalance(ctx, req.UserID, w.Balance-req.Amount); err != nil {
		return nil, err
	}

	t := &ledger.Transaction{
		ID:           uuid.NewString(),
		WalletUserID: req.UserID,
		Type:         req.Type,
		Amount:       -req.Amount,
		Description:  req.Description,
		Status:       ledger.StatusCompleted,
		Method:       ledger.StrPtr(req.Method),
		Recipient:    ledger.StrPtr(req.Recipient),
		OrderID:      ledger.StrPtr(req.OrderID),
		FeeID:        ledger.StrPtr(req.FeeID),
		Timestamp:    time.Now().UTC(),
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// TopUp credits the wallet. method is a label only.
func (s *Service) TopUp(ctx context.Context, userID string, amount int64, method string) (*ledger.Transaction, error) {
	return s.Credit(ctx, CreditRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        ledger.TypeTopUp,
		Description: "Wallet top-up",
		Method:      method,
	})
}

// Withdraw debits the wallet, requiring the PIN when one is set.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*ledger.Transaction, error) {
	if err := validate(req, req.Amount); err != nil {
		return nil, err
	}

	var t *ledger.Transaction
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		w, err := tx.Wallet(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := checkPinIfSet(w, req.Pin); err != nil {
			return err
		}
		t, err = DebitTx(ctx, tx, DebitRequest{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Type:        ledger.TypeWithdrawal,
			Description: "Wallet withdrawal",
			Method:      req.Method,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("method", req.Method).Msg("wallet withdrawal applied")
	s.publish(ctx, events.FromTransaction(events.TypeDebited, t))
	return t, nil
}

// Transfer moves money between two wallets in one unit.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := validate(req, req.Amount); err != nil {
		return nil, err
	}
	if req.From == req.To {
		return nil, ErrSelfTransfer
	}
	if req.Fee > 0 && req.FeeRecipient == "" {
		return nil, ledger.ErrNoRecipientConfigured
	}

	res := &TransferResult{}
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := ledger.LockWallets(ctx, tx, req.From, req.To, req.FeeRecipient); err != nil {
			return err
		}
		w, err := tx.Wallet(ctx, req.From)
		if err != nil {
			return err
		}
		if err := checkPinIfSet(w, req.Pin); err != nil {
			return err
		}

		available, err := AvailableTx(ctx, tx, req.From)
		if err != nil {
			return err
		}
		if available < req.Amount+req.Fee {
			return ledger.ErrInsufficientFunds
		}

		if res.Out, err = DebitTx(ctx, tx, DebitRequest{
			UserID:      req.From,
			Amount:      req.Amount,
			Type:        ledger.TypeTransferOut,
			Description: req.Description,
			Recipient:   req.To,
		}); err != nil {
			return err
		}
		if res.In, err = CreditTx(ctx, tx, CreditRequest{
			UserID:      req.To,
			Amount:      req.Amount,
			Type:        ledger.TypeTransferIn,
			Description: req.Description,
		}); err != nil {
			return err
		}

		if req.Fee == 0 {
			return nil
		}
		if res.Fee, err = DebitTx(ctx, tx, DebitRequest{
			UserID:      req.From,
			Amount:      req.Fee,
			Type:        ledger.TypeTransferFeePayment,
			Description: "Transfer fee",
			Recipient:   req.FeeRecipient,
		}); err != nil {
			return err
		}
		res.FeeCredit, err = CreditTx(ctx, tx, CreditRequest{
			UserID:      req.FeeRecipient,
			Amount:      req.Fee,
			Type:        ledger.TypeServiceFeeCredit,
			Description: "Transfer fee",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("from", req.From).
		Str("to", req.To).
		Int64("amount", req.Amount).
		Int64("fee", req.Fee).
		Msg("wallet transfer applied")

	evs := []events.Event{
		events.FromTransaction(events.TypeDebited, res.Out),
		events.FromTransaction(events.TypeCredited, res.In),
	}
	if res.Fee != nil {
		evs = append(evs,
			events.FromTransaction(events.TypeDebited, res.Fee),
			events.FromTransaction(events.TypeCredited, res.FeeCredit),
		)
	}
	s.publish(ctx, evs...)
	return res, nil
}

// History lists a user's transactions, newest first unless asked otherwise.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]ledger.Transaction, error) {
	if errs := validator.Validate(q); errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, errs)
	}

	var out []ledger.Transaction
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = tx.ListTransactions(ctx, q.filter())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Publish forwards committed events, logging instead of failing.
func (s *Service) Publish(ctx context.Context, evs ...events.Event) {
	s.publish(ctx, evs...)
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.events.Publish(ctx, evs...); err != nil {
		log.Warn().Err(err).Int("events", len(evs)).Msg("failed to publish ledger events")
	}
}

func validate(req interface{}, amount int64) error {
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	if errs := validator.Validate(req); errs != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, errs)
	}
	return nil
}
