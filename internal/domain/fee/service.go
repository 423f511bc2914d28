package fee

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schoolhub/wallet-ledger/internal/domain/hold"
	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/domain/wallet"
	"github.com/schoolhub/wallet-ledger/internal/pkg/lock"
	"github.com/schoolhub/wallet-ledger/internal/pkg/validator"
)

type Service struct {
	fees    FeeStore
	wallets *wallet.Service
	holds   *hold.Engine
	locker  lock.Locker
}

func NewService(fees FeeStore, wallets *wallet.Service, holds *hold.Engine, locker lock.Locker) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{fees: fees, wallets: wallets, holds: holds, locker: locker}
}

func (s *Service) CreateFee(ctx context.Context, req CreateFeeRequest) (*Fee, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if errs := validator.Validate(req); errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, errs)
	}
	if req.RecipientID == "" {
		return nil, ledger.ErrNoRecipientConfigured
	}

	f := &Fee{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Amount:      req.Amount,
		RecipientID: req.RecipientID,
		CreatedAt:   time.Now().UTC(),
		Payments:    map[string]Payment{},
	}
	if err := s.fees.Create(ctx, f); err != nil {
		return nil, err
	}

	log.Info().Str("fee_id", f.ID).Int64("amount", f.Amount).Str("recipient_id", f.RecipientID).Msg("school fee created")
	return f, nil
}

func (s *Service) GetFee(ctx context.Context, id string) (*Fee, error) {
	return s.fees.Get(ctx, id)
}

// PaySchoolFee charges the student the full fee and pays the bursar in one
// ledger unit. pin is checked only when non-empty.
func (s *Service) PaySchoolFee(ctx context.Context, feeID, studentID, pin string) (*ledger.Transaction, error) {
	unlock, err := s.locker.Lock(ctx, "fee:"+feeID+":"+studentID)
	if err != nil {
		return nil, fmt.Errorf("lock fee payment: %w", err)
	}
	defer unlock()

	f, err := s.fees.Get(ctx, feeID)
	if err != nil {
		return nil, err
	}
	if f.PaidBy(studentID) {
		return nil, ErrAlreadyPaid
	}
	if f.RecipientID == "" {
		return nil, ledger.ErrNoRecipientConfigured
	}

	// A completed ledger row without a payment record means an earlier
	// attempt moved the money but failed to record it.
	paid, err := s.settledPayment(ctx, f.ID, studentID)
	if err != nil {
		return nil, err
	}
	if paid != nil {
		if err := s.record(ctx, f, studentID, paid); err != nil {
			return nil, err
		}
		log.Warn().
			Str("fee_id", f.ID).
			Str("user_id", studentID).
			Str("transaction_id", paid.ID).
			Msg("fee payment record recovered from ledger")
		return paid, nil
	}

	if pin != "" {
		if err := s.wallets.CheckPin(ctx, studentID, pin); err != nil {
			return nil, err
		}
	}

	settlement, err := s.holds.PayNow(ctx, hold.HoldRequest{
		BuyerID:      studentID,
		Amount:       f.Amount,
		Description:  "School fee: " + f.Title,
		RecipientRef: f.RecipientID,
		FeeID:        f.ID,
		Type:         ledger.TypeFeePayment,
	}, hold.Fixed(f.RecipientID))
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, f, studentID, settlement.Hold); err != nil {
		return nil, err
	}

	log.Info().
		Str("fee_id", f.ID).
		Str("user_id", studentID).
		Int64("amount", f.Amount).
		Msg("school fee paid")
	return settlement.Hold, nil
}

// settledPayment returns the student's completed fee-payment row for
// feeID, or nil if the student has not been charged.
func (s *Service) settledPayment(ctx context.Context, feeID, studentID string) (*ledger.Transaction, error) {
	completed := ledger.StatusCompleted
	rows, err := s.wallets.History(ctx, wallet.HistoryQuery{
		UserID: studentID,
		Types:  []ledger.TransactionType{ledger.TypeFeePayment},
		Status: &completed,
		FeeID:  feeID,
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Service) record(ctx context.Context, f *Fee, studentID string, t *ledger.Transaction) error {
	payment := Payment{TransactionID: t.ID, PaidAt: t.Timestamp}
	if err := s.fees.RecordPayment(ctx, f.ID, studentID, payment); err != nil {
		log.Error().
			Err(err).
			Str("fee_id", f.ID).
			Str("user_id", studentID).
			Str("transaction_id", t.ID).
			Msg("fee paid but payment record failed")
		return fmt.Errorf("record fee payment: %w", err)
	}
	return nil
}
