package disbursement

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/domain/wallet"
	"github.com/schoolhub/wallet-ledger/internal/pkg/saga"
	"github.com/schoolhub/wallet-ledger/internal/pkg/validator"
)

type Service struct {
	wallets *wallet.Service
	cfg     Config
}

func NewService(wallets *wallet.Service, cfg Config) *Service {
	if cfg.VerificationShare.IsZero() {
		cfg.VerificationShare = DefaultVerificationShare
	}
	return &Service{wallets: wallets, cfg: cfg}
}

// BulkDisbursement credits amount to every user. The request is validated
// as a whole first; after that each credit commits on its own and failures
// are collected without undoing earlier credits.
func (s *Service) BulkDisbursement(ctx context.Context, userIDs []string, amount int64, description string) (*Result, error) {
	return s.bulk(ctx, userIDs, amount, description, ledger.TypeDisbursement)
}

// BursaryCredit is BulkDisbursement recorded as bursary-credit.
func (s *Service) BursaryCredit(ctx context.Context, userIDs []string, amount int64, description string) (*Result, error) {
	return s.bulk(ctx, userIDs, amount, description, ledger.TypeBursaryCredit)
}

func (s *Service) bulk(ctx context.Context, userIDs []string, amount int64, description string, typ ledger.TransactionType) (*Result, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if len(userIDs) == 0 {
		return nil, ErrNoRecipients
	}
	for i, id := range userIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: blank user id at position %d", ErrInvalidRequest, i)
		}
	}

	res := &Result{Credited: make([]*ledger.Transaction, 0, len(userIDs))}
	for _, id := range userIDs {
		t, err := s.wallets.Credit(ctx, wallet.CreditRequest{
			UserID:      id,
			Amount:      amount,
			Type:        typ,
			Description: description,
		})
		if err != nil {
			log.Warn().Err(err).Str("user_id", id).Str("type", string(typ)).Msg("bulk credit failed")
			res.Failed = append(res.Failed, Failure{UserID: id, Err: err, Reason: err.Error()})
			continue
		}
		res.Credited = append(res.Credited, t)
	}

	log.Info().
		Str("type", string(typ)).
		Int64("amount", amount).
		Int("credited", len(res.Credited)).
		Int("failed", len(res.Failed)).
		Msg("bulk disbursement finished")
	return res, nil
}

// SplitServiceFee divides amount between school, authority and platform.
// The authority share is rounded down; the platform absorbs the remainder.
func (s *Service) SplitServiceFee(amount, serviceFee int64) Split {
	authority := decimal.NewFromInt(serviceFee).Mul(s.cfg.VerificationShare).Floor().IntPart()
	return Split{
		School:    amount - serviceFee,
		Authority: authority,
		Platform:  serviceFee - authority,
	}
}

// AdmissionFeeDistribution debits the payer and credits every party. The
// legs run as a saga inside one store unit, so a failed leg discards every
// earlier one and no caller ever sees the payer debited without the
// credits.
func (s *Service) AdmissionFeeDistribution(ctx context.Context, req AdmissionFeeRequest) (*AdmissionFeeResult, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if errs := validator.Validate(req); errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, errs)
	}

	split := Split{School: req.Amount}
	if req.VerificationEnabled {
		fee := s.cfg.DefaultServiceFee
		if req.ServiceFeeAmount != nil {
			fee = *req.ServiceFeeAmount
		}
		if fee < 0 || fee > req.Amount {
			return nil, ledger.ErrInvalidAmount
		}
		split = s.SplitServiceFee(req.Amount, fee)
	}

	desc := req.Description
	if desc == "" {
		desc = "Admission fee"
	}

	var res *AdmissionFeeResult
	err := s.wallets.Store().WithTx(ctx, func(tx ledger.Tx) error {
		res = &AdmissionFeeResult{}
		if err := ledger.LockWallets(ctx, tx, req.PayerID, req.SchoolRecipientID, s.cfg.AuthorityID, s.cfg.PlatformID); err != nil {
			return err
		}
		sg := saga.New("admission-fee").
			Add(saga.Step{
				Name: "debit-payer",
				Do: func(ctx context.Context) error {
					t, err := wallet.DebitTx(ctx, tx, wallet.DebitRequest{
						UserID:      req.PayerID,
						Amount:      req.Amount,
						Type:        ledger.TypeAdmissionFeePayment,
						Description: desc,
						Recipient:   req.SchoolRecipientID,
					})
					res.Payment = t
					return err
				},
			}).
			Add(saga.Step{
				Name: "check-school-recipient",
				Do: func(context.Context) error {
					if req.SchoolRecipientID == "" {
						return ledger.ErrNoRecipientConfigured
					}
					return nil
				},
			}).
			Add(creditStep(tx, "credit-school", req.SchoolRecipientID, split.School, ledger.TypeAdmissionFeePayment, desc, &res.SchoolCredit))

		if req.VerificationEnabled {
			sg.Add(creditStep(tx, "credit-authority", s.cfg.AuthorityID, split.Authority, ledger.TypeServiceFeeCredit, "Verification fee: "+desc, &res.AuthorityCredit)).
				Add(creditStep(tx, "credit-platform", s.cfg.PlatformID, split.Platform, ledger.TypeServiceFeeCredit, "Platform fee: "+desc, &res.PlatformCredit))
		}
		return sg.Run(ctx)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", req.PayerID).
		Str("school_id", req.SchoolRecipientID).
		Int64("amount", req.Amount).
		Int64("school", split.School).
		Int64("authority", split.Authority).
		Int64("platform", split.Platform).
		Msg("admission fee distributed")
	s.wallets.Publish(ctx, res.events()...)
	return res, nil
}

// creditStep credits amount to userID inside tx. Zero amounts are skipped.
// The step has no compensation: a later failure rolls back the unit.
func creditStep(tx ledger.Tx, name, userID string, amount int64, typ ledger.TransactionType, desc string, out **ledger.Transaction) saga.Step {
	return saga.Step{
		Name: name,
		Do: func(ctx context.Context) error {
			if amount == 0 {
				return nil
			}
			if userID == "" {
				return fmt.Errorf("%w: %s", ledger.ErrNoRecipientConfigured, name)
			}
			t, err := wallet.CreditTx(ctx, tx, wallet.CreditRequest{
				UserID:      userID,
				Amount:      amount,
				Type:        typ,
				Description: desc,
			})
			*out = t
			return err
		},
	}
}
