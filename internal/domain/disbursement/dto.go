package disbursement

import (
	"github.com/shopspring/decimal"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/pkg/events"
)

// DefaultVerificationShare is the verification authority's cut of the
// admission service fee; the platform keeps the rest.
var DefaultVerificationShare = decimal.RequireFromString("0.25")

type Config struct {
	VerificationShare decimal.Decimal
	AuthorityID       string
	PlatformID        string
	DefaultServiceFee int64
}

func (c Config) Validate() error {
	if c.VerificationShare.IsNegative() || c.VerificationShare.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidShare
	}
	if c.DefaultServiceFee < 0 {
		return ledger.ErrInvalidAmount
	}
	return nil
}

// Failure is one user a bulk credit could not reach.
type Failure struct {
	UserID string `json:"user_id"`
	Err    error  `json:"-"`
	Reason string `json:"reason"`
}

type Result struct {
	Credited []*ledger.Transaction `json:"credited"`
	Failed   []Failure             `json:"failed"`
}

// AdmissionFeeRequest pays an admission fee to the school. With
// verification enabled a service fee is carved out of Amount and split
// between the verification authority and the platform. A nil
// ServiceFeeAmount uses the configured default.
type AdmissionFeeRequest struct {
	PayerID             string `json:"payer_id" validate:"required"`
	SchoolRecipientID   string `json:"school_recipient_id"`
	Amount              int64  `json:"amount"`
	VerificationEnabled bool   `json:"verification_enabled"`
	ServiceFeeAmount    *int64 `json:"service_fee_amount"`
	Description         string `json:"description" validate:"max=500"`
}

type AdmissionFeeResult struct {
	Payment         *ledger.Transaction `json:"payment"`
	SchoolCredit    *ledger.Transaction `json:"school_credit"`
	AuthorityCredit *ledger.Transaction `json:"authority_credit,omitempty"`
	PlatformCredit  *ledger.Transaction `json:"platform_credit,omitempty"`
}

func (r *AdmissionFeeResult) events() []events.Event {
	evs := []events.Event{events.FromTransaction(events.TypeDebited, r.Payment)}
	for _, t := range []*ledger.Transaction{r.SchoolCredit, r.AuthorityCredit, r.PlatformCredit} {
		if t != nil {
			evs = append(evs, events.FromTransaction(events.TypeCredited, t))
		}
	}
	return evs
}

// Split is how an admission fee divides between the parties.
type Split struct {
	School    int64
	Authority int64
	Platform  int64
}
