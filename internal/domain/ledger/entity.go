package ledger

import (
	"time"
)

// TransactionType identifies the business event behind a ledger row.
type TransactionType string

const (
	TypeTopUp               TransactionType = "top-up"
	TypePayment             TransactionType = "payment"
	TypeWithdrawal          TransactionType = "withdrawal"
	TypeFeePayment          TransactionType = "fee-payment"
	TypeAdmissionFeePayment TransactionType = "admission-fee-payment"
	TypeDisbursement        TransactionType = "disbursement"
	TypeBursaryCredit       TransactionType = "bursary-credit"
	TypeServiceFeeCredit    TransactionType = "service-fee-credit"
	TypeTransferFeePayment  TransactionType = "transfer-fee-payment"
	TypeTransferOut         TransactionType = "transfer-out"
	TypeTransferIn          TransactionType = "transfer-in"
)

var knownTypes = map[TransactionType]struct{}{
	TypeTopUp:               {},
	TypePayment:             {},
	TypeWithdrawal:          {},
	TypeFeePayment:          {},
	TypeAdmissionFeePayment: {},
	TypeDisbursement:        {},
	TypeBursaryCredit:       {},
	TypeServiceFeeCredit:    {},
	TypeTransferFeePayment:  {},
	TypeTransferOut:         {},
	TypeTransferIn:          {},
}

// Valid reports whether t is one of the ledger's transaction types.
func (t TransactionType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Holdable reports whether pending rows of this type reduce available balance.
func (t TransactionType) Holdable() bool {
	return t == TypePayment || t == TypeFeePayment
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Wallet is the per-user balance record. Balance is in minor units.
type Wallet struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	Currency  string    `db:"currency" json:"currency"`
	PinHash   *string   `db:"pin_hash" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasPin reports whether a PIN has ever been configured and not cleared.
func (w *Wallet) HasPin() bool {
	return w.PinHash != nil && *w.PinHash != ""
}

// Transaction is an append-only ledger row; only Status ever changes.
type Transaction struct {
	ID           string          `db:"id" json:"id"`
	WalletUserID string          `db:"wallet_user_id" json:"wallet_user_id"`
	Type         TransactionType `db:"type" json:"type"`
	Amount       int64           `db:"amount" json:"amount"`
	Description  string          `db:"description" json:"description"`
	Status       Status          `db:"status" json:"status"`
	Method       *string         `db:"method" json:"method,omitempty"`
	Recipient    *string         `db:"recipient" json:"recipient,omitempty"`
	OrderID      *string         `db:"order_id" json:"order_id,omitempty"`
	FeeID        *string         `db:"fee_id" json:"fee_id,omitempty"`
	Timestamp    time.Time       `db:"created_at" json:"timestamp"`
}

// AbsAmount returns |Amount|.
func (t *Transaction) AbsAmount() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return t.Amount
}

// PinResetStatus is the state of a PIN reset request.
type PinResetStatus string

const (
	PinResetPending   PinResetStatus = "pending"
	PinResetCompleted PinResetStatus = "completed"
)

// PinResetRequest asks an administrator to clear a user's wallet PIN.
type PinResetRequest struct {
	ID          string         `db:"id" json:"id"`
	UserID      string         `db:"user_id" json:"user_id"`
	Status      PinResetStatus `db:"status" json:"status"`
	Timestamp   time.Time      `db:"created_at" json:"timestamp"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// SortField selects the ordering key of a history query.
type SortField string

const (
	SortByTime   SortField = "time"
	SortByAmount SortField = "amount"
)

// Filter selects transactions for history and admin search.
type Filter struct {
	UserID   string
	Types    []TransactionType
	Status   *Status
	OrderID  *string
	FeeID    *string
	DateFrom *time.Time
	DateTo   *time.Time
	SortBy   SortField
	Asc      bool
	Limit    int
	Offset   int
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
