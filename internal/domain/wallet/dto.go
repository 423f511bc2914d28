package wallet

import (
	"time"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
)

// CreditRequest adds money to a wallet. Type defaults to top-up.
type CreditRequest struct {
	UserID      string                 `json:"user_id" validate:"required"`
	Amount      int64                  `json:"amount"`
	Type        ledger.TransactionType `json:"type" validate:"omitempty,txtype"`
	Description string                 `json:"description" validate:"max=500"`
	Method      string                 `json:"method" validate:"max=50"`
	OrderID     string                 `json:"order_id"`
	FeeID       string                 `json:"fee_id"`
}

// DebitRequest removes money from a wallet. Type defaults to payment.
type DebitRequest struct {
	UserID      string                 `json:"user_id" validate:"required"`
	Amount      int64                  `json:"amount"`
	Type        ledger.TransactionType `json:"type" validate:"omitempty,txtype"`
	Description string                 `json:"description" validate:"max=500"`
	Recipient   string                 `json:"recipient"`
	Method      string                 `json:"method" validate:"max=50"`
	OrderID     string                 `json:"order_id"`
	FeeID       string                 `json:"fee_id"`
}

type WithdrawRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount"`
	Method string `json:"method" validate:"required,max=50"`
	Pin    string `json:"pin"`
}

// TransferRequest moves Amount from From to To. A positive Fee is charged
// to the sender and credited to FeeRecipient in the same unit.
type TransferRequest struct {
	From         string `json:"from" validate:"required"`
	To           string `json:"to" validate:"required"`
	Amount       int64  `json:"amount"`
	Fee          int64  `json:"fee" validate:"gte=0"`
	FeeRecipient string `json:"fee_recipient"`
	Description  string `json:"description" validate:"max=500"`
	Pin          string `json:"pin"`
}

type TransferResult struct {
	Out       *ledger.Transaction
	In        *ledger.Transaction
	Fee       *ledger.Transaction
	FeeCredit *ledger.Transaction
}

// HistoryQuery filters a user's transactions.
type HistoryQuery struct {
	UserID   string                   `json:"user_id" validate:"required"`
	Types    []ledger.TransactionType `json:"types" validate:"dive,txtype"`
	Status   *ledger.Status           `json:"status"`
	OrderID  string                   `json:"order_id"`
	FeeID    string                   `json:"fee_id"`
	DateFrom *time.Time               `json:"date_from"`
	DateTo   *time.Time               `json:"date_to"`
	SortBy   ledger.SortField         `json:"sort_by" validate:"omitempty,oneof=time amount"`
	Asc      bool                     `json:"asc"`
	Limit    int                      `json:"limit" validate:"gte=0,lte=500"`
	Offset   int                      `json:"offset" validate:"gte=0"`
}

func (q HistoryQuery) filter() ledger.Filter {
	return ledger.Filter{
		UserID:   q.UserID,
		Types:    q.Types,
		Status:   q.Status,
		OrderID:  ledger.StrPtr(q.OrderID),
		FeeID:    ledger.StrPtr(q.FeeID),
		DateFrom: q.DateFrom,
		DateTo:   q.DateTo,
		SortBy:   q.SortBy,
		Asc:      q.Asc,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
}
