package hold

import (
	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
)

// HoldRequest reserves Amount of the buyer's balance for an order or fee.
type HoldRequest struct {
	BuyerID      string                 `json:"buyer_id" validate:"required"`
	Amount       int64                  `json:"amount"`
	Description  string                 `json:"description" validate:"max=500"`
	RecipientRef string                 `json:"recipient_ref"`
	OrderID      string                 `json:"order_id" validate:"required_without=FeeID"`
	FeeID        string                 `json:"fee_id"`
	Type         ledger.TransactionType `json:"type" validate:"omitempty,oneof=payment fee-payment"`
}

// Settlement is the outcome of moving a hold's money to its recipient.
type Settlement struct {
	Hold        *ledger.Transaction `json:"hold"`
	Credit      *ledger.Transaction `json:"credit"`
	RecipientID string              `json:"recipient_id"`
}
