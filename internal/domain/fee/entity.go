package fee

import "time"

// Fee is a school fee payable once per student to the bursar's wallet.
type Fee struct {
	ID          string             `db:"id" json:"id"`
	Title       string             `db:"title" json:"title"`
	Amount      int64              `db:"amount" json:"amount"`
	RecipientID string             `db:"recipient_id" json:"recipient_id"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	Payments    map[string]Payment `db:"-" json:"payments"`
}

// Payment records which ledger transaction paid a student's fee.
type Payment struct {
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	PaidAt        time.Time `db:"paid_at" json:"paid_at"`
}

// PaidBy reports whether studentID has a recorded payment.
func (f *Fee) PaidBy(studentID string) bool {
	_, ok := f.Payments[studentID]
	return ok
}

type CreateFeeRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Amount      int64  `json:"amount"`
	RecipientID string `json:"recipient_id"`
}
