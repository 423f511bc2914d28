package ledger

import "errors"

var (
	// ErrInvalidAmount is returned when an amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInsufficientFunds is returned when available balance is below the requested amount
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	ErrInvalidPinFormat = errors.New("invalid pin format")
	ErrNoPinSet         = errors.New("no pin set for wallet")
	ErrIncorrectPin     = errors.New("incorrect pin")

	// ErrRecipientNotFound is returned when settlement cannot resolve the payee wallet
	ErrRecipientNotFound = errors.New("recipient not found")

	ErrNoRecipientConfigured = errors.New("no recipient configured")

	// ErrHoldNotFound is returned when no pending transaction matches the order
	ErrHoldNotFound = errors.New("hold not found")

	// ErrDuplicateHold is returned when an order already has a pending hold
	ErrDuplicateHold = errors.New("order already has a pending hold")

	// ErrStatusConflict is returned when a status compare-and-set loses
	ErrStatusConflict = errors.New("transaction status changed concurrently")

	ErrTransactionNotFound = errors.New("transaction not found")

	ErrDuplicateRequest  = errors.New("pin reset already requested")
	ErrRequestNotFound   = errors.New("pin reset request not found")
	ErrRequestNotPending = errors.New("pin reset request is not pending")

	ErrInternal = errors.New("internal error")
)

// IsUserFacing reports whether err is something the end user can fix
// (top up, retype the PIN) rather than a misconfiguration.
func IsUserFacing(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidPinFormat),
		errors.Is(err, ErrNoPinSet),
		errors.Is(err, ErrIncorrectPin),
		errors.Is(err, ErrDuplicateRequest):
		return true
	}
	return false
}
