package wallet

import "errors"

var (
	// ErrInvalidRequest wraps field-level validation failures
	ErrInvalidRequest = errors.New("invalid wallet request")

	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")
)
