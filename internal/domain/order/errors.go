package order

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderFinal    = errors.New("order is already completed or cancelled")
	ErrInvalidStatus = errors.New("invalid order status")
)
