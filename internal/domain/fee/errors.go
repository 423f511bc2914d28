package fee

import "errors"

var (
	ErrFeeNotFound    = errors.New("fee not found")
	ErrAlreadyPaid    = errors.New("fee already paid by this student")
	ErrInvalidRequest = errors.New("invalid fee request")
)
