package disbursement

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid disbursement request")
	ErrNoRecipients   = errors.New("no recipients given")
	ErrInvalidShare   = errors.New("verification share must be between 0 and 1")
)
