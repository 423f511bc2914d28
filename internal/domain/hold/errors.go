package hold

import "errors"

// ErrInvalidRequest wraps field-level validation failures
var ErrInvalidRequest = errors.New("invalid hold request")
