package pin

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/schoolhub/wallet-ledger/internal/pkg/validator"
)

// DefaultLength is the PIN length used when none is configured.
const DefaultLength = 4

const cost = bcrypt.DefaultCost

// Valid reports whether p is exactly length ASCII digits.
func Valid(p string, length int) bool {
	if length <= 0 {
		length = DefaultLength
	}
	return validator.ValidateVar(p, fmt.Sprintf("required,len=%d,pin", length)) == nil
}

// Hash hashes a PIN using bcrypt
func Hash(p string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(p), cost)
	return string(bytes), err
}

// Verify compares a PIN with its hash
func Verify(p, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(p))
	return err == nil
}
