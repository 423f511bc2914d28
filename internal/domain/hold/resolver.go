package hold

import (
	"context"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
)

// RecipientResolver maps a hold to the wallet that receives the money
// when it settles.
type RecipientResolver interface {
	Resolve(ctx context.Context, hold *ledger.Transaction) (string, error)
}

// ResolverFunc adapts a function to RecipientResolver.
type ResolverFunc func(ctx context.Context, hold *ledger.Transaction) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, hold *ledger.Transaction) (string, error) {
	return f(ctx, hold)
}

// Fixed always resolves to userID.
func Fixed(userID string) RecipientResolver {
	return ResolverFunc(func(context.Context, *ledger.Transaction) (string, error) {
		if userID == "" {
			return "", ledger.ErrNoRecipientConfigured
		}
		return userID, nil
	})
}

// Direct treats the hold's recipient reference as the payee wallet id.
var Direct RecipientResolver = ResolverFunc(func(_ context.Context, h *ledger.Transaction) (string, error) {
	if h.Recipient == nil || *h.Recipient == "" {
		return "", ledger.ErrNoRecipientConfigured
	}
	return *h.Recipient, nil
})
