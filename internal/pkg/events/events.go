package events

import (
	"context"
	"sync"
	"time"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
)

// Event type names published after a unit commits.
const (
	TypeCredited       = "wallet.credited"
	TypeDebited        = "wallet.debited"
	TypeHoldCreated    = "hold.created"
	TypeHoldSettled    = "hold.settled"
	TypeHoldReleased   = "hold.released"
	TypePinChanged     = "wallet.pin_changed"
	TypePinResetQueued = "pin_reset.requested"
	TypePinResetDone   = "pin_reset.approved"
)

// Event describes one committed ledger change.
type Event struct {
	Type          string        `json:"type"`
	TransactionID string        `json:"transaction_id,omitempty"`
	UserID        string        `json:"user_id"`
	OrderID       string        `json:"order_id,omitempty"`
	FeeID         string        `json:"fee_id,omitempty"`
	Amount        int64         `json:"amount"`
	Status        ledger.Status `json:"status,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// FromTransaction builds an event of the given type from a ledger row.
func FromTransaction(typ string, t *ledger.Transaction) Event {
	return Event{
		Type:          typ,
		TransactionID: t.ID,
		UserID:        t.WalletUserID,
		OrderID:       ledger.Deref(t.OrderID),
		FeeID:         ledger.Deref(t.FeeID),
		Amount:        t.Amount,
		Status:        t.Status,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher delivers events after commit. Callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, ...Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
