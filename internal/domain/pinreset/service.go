package pinreset

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/pkg/events"
)

// Service runs the admin-approved PIN reset workflow:
// NONE -> PENDING -> COMPLETED, at most one pending request per user.
type Service struct {
	store  ledger.Store
	events events.Publisher
}

func NewService(store ledger.Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{store: store, events: publisher}
}

func (s *Service) RequestReset(ctx context.Context, userID string) (*ledger.PinResetRequest, error) {
	r := &ledger.PinResetRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    ledger.PinResetPending,
		Timestamp: time.Now().UTC(),
	}

	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		// Lock the wallet row so two requests for one user serialize.
		if _, err := tx.Wallet(ctx, userID); err != nil {
			return err
		}
		pending, err := tx.PendingPinReset(ctx, userID)
		if err != nil {
			return err
		}
		if pending != nil {
			return ledger.ErrDuplicateRequest
		}
		return tx.InsertPinReset(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Str("request_id", r.ID).Msg("pin reset requested")
	s.publish(ctx, events.Event{Type: events.TypePinResetQueued, UserID: userID, OccurredAt: r.Timestamp})
	return r, nil
}

// ApproveReset clears the wallet PIN and completes the request in one unit.
func (s *Service) ApproveReset(ctx context.Context, requestID string) (*ledger.PinResetRequest, error) {
	var r *ledger.PinResetRequest
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		r, err = tx.PinReset(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != ledger.PinResetPending {
			return ledger.ErrRequestNotPending
		}
		if _, err := tx.Wallet(ctx, r.UserID); err != nil {
			return err
		}
		if err := tx.SetPinHash(ctx, r.UserID, nil); err != nil {
			return err
		}
		if err := tx.CompletePinReset(ctx, requestID); err != nil {
			return err
		}
		r, err = tx.PinReset(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", r.UserID).Str("request_id", r.ID).Msg("pin reset approved")
	s.publish(ctx, events.Event{Type: events.TypePinResetDone, UserID: r.UserID, OccurredAt: time.Now().UTC()})
	return r, nil
}

// Pending lists open requests, oldest first.
func (s *Service) Pending(ctx context.Context) ([]ledger.PinResetRequest, error) {
	var out []ledger.PinResetRequest
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = tx.ListPendingPinResets(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.events.Publish(ctx, evs...); err != nil {
		log.Warn().Err(err).Msg("failed to publish pin reset events")
	}
}
