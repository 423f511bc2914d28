package order

import (
	"context"
	"fmt"

	"github.com/schoolhub/wallet-ledger/internal/domain/hold"
	"github.com/schoolhub/wallet-ledger/internal/pkg/lock"
	"github.com/schoolhub/wallet-ledger/internal/pkg/logger"
	"github.com/schoolhub/wallet-ledger/internal/pkg/saga"
)

// Holds is the part of the hold engine the dispatcher drives.
type Holds interface {
	SettleHold(ctx context.Context, orderID string, resolve hold.RecipientResolver) (*hold.Settlement, error)
	ReleaseHold(ctx context.Context, orderID string) error
}

// Dispatcher keeps an order's hold consistent with its status: completing
// an order settles the hold, cancelling it releases the hold.
type Dispatcher struct {
	orders   OrderStore
	holds    Holds
	locker   lock.Locker
	resolver hold.RecipientResolver
}

func NewDispatcher(orders OrderStore, holds Holds, locker lock.Locker, resolver hold.RecipientResolver) *Dispatcher {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if resolver == nil {
		resolver = hold.Direct
	}
	return &Dispatcher{orders: orders, holds: holds, locker: locker, resolver: resolver}
}

// Transition moves the order to next. If the matching hold operation fails
// the previous status is written back and the hold error is returned,
// joined with saga.ErrCompensation when the restore fails too.
func (d *Dispatcher) Transition(ctx context.Context, orderID string, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	ctx = logger.WithOrder(ctx, orderID)

	unlock, err := d.locker.Lock(ctx, "order:"+orderID)
	if err != nil {
		return fmt.Errorf("lock order %s: %w", orderID, err)
	}
	defer unlock()

	prior, err := d.orders.Status(ctx, orderID)
	if err != nil {
		return err
	}
	if prior.Terminal() {
		return ErrOrderFinal
	}
	if prior == next {
		return nil
	}

	err = saga.New("order-transition").
		Add(saga.Step{
			Name: "set-status",
			Do: func(ctx context.Context) error {
				return d.orders.SetStatus(ctx, orderID, next)
			},
			Compensate: func(ctx context.Context) error {
				return d.orders.SetStatus(ctx, orderID, prior)
			},
		}).
		Add(saga.Step{
			Name: "apply-hold",
			Do: func(ctx context.Context) error {
				switch next {
				case StatusCompleted:
					_, err := d.holds.SettleHold(ctx, orderID, d.resolver)
					return err
				case StatusCancelled:
					return d.holds.ReleaseHold(ctx, orderID)
				}
				return nil
			},
		}).
		Run(ctx)
	if err != nil {
		logger.FromContext(ctx).Error().
			Err(err).
			Str("from", string(prior)).
			Str("to", string(next)).
			Msg("order status rolled back")
		return err
	}

	logger.FromContext(ctx).Info().
		Str("from", string(prior)).
		Str("to", string(next)).
		Msg("order status changed")
	return nil
}
