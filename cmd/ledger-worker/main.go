package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/schoolhub/wallet-ledger/internal/app"
	"github.com/schoolhub/wallet-ledger/internal/config"
	"github.com/schoolhub/wallet-ledger/internal/domain/order"
	"github.com/schoolhub/wallet-ledger/internal/pkg/logger"
	"github.com/schoolhub/wallet-ledger/internal/pkg/validator"
)

const handleTimeout = 15 * time.Second

type transitioner interface {
	Transition(ctx context.Context, orderID string, next order.Status) error
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().Msg("Starting ledger-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger services")
	}
	defer a.Close()

	rdb, err := a.ConnectRedis(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb == nil {
		log.Fatal().Msg("REDIS_URL is required for ledger-worker")
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	sub := rdb.Subscribe(ctx, cfg.OrderStatusChannel)
	defer func() { _ = sub.Close() }()

	log.Info().Str("channel", cfg.OrderStatusChannel).Msg("Listening for order status changes")
	run(ctx, sub.Channel(), a.Dispatcher)
	log.Info().Msg("ledger-worker stopped")
}

// run handles messages one at a time until ctx is done or msgs closes.
func run(ctx context.Context, msgs <-chan *redis.Message, d transitioner) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := handle(ctx, d, []byte(msg.Payload)); err != nil {
				log.Error().Err(err).Str("payload", msg.Payload).Msg("Order status change failed")
			}
		}
	}
}

func handle(ctx context.Context, d transitioner, payload []byte) error {
	var change order.StatusChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if errs := validator.Validate(change); errs != nil {
		return fmt.Errorf("%w: %v", order.ErrInvalidStatus, errs)
	}

	ctx, cancel := context.WithTimeout(logger.WithOrder(ctx, change.OrderID), handleTimeout)
	defer cancel()

	start := time.Now()
	err := d.Transition(ctx, change.OrderID, change.Status)
	if errors.Is(err, order.ErrOrderFinal) {
		logger.FromContext(ctx).Warn().Str("status", string(change.Status)).Msg("Order already final, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info().
		Str("status", string(change.Status)).
		Dur("took", time.Since(start)).
		Msg("Order status applied")
	return nil
}
