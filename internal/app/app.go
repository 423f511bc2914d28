package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/schoolhub/wallet-ledger/internal/config"
	"github.com/schoolhub/wallet-ledger/internal/domain/disbursement"
	"github.com/schoolhub/wallet-ledger/internal/domain/fee"
	"github.com/schoolhub/wallet-ledger/internal/domain/hold"
	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/domain/order"
	"github.com/schoolhub/wallet-ledger/internal/domain/pinreset"
	"github.com/schoolhub/wallet-ledger/internal/domain/wallet"
	"github.com/schoolhub/wallet-ledger/internal/pkg/database"
	"github.com/schoolhub/wallet-ledger/internal/pkg/events"
	"github.com/schoolhub/wallet-ledger/internal/pkg/lock"
)

// App holds the wired ledger services for one process.
type App struct {
	Config *config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	Store  ledger.Store
	Locker lock.Locker
	Events events.Publisher

	Wallets       *wallet.Service
	Holds         *hold.Engine
	Orders        order.OrderStore
	Shops         order.ShopDirectory
	Dispatcher    *order.Dispatcher
	Fees          *fee.Service
	Disbursements *disbursement.Service
	PinResets     *pinreset.Service

	feeStore fee.FeeStore
	closers  []func()
}

type Option func(*App)

// WithPublisher overrides the event publisher chosen from config.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.Events = p }
}

// WithShopDirectory overrides the shop owner lookup.
func WithShopDirectory(d order.ShopDirectory) Option {
	return func(a *App) { a.Shops = d }
}

// WithOrderStore overrides the order collaborator.
func WithOrderStore(s order.OrderStore) Option {
	return func(a *App) { a.Orders = s }
}

// New connects the configured backends and builds every service.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.setupStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.setupEvents()

	share, err := decimal.NewFromString(cfg.VerificationShare)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("parse VERIFICATION_SHARE: %w", err)
	}
	disbCfg := disbursement.Config{
		VerificationShare: share,
		AuthorityID:       cfg.VerificationAuthorityID,
		PlatformID:        cfg.PlatformRecipientID,
		DefaultServiceFee: cfg.AdmissionServiceFee,
	}
	if err := disbCfg.Validate(); err != nil {
		a.Close()
		return nil, err
	}

	a.Wallets = wallet.NewService(a.Store, a.Events, cfg.PinLength)
	a.Holds = hold.NewEngine(a.Store, a.Locker, a.Events)
	a.Dispatcher = order.NewDispatcher(a.Orders, a.Holds, a.Locker, order.ShopOwnerResolver(a.Shops))
	a.Fees = fee.NewService(a.feeStore, a.Wallets, a.Holds, a.Locker)
	a.Disbursements = disbursement.NewService(a.Wallets, disbCfg)
	a.PinResets = pinreset.NewService(a.Store, a.Events)

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("lock", cfg.LockDriver).
		Bool("kafka", len(cfg.KafkaBrokers) > 0).
		Msg("ledger services ready")
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreDriver {
	case config.StoreMemory, "":
		a.Store = ledger.NewMemoryStore(cfg.WalletCurrency)
		a.feeStore = fee.NewMemoryFeeStore()
		if a.Orders == nil {
			a.Orders = order.NewMemoryOrderStore()
		}
		if a.Shops == nil {
			a.Shops = order.NewMapDirectory(nil)
		}
		return nil

	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() { database.ClosePostgres(db) })

		store := ledger.NewPostgresStore(db, cfg.WalletCurrency, cfg.QueryTimeout)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		feeStore := fee.NewPostgresFeeStore(db)
		if err := feeStore.Migrate(ctx); err != nil {
			return err
		}
		a.Store = store
		a.feeStore = feeStore
		if a.Orders == nil {
			a.Orders = order.NewPostgresOrderStore(db)
		}
		if a.Shops == nil {
			a.Shops = order.NewPostgresShopDirectory(db)
		}
		return nil
	}
	return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func (a *App) setupLocker(ctx context.Context) error {
	cfg := a.Config
	switch cfg.LockDriver {
	case config.LockLocal, "":
		a.Locker = lock.NewLocal()
		return nil

	case config.LockRedis:
		if err := a.connectRedis(ctx); err != nil {
			return err
		}
		if a.Redis == nil {
			return fmt.Errorf("LOCK_DRIVER=redis requires REDIS_URL")
		}
		a.Locker = lock.NewRedis(a.Redis, cfg.LockTTL)
		return nil
	}
	return fmt.Errorf("unknown LOCK_DRIVER %q", cfg.LockDriver)
}

// connectRedis opens the shared Redis client once.
func (a *App) connectRedis(ctx context.Context) error {
	if a.Redis != nil {
		return nil
	}
	client, err := database.NewRedis(ctx, a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client != nil {
		a.Redis = client
		a.closers = append(a.closers, func() { database.CloseRedis(client) })
	}
	return nil
}

// ConnectRedis returns the shared Redis client, connecting if needed.
func (a *App) ConnectRedis(ctx context.Context) (*redis.Client, error) {
	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}
	return a.Redis, nil
}

func (a *App) setupEvents() {
	if a.Events != nil {
		return
	}
	cfg := a.Config
	if len(cfg.KafkaBrokers) == 0 {
		log.Warn().Msg("KAFKA_BROKERS not configured, ledger events are discarded")
		a.Events = events.Noop{}
		return
	}
	p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	a.Events = p
	a.closers = append(a.closers, func() {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Kafka writer")
		}
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
