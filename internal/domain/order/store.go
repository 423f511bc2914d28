package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// OrderStore is the ledger's view of the order collaborator.
type OrderStore interface {
	Status(ctx context.Context, orderID string) (Status, error)
	SetStatus(ctx context.Context, orderID string, status Status) error
}

// MemoryOrderStore keeps order statuses in a map.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]Status
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]Status)}
}

// Put registers an order, replacing any existing status.
func (m *MemoryOrderStore) Put(orderID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID] = status
}

func (m *MemoryOrderStore) Status(_ context.Context, orderID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.orders[orderID]
	if !ok {
		return "", ErrOrderNotFound
	}
	return s, nil
}

func (m *MemoryOrderStore) SetStatus(_ context.Context, orderID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return ErrOrderNotFound
	}
	m.orders[orderID] = status
	return nil
}

const queryTimeout = 3 * time.Second

// PostgresOrderStore reads and writes the status column of the portal's
// orders table.
type PostgresOrderStore struct {
	db *sqlx.DB
}

func NewPostgresOrderStore(db *sqlx.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

func (p *PostgresOrderStore) Status(ctx context.Context, orderID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var s string
	err := p.db.GetContext(ctx, &s, `SELECT status FROM orders WHERE id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get order status: %w", err)
	}
	return Status(s), nil
}

func (p *PostgresOrderStore) SetStatus(ctx context.Context, orderID string, status Status) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := p.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, orderID, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}
