package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/schoolhub/wallet-ledger/internal/domain/hold"
	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
)

// ShopDirectory is the catalog port that knows who owns a shop.
type ShopDirectory interface {
	OwnerOf(ctx context.Context, shopRef string) (string, error)
}

// ShopOwnerResolver pays a hold to the owner of the shop named in the
// hold's recipient reference.
func ShopOwnerResolver(dir ShopDirectory) hold.RecipientResolver {
	return hold.ResolverFunc(func(ctx context.Context, h *ledger.Transaction) (string, error) {
		shopRef := ledger.Deref(h.Recipient)
		if shopRef == "" {
			return "", ledger.ErrNoRecipientConfigured
		}
		owner, err := dir.OwnerOf(ctx, shopRef)
		if err != nil {
			return "", fmt.Errorf("owner of %s: %w", shopRef, err)
		}
		if owner == "" {
			return "", fmt.Errorf("shop %s has no owner", shopRef)
		}
		return owner, nil
	})
}

// MapDirectory is an in-memory ShopDirectory.
type MapDirectory struct {
	mu     sync.RWMutex
	owners map[string]string
}

func NewMapDirectory(owners map[string]string) *MapDirectory {
	d := &MapDirectory{owners: make(map[string]string, len(owners))}
	for shop, owner := range owners {
		d.owners[shop] = owner
	}
	return d
}

func (d *MapDirectory) Set(shopRef, ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[shopRef] = ownerID
}

func (d *MapDirectory) Remove(shopRef string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.owners, shopRef)
}

func (d *MapDirectory) OwnerOf(_ context.Context, shopRef string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	owner, ok := d.owners[shopRef]
	if !ok {
		return "", ledger.ErrRecipientNotFound
	}
	return owner, nil
}

// PostgresShopDirectory reads shop owners from the catalog's shops table.
type PostgresShopDirectory struct {
	db *sqlx.DB
}

func NewPostgresShopDirectory(db *sqlx.DB) *PostgresShopDirectory {
	return &PostgresShopDirectory{db: db}
}

func (p *PostgresShopDirectory) OwnerOf(ctx context.Context, shopRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var owner string
	err := p.db.GetContext(ctx, &owner, `SELECT owner_id FROM shops WHERE id = $1`, shopRef)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ledger.ErrRecipientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get shop owner: %w", err)
	}
	return owner, nil
}
