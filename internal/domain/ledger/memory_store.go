package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. One mutex is held for the whole of
// each unit, and every write journals an undo step so a failed unit
// leaves the maps exactly as they were.
type MemoryStore struct {
	mu        sync.Mutex
	currency  string
	now       func() time.Time
	wallets   map[string]*Wallet
	txs       []*Transaction
	txByID    map[string]*Transaction
	resets    []*PinResetRequest
	resetByID map[string]*PinResetRequest
}

// NewMemoryStore creates an empty store whose wallets use currency.
func NewMemoryStore(currency string) *MemoryStore {
	return &MemoryStore{
		currency:  currency,
		now:       time.Now,
		wallets:   make(map[string]*Wallet),
		txByID:    make(map[string]*Transaction),
		resetByID: make(map[string]*PinResetRequest),
	}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{s: m}
	defer func() {
		tx.done = true
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memoryTx struct {
	s    *MemoryStore
	undo []func()
	done bool
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) check(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%w: unit already finished", ErrInternal)
	}
	return ctx.Err()
}

func (t *memoryTx) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	w, ok := t.s.wallets[userID]
	if !ok {
		w = &Wallet{UserID: userID, Currency: t.s.currency, UpdatedAt: t.s.now()}
		t.s.wallets[userID] = w
		t.undo = append(t.undo, func() { delete(t.s.wallets, userID) })
	}
	cp := *w
	if w.PinHash != nil {
		h := *w.PinHash
		cp.PinHash = &h
	}
	return &cp, nil
}

func (t *memoryTx) existing(userID string) (*Wallet, error) {
	w, ok := t.s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s not loaded", ErrInternal, userID)
	}
	return w, nil
}

func (t *memoryTx) SetBalance(ctx context.Context, userID string, balance int64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if balance < 0 {
		return ErrInsufficientFunds
	}
	w, err := t.existing(userID)
	if err != nil {
		return err
	}
	prev, prevAt := w.Balance, w.UpdatedAt
	w.Balance = balance
	w.UpdatedAt = t.s.now()
	t.undo = append(t.undo, func() { w.Balance, w.UpdatedAt = prev, prevAt })
	return nil
}

func (t *memoryTx) SetPinHash(ctx context.Context, userID string, hash *string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	w, err := t.existing(userID)
	if err != nil {
		return err
	}
	prev := w.PinHash
	if hash != nil {
		h := *hash
		w.PinHash = &h
	} else {
		w.PinHash = nil
	}
	t.undo = append(t.undo, func() { w.PinHash = prev })
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.s.txByID[tr.ID]; ok {
		return fmt.Errorf("%w: duplicate transaction id %s", ErrInternal, tr.ID)
	}
	if tr.Status == StatusPending && tr.OrderID != nil {
		if _, err := t.pendingByOrder(*tr.OrderID); err == nil {
			return ErrDuplicateHold
		}
	}
	if tr.Timestamp.IsZero() {
		tr.Timestamp = t.s.now()
	}
	cp := *tr
	t.s.txs = append(t.s.txs, &cp)
	t.s.txByID[cp.ID] = &cp
	n := len(t.s.txs)
	t.undo = append(t.undo, func() {
		t.s.txs = t.s.txs[:n-1]
		delete(t.s.txByID, cp.ID)
	})
	return nil
}

func (t *memoryTx) Transaction(ctx context.Context, id string) (*Transaction, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	tr, ok := t.s.txByID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tr
	return &cp, nil
}

func (t *memoryTx) pendingByOrder(orderID string) (*Transaction, error) {
	for _, tr := range t.s.txs {
		if tr.Status == StatusPending && tr.OrderID != nil && *tr.OrderID == orderID {
			return tr, nil
		}
	}
	return nil, ErrHoldNotFound
}

func (t *memoryTx) PendingByOrder(ctx context.Context, orderID string) (*Transaction, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	tr, err := t.pendingByOrder(orderID)
	if err != nil {
		return nil, err
	}
	cp := *tr
	return &cp, nil
}

func (t *memoryTx) LatestByOrder(ctx context.Context, orderID string) (*Transaction, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	for i := len(t.s.txs) - 1; i >= 0; i-- {
		tr := t.s.txs[i]
		if tr.OrderID != nil && *tr.OrderID == orderID && tr.Amount < 0 {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, ErrHoldNotFound
}

func (t *memoryTx) SetTransactionStatus(ctx context.Context, id string, from, to Status) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	tr, ok := t.s.txByID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if tr.Status != from {
		return ErrStatusConflict
	}
	tr.Status = to
	t.undo = append(t.undo, func() { tr.Status = from })
	return nil
}

func (t *memoryTx) HeldAmount(ctx context.Context, userID string) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	var held int64
	for _, tr := range t.s.txs {
		if tr.WalletUserID == userID && tr.Status == StatusPending && tr.Type.Holdable() {
			held += tr.AbsAmount()
		}
	}
	return held, nil
}

func (t *memoryTx) ListTransactions(ctx context.Context, f Filter) ([]Transaction, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	out := make([]Transaction, 0)
	for _, tr := range t.s.txs {
		if matches(tr, f) {
			out = append(out, *tr)
		}
	}
	sortTransactions(out, f.SortBy, f.Asc)
	return paginate(out, f.Limit, f.Offset), nil
}

func (t *memoryTx) InsertPinReset(ctx context.Context, r *PinResetRequest) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.s.resetByID[r.ID]; ok {
		return fmt.Errorf("%w: duplicate pin reset id %s", ErrInternal, r.ID)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = t.s.now()
	}
	cp := *r
	t.s.resets = append(t.s.resets, &cp)
	t.s.resetByID[cp.ID] = &cp
	n := len(t.s.resets)
	t.undo = append(t.undo, func() {
		t.s.resets = t.s.resets[:n-1]
		delete(t.s.resetByID, cp.ID)
	})
	return nil
}

func (t *memoryTx) PinReset(ctx context.Context, id string) (*PinResetRequest, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	r, ok := t.s.resetByID[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memoryTx) PendingPinReset(ctx context.Context, userID string) (*PinResetRequest, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	for _, r := range t.s.resets {
		if r.UserID == userID && r.Status == PinResetPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) ListPendingPinResets(ctx context.Context) ([]PinResetRequest, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	out := make([]PinResetRequest, 0)
	for _, r := range t.s.resets {
		if r.Status == PinResetPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (t *memoryTx) CompletePinReset(ctx context.Context, id string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	r, ok := t.s.resetByID[id]
	if !ok {
		return ErrRequestNotFound
	}
	if r.Status != PinResetPending {
		return ErrRequestNotPending
	}
	now := t.s.now()
	r.Status = PinResetCompleted
	r.CompletedAt = &now
	t.undo = append(t.undo, func() {
		r.Status = PinResetPending
		r.CompletedAt = nil
	})
	return nil
}

func matches(tr *Transaction, f Filter) bool {
	if f.UserID != "" && tr.WalletUserID != f.UserID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, typ := range f.Types {
			if tr.Type == typ {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != nil && tr.Status != *f.Status {
		return false
	}
	if f.OrderID != nil && (tr.OrderID == nil || *tr.OrderID != *f.OrderID) {
		return false
	}
	if f.FeeID != nil && (tr.FeeID == nil || *tr.FeeID != *f.FeeID) {
		return false
	}
	if f.DateFrom != nil && tr.Timestamp.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && tr.Timestamp.After(*f.DateTo) {
		return false
	}
	return true
}

func sortTransactions(txs []Transaction, by SortField, asc bool) {
	sort.SliceStable(txs, func(i, j int) bool {
		var less bool
		if by == SortByAmount {
			a, b := txs[i].AbsAmount(), txs[j].AbsAmount()
			if a == b {
				return false
			}
			less = a < b
		} else {
			if txs[i].Timestamp.Equal(txs[j].Timestamp) {
				return false
			}
			less = txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		if asc {
			return less
		}
		return !less
	})
}

func paginate(txs []Transaction, limit, offset int) []Transaction {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(txs) {
		return []Transaction{}
	}
	txs = txs[offset:]
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return txs
}

var _ Store = (*MemoryStore)(nil)
