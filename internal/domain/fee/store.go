package fee

import (
	"context"
	"sync"
)

type FeeStore interface {
	Create(ctx context.Context, f *Fee) error
	Get(ctx context.Context, id string) (*Fee, error)
	// RecordPayment fails with ErrAlreadyPaid if the student already paid.
	RecordPayment(ctx context.Context, feeID, studentID string, p Payment) error
}

type MemoryFeeStore struct {
	mu   sync.RWMutex
	fees map[string]*Fee
}

func NewMemoryFeeStore() *MemoryFeeStore {
	return &MemoryFeeStore{fees: make(map[string]*Fee)}
}

func (m *MemoryFeeStore) Create(_ context.Context, f *Fee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	cp.Payments = make(map[string]Payment, len(f.Payments))
	for k, v := range f.Payments {
		cp.Payments[k] = v
	}
	m.fees[f.ID] = &cp
	return nil
}

func (m *MemoryFeeStore) Get(_ context.Context, id string) (*Fee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fees[id]
	if !ok {
		return nil, ErrFeeNotFound
	}
	cp := *f
	cp.Payments = make(map[string]Payment, len(f.Payments))
	for k, v := range f.Payments {
		cp.Payments[k] = v
	}
	return &cp, nil
}

func (m *MemoryFeeStore) RecordPayment(_ context.Context, feeID, studentID string, p Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fees[feeID]
	if !ok {
		return ErrFeeNotFound
	}
	if _, paid := f.Payments[studentID]; paid {
		return ErrAlreadyPaid
	}
	f.Payments[studentID] = p
	return nil
}
