package hold_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/schoolhub/wallet-ledger/internal/domain/hold"
	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
	"github.com/schoolhub/wallet-ledger/internal/domain/wallet"
	"github.com/schoolhub/wallet-ledger/internal/pkg/events"
	"github.com/schoolhub/wallet-ledger/internal/pkg/lock"
)

type fixture struct {
	wallets *wallet.Service
	engine  *hold.Engine
	events  *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore("KES")
	rec := &events.Recorder{}
	return &fixture{
		wallets: wallet.NewService(store, rec, 4),
		engine:  hold.NewEngine(store, lock.NewLocal(), rec),
		events:  rec,
	}
}

func (f *fixture) topUp(t *testing.T, userID string, amount int64) {
	t.Helper()
	if _, err := f.wallets.TopUp(context.Background(), userID, amount, "cash"); err != nil {
		t.Fatalf("topup failed: %v", err)
	}
}

func (f *fixture) balances(t *testing.T, userID string) (balance, available int64) {
	t.Helper()
	w, err := f.wallets.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	available, err = f.wallets.AvailableBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	return w.Balance, available
}

func order(buyer, orderID string, amount int64) hold.HoldRequest {
	return hold.HoldRequest{
		BuyerID:      buyer,
		Amount:       amount,
		Description:  "Canteen order " + orderID,
		RecipientRef: "shop-owner",
		OrderID:      orderID,
	}
}

func TestCreateHoldConservesBalance(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)

	h, err := f.engine.CreateHold(context.Background(), order("student", "o1", 300))
	if err != nil {
		t.Fatalf("create hold failed: %v", err)
	}
	if h.Status != ledger.StatusPending || h.Amount != -300 || h.Type != ledger.TypePayment {
		t.Fatalf("unexpected hold: %+v", h)
	}

	bal, avail := f.balances(t, "student")
	if bal != 1000 || avail != 700 {
		t.Fatalf("expected balance 1000 available 700, got %d/%d", bal, avail)
	}
	if len(f.events.OfType(events.TypeHoldCreated)) != 1 {
		t.Fatal("expected hold.created event")
	}
}

func TestCreateHoldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.topUp(t, "student", 1000)

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 0)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.engine.CreateHold(ctx, hold.HoldRequest{BuyerID: "student", Amount: 10}); !errors.Is(err, hold.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without order or fee, got %v", err)
	}
	bad := order("student", "o1", 10)
	bad.Type = ledger.TypeTopUp
	if _, err := f.engine.CreateHold(ctx, bad); !errors.Is(err, hold.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for top-up hold, got %v", err)
	}
}

func TestCreateHoldInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 100)

	if _, err := f.engine.CreateHold(context.Background(), order("student", "o1", 101)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := f.engine.Hold(context.Background(), "o1"); !errors.Is(err, ledger.ErrHoldNotFound) {
		t.Fatalf("expected no hold row, got %v", err)
	}
}

func TestCreateHoldDuplicate(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 100)); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}
	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 100)); !errors.Is(err, ledger.ErrDuplicateHold) {
		t.Fatalf("expected ErrDuplicateHold, got %v", err)
	}
}

func TestSettleHoldConservesMoney(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 300)); err != nil {
		t.Fatalf("create hold failed: %v", err)
	}

	s, err := f.engine.SettleHold(ctx, "o1", hold.Direct)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if s.RecipientID != "shop-owner" || s.Hold.Status != ledger.StatusCompleted || s.Credit.Amount != 300 {
		t.Fatalf("unexpected settlement: %+v", s)
	}

	bal, avail := f.balances(t, "student")
	if bal != 700 || avail != 700 {
		t.Fatalf("expected buyer 700/700, got %d/%d", bal, avail)
	}
	if bal, _ := f.balances(t, "shop-owner"); bal != 300 {
		t.Fatalf("expected recipient 300, got %d", bal)
	}

	h, err := f.engine.Hold(ctx, "o1")
	if err != nil || h.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed hold, got %+v, %v", h, err)
	}
}

func TestSettleHoldTwice(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 300)); err != nil {
		t.Fatalf("create hold failed: %v", err)
	}
	if _, err := f.engine.SettleHold(ctx, "o1", hold.Direct); err != nil {
		t.Fatalf("first settle failed: %v", err)
	}
	if _, err := f.engine.SettleHold(ctx, "o1", hold.Direct); !errors.Is(err, ledger.ErrHoldNotFound) {
		t.Fatalf("expected ErrHoldNotFound on second settle, got %v", err)
	}
	if bal, _ := f.balances(t, "shop-owner"); bal != 300 {
		t.Fatalf("expected recipient credited once, got %d", bal)
	}
	if _, err := f.engine.SettleHold(ctx, "unknown", hold.Direct); !errors.Is(err, ledger.ErrHoldNotFound) {
		t.Fatalf("expected ErrHoldNotFound for unknown order, got %v", err)
	}
}

func TestSettleHoldRecipientFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 300)); err != nil {
		t.Fatalf("create hold failed: %v", err)
	}

	shopGone := errors.New("shop deleted")
	failing := hold.ResolverFunc(func(context.Context, *ledger.Transaction) (string, error) {
		return "", shopGone
	})
	_, err := f.engine.SettleHold(ctx, "o1", failing)
	if !errors.Is(err, ledger.ErrRecipientNotFound) || !errors.Is(err, shopGone) {
		t.Fatalf("expected ErrRecipientNotFound wrapping cause, got %v", err)
	}

	bal, avail := f.balances(t, "student")
	if bal != 1000 || avail != 700 {
		t.Fatalf("expected untouched buyer 1000/700, got %d/%d", bal, avail)
	}
	h, err := f.engine.Hold(ctx, "o1")
	if err != nil || h.Status != ledger.StatusPending {
		t.Fatalf("expected hold still pending, got %+v, %v", h, err)
	}

	// Retry with a working resolver succeeds.
	if _, err := f.engine.SettleHold(ctx, "o1", hold.Fixed("shop-owner")); err != nil {
		t.Fatalf("retry settle failed: %v", err)
	}
}

func TestReleaseHold(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	if err := f.engine.ReleaseHold(ctx, "never-held"); err != nil {
		t.Fatalf("release of unknown order should be a no-op, got %v", err)
	}

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 400)); err != nil {
		t.Fatalf("create hold failed: %v", err)
	}
	if err := f.engine.ReleaseHold(ctx, "o1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	bal, avail := f.balances(t, "student")
	if bal != 1000 || avail != 1000 {
		t.Fatalf("expected 1000/1000 after release, got %d/%d", bal, avail)
	}

	if err := f.engine.ReleaseHold(ctx, "o1"); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
	if _, err := f.engine.SettleHold(ctx, "o1", hold.Direct); !errors.Is(err, ledger.ErrHoldNotFound) {
		t.Fatalf("expected ErrHoldNotFound settling a released hold, got %v", err)
	}
	if len(f.events.OfType(events.TypeHoldReleased)) != 1 {
		t.Fatalf("expected exactly one release event, got %d", len(f.events.OfType(events.TypeHoldReleased)))
	}

	h, err := f.engine.Hold(ctx, "o1")
	if err != nil || h.Status != ledger.StatusCancelled {
		t.Fatalf("expected cancelled hold, got %+v, %v", h, err)
	}

	// A fresh hold on the same order is allowed once the old one is released.
	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 400)); err != nil {
		t.Fatalf("re-hold after release failed: %v", err)
	}
}

func TestReleaseAfterSettleIsNoop(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	if _, err := f.engine.CreateHold(ctx, order("student", "o1", 250)); err != nil {
		t.Fatalf("create hold failed: %v", err)
	}
	if _, err := f.engine.SettleHold(ctx, "o1", hold.Direct); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if err := f.engine.ReleaseHold(ctx, "o1"); err != nil {
		t.Fatalf("release after settle should be a no-op, got %v", err)
	}
	if bal, _ := f.balances(t, "student"); bal != 750 {
		t.Fatalf("expected 750, got %d", bal)
	}
}

func TestPayNow(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 5000)
	ctx := context.Background()

	s, err := f.engine.PayNow(ctx, hold.HoldRequest{
		BuyerID:     "student",
		Amount:      3000,
		Description: "Term 1 fees",
		FeeID:       "fee-1",
		Type:        ledger.TypeFeePayment,
	}, hold.Fixed("bursar"))
	if err != nil {
		t.Fatalf("pay now failed: %v", err)
	}
	if s.Hold.Status != ledger.StatusCompleted || s.Hold.Type != ledger.TypeFeePayment || ledger.Deref(s.Hold.FeeID) != "fee-1" {
		t.Fatalf("unexpected payment row: %+v", s.Hold)
	}

	bal, avail := f.balances(t, "student")
	if bal != 2000 || avail != 2000 {
		t.Fatalf("expected 2000/2000, got %d/%d", bal, avail)
	}
	if bal, _ := f.balances(t, "bursar"); bal != 3000 {
		t.Fatalf("expected bursar 3000, got %d", bal)
	}

	if _, err := f.engine.PayNow(ctx, hold.HoldRequest{BuyerID: "student", Amount: 2001, FeeID: "fee-2", Type: ledger.TypeFeePayment}, hold.Fixed("bursar")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	_, err = f.engine.PayNow(ctx, hold.HoldRequest{BuyerID: "student", Amount: 100, FeeID: "fee-3", Type: ledger.TypeFeePayment}, hold.Fixed(""))
	if !errors.Is(err, ledger.ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	pending := ledger.StatusPending
	rows, err := f.wallets.History(ctx, wallet.HistoryQuery{UserID: "student", Status: &pending})
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("failed pay-now must leave no pending row, got %+v", rows)
	}
}

func TestConcurrentHoldsNeverOverCommit(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "student", 1000)
	ctx := context.Background()

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.CreateHold(ctx, order("student", fmt.Sprintf("o-%d", i), 150))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success != 6 {
		t.Fatalf("expected 6 holds of 150 within 1000, got %d", success)
	}
	_, avail := f.balances(t, "student")
	if avail != 100 {
		t.Fatalf("expected available 100, got %d", avail)
	}
}

// walletOrderStore records the order in which each unit first loads wallets.
type walletOrderStore struct {
	ledger.Store

	mu    sync.Mutex
	units [][]string
}

func (s *walletOrderStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	rt := &walletOrderTx{seen: map[string]bool{}}
	err := s.Store.WithTx(ctx, func(tx ledger.Tx) error {
		rt.Tx = tx
		return fn(rt)
	})
	s.mu.Lock()
	s.units = append(s.units, rt.order)
	s.mu.Unlock()
	return err
}

func (s *walletOrderStore) last() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[len(s.units)-1]
}

type walletOrderTx struct {
	ledger.Tx
	seen  map[string]bool
	order []string
}

func (t *walletOrderTx) Wallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	if !t.seen[userID] {
		t.seen[userID] = true
		t.order = append(t.order, userID)
	}
	return t.Tx.Wallet(ctx, userID)
}

func TestSettlementLocksWalletsInIDOrder(t *testing.T) {
	store := &walletOrderStore{Store: ledger.NewMemoryStore("KES")}
	wallets := wallet.NewService(store, events.Noop{}, 4)
	engine := hold.NewEngine(store, lock.NewLocal(), events.Noop{})
	ctx := context.Background()

	for _, id := range []string{"zed", "amy"} {
		if _, err := wallets.TopUp(ctx, id, 1000, "cash"); err != nil {
			t.Fatalf("topup failed: %v", err)
		}
	}

	if _, err := engine.CreateHold(ctx, order("zed", "o-zed", 300)); err != nil {
		t.Fatalf("create hold failed: %v", err)
	}
	if _, err := engine.SettleHold(ctx, "o-zed", hold.Fixed("amy")); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if got := fmt.Sprint(store.last()); got != "[amy zed]" {
		t.Fatalf("expected settlement to lock wallets in id order, got %s", got)
	}

	if _, err := engine.PayNow(ctx, hold.HoldRequest{
		BuyerID: "zed", Amount: 100, FeeID: "fee-1", Type: ledger.TypeFeePayment,
	}, hold.Fixed("amy")); err != nil {
		t.Fatalf("pay now failed: %v", err)
	}
	if got := fmt.Sprint(store.last()); got != "[amy zed]" {
		t.Fatalf("expected pay-now to lock wallets in id order, got %s", got)
	}
}
