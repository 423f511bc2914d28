package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolhub/wallet-ledger/internal/domain/ledger"
)

func TestMemoryStoreLazyWallet(t *testing.T) {
	store := ledger.NewMemoryStore("KES")

	var w *ledger.Wallet
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		var err error
		w, err = tx.Wallet(context.Background(), "student-1")
		return err
	})
	if err != nil {
		t.Fatalf("wallet failed: %v", err)
	}
	if w.Balance != 0 || w.Currency != "KES" || w.HasPin() {
		t.Fatalf("unexpected new wallet: %+v", w)
	}
}

func TestMemoryStoreRollbackOnError(t *testing.T) {
	store := ledger.NewMemoryStore("KES")
	ctx := context.Background()

	seed(t, store, "u1", 1000)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Wallet(ctx, "u1"); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, "u1", 10); err != nil {
			return err
		}
		if _, err := tx.Wallet(ctx, "u2"); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &ledger.Transaction{ID: "t-rollback", WalletUserID: "u1", Type: ledger.TypePayment, Amount: -990, Status: ledger.StatusCompleted}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.WithTx(ctx, func(tx ledger.Tx) error {
		w, err := tx.Wallet(ctx, "u1")
		if err != nil {
			return err
		}
		if w.Balance != 1000 {
			t.Fatalf("expected balance restored to 1000, got %d", w.Balance)
		}
		if _, err := tx.Transaction(ctx, "t-rollback"); !errors.Is(err, ledger.ErrTransactionNotFound) {
			t.Fatalf("expected rolled back transaction to be gone, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestMemoryStoreOnePendingPerOrder(t *testing.T) {
	store := ledger.NewMemoryStore("KES")
	ctx := context.Background()
	order := "order-1"

	insert := func(id string) error {
		return store.WithTx(ctx, func(tx ledger.Tx) error {
			if _, err := tx.Wallet(ctx, "u1"); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, &ledger.Transaction{
				ID: id, WalletUserID: "u1", Type: ledger.TypePayment, Amount: -100,
				Status: ledger.StatusPending, OrderID: &order,
			})
		})
	}

	if err := insert("h1"); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}
	if err := insert("h2"); !errors.Is(err, ledger.ErrDuplicateHold) {
		t.Fatalf("expected ErrDuplicateHold, got %v", err)
	}

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		held, err := tx.HeldAmount(ctx, "u1")
		if err != nil {
			return err
		}
		if held != 100 {
			t.Fatalf("expected held 100, got %d", held)
		}
		if err := tx.SetTransactionStatus(ctx, "h1", ledger.StatusPending, ledger.StatusCancelled); err != nil {
			return err
		}
		if err := tx.SetTransactionStatus(ctx, "h1", ledger.StatusPending, ledger.StatusCompleted); !errors.Is(err, ledger.ErrStatusConflict) {
			t.Fatalf("expected ErrStatusConflict, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("status update failed: %v", err)
	}

	if err := insert("h3"); err != nil {
		t.Fatalf("hold after release should succeed: %v", err)
	}
}

func TestMemoryStoreListTransactions(t *testing.T) {
	store := ledger.NewMemoryStore("KES")
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	rows := []ledger.Transaction{
		{ID: "a", WalletUserID: "u1", Type: ledger.TypeTopUp, Amount: 500, Status: ledger.StatusCompleted, Timestamp: base},
		{ID: "b", WalletUserID: "u1", Type: ledger.TypePayment, Amount: -1200, Status: ledger.StatusCompleted, Timestamp: base.Add(time.Hour)},
		{ID: "c", WalletUserID: "u1", Type: ledger.TypePayment, Amount: -50, Status: ledger.StatusPending, Timestamp: base.Add(2 * time.Hour)},
		{ID: "d", WalletUserID: "u2", Type: ledger.TypeTopUp, Amount: 9000, Status: ledger.StatusCompleted, Timestamp: base.Add(3 * time.Hour)},
	}
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		for i := range rows {
			if _, err := tx.Wallet(ctx, rows[i].WalletUserID); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	list := func(f ledger.Filter) []string {
		var ids []string
		err := store.WithTx(ctx, func(tx ledger.Tx) error {
			out, err := tx.ListTransactions(ctx, f)
			for _, tr := range out {
				ids = append(ids, tr.ID)
			}
			return err
		})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		return ids
	}

	assertIDs(t, list(ledger.Filter{UserID: "u1"}), "c", "b", "a")
	assertIDs(t, list(ledger.Filter{UserID: "u1", SortBy: ledger.SortByAmount}), "b", "a", "c")
	assertIDs(t, list(ledger.Filter{UserID: "u1", SortBy: ledger.SortByAmount, Asc: true}), "c", "a", "b")
	assertIDs(t, list(ledger.Filter{UserID: "u1", Types: []ledger.TransactionType{ledger.TypePayment}}), "c", "b")

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	assertIDs(t, list(ledger.Filter{DateFrom: &from, DateTo: &to}), "b")
	assertIDs(t, list(ledger.Filter{Limit: 2, Offset: 1}), "c", "b")
}

func TestMemoryStorePinResets(t *testing.T) {
	store := ledger.NewMemoryStore("KES")
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertPinReset(ctx, &ledger.PinResetRequest{ID: "r1", UserID: "u1", Status: ledger.PinResetPending}); err != nil {
			return err
		}
		p, err := tx.PendingPinReset(ctx, "u1")
		if err != nil {
			return err
		}
		if p == nil || p.ID != "r1" {
			t.Fatalf("expected pending r1, got %+v", p)
		}
		if err := tx.CompletePinReset(ctx, "r1"); err != nil {
			return err
		}
		if err := tx.CompletePinReset(ctx, "r1"); !errors.Is(err, ledger.ErrRequestNotPending) {
			t.Fatalf("expected ErrRequestNotPending, got %v", err)
		}
		if err := tx.CompletePinReset(ctx, "missing"); !errors.Is(err, ledger.ErrRequestNotFound) {
			t.Fatalf("expected ErrRequestNotFound, got %v", err)
		}
		p, err = tx.PendingPinReset(ctx, "u1")
		if err != nil {
			return err
		}
		if p != nil {
			t.Fatalf("expected no pending request, got %+v", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("pin reset flow failed: %v", err)
	}
}

func TestMemoryStoreRejectsFinishedUnit(t *testing.T) {
	store := ledger.NewMemoryStore("KES")
	ctx := context.Background()

	var leaked ledger.Tx
	if err := store.WithTx(ctx, func(tx ledger.Tx) error {
		leaked = tx
		return nil
	}); err != nil {
		t.Fatalf("unit failed: %v", err)
	}
	if _, err := leaked.Wallet(ctx, "u1"); !errors.Is(err, ledger.ErrInternal) {
		t.Fatalf("expected ErrInternal for leaked tx, got %v", err)
	}
}

func seed(t *testing.T, store ledger.Store, userID string, balance int64) {
	t.Helper()
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Wallet(ctx, userID); err != nil {
			return err
		}
		return tx.SetBalance(ctx, userID, balance)
	})
	if err != nil {
		t.Fatalf("seed %s failed: %v", userID, err)
	}
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, got)
		}
	}
}
