package arena

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/notify"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreUpdatePersists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Update(ctx, func(txn *Txn) error {
		txn.State.Event.Name = "Night Harbor Festival"
		txn.State.Owner = "acct-owner"
		txn.State.Escrow["acct-1"] = 4500
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(state *State) error {
		if state.Event.Name != "Night Harbor Festival" {
			t.Fatalf("expected event name persisted, got %q", state.Event.Name)
		}
		if state.Owner != "acct-owner" {
			t.Fatalf("expected owner persisted, got %q", state.Owner)
		}
		if state.Escrow["acct-1"] != 4500 {
			t.Fatalf("expected escrow persisted, got %d", state.Escrow["acct-1"])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreUpdateRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Update(ctx, func(txn *Txn) error {
		txn.State.Event.Name = "Kept"
		return nil
	}); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	boom := errors.New("module failed")
	err := store.Update(ctx, func(txn *Txn) error {
		txn.State.Event.Name = "Discarded"
		txn.State.Escrow["acct-1"] = 999
		txn.Log.Emit(notify.KindTicketPurchased, "acct-1", nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected module failure to propagate unchanged, got %v", err)
	}

	err = store.View(ctx, func(state *State) error {
		if state.Event.Name != "Kept" {
			t.Fatalf("expected state rolled back, got name %q", state.Event.Name)
		}
		if len(state.Escrow) != 0 {
			t.Fatalf("expected escrow rolled back, got %v", state.Escrow)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	events, err := store.Notifications(ctx, 0, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty journal after rollback, got %d events", len(events))
	}
}

func TestStoreRejectsDoneContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Update(ctx, func(txn *Txn) error {
		txn.State.Owner = "acct-late"
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := store.View(context.Background(), func(state *State) error {
		if state.Owner != "" {
			t.Fatalf("expired call wrote state: owner %q", state.Owner)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	if err := store.View(ctx, func(*State) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from view, got %v", err)
	}
}

func TestStoreNotificationsSequence(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	err := store.Update(ctx, func(txn *Txn) error {
		txn.Log.Emit(notify.KindInitialized, "acct-creator", nil)
		txn.Log.Emit(notify.KindTierAdded, "acct-owner", map[string]string{"tier": "0"})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	err = store.Update(ctx, func(txn *Txn) error {
		txn.Log.Emit(notify.KindTicketPurchased, "acct-1", nil)
		return nil
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	events, err := store.Notifications(ctx, 0, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, evt := range events {
		if evt.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, evt.Seq)
		}
	}

	tail, err := store.Notifications(ctx, 2, 10)
	if err != nil {
		t.Fatalf("notifications after seq 2: %v", err)
	}
	if len(tail) != 1 || tail[0].Kind != notify.KindTicketPurchased {
		t.Fatalf("expected only the purchase event, got %+v", tail)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
