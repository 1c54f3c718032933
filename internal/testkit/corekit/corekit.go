// Package corekit wires a complete execution core for module tests: arena
// store, dispatcher, business module routes, and hookable collaborator
// fakes. The hooks let tests inject externally-controlled behavior into
// collaborator interactions, which is how re-entrancy is exercised.
package corekit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/collab"
	"github.com/stagegate/stagegate/internal/collab/local"
	"github.com/stagegate/stagegate/internal/modules/event"
	"github.com/stagegate/stagegate/internal/modules/purchase"
	"github.com/stagegate/stagegate/internal/modules/resale"
	"github.com/stagegate/stagegate/internal/modules/staff"
	"github.com/stagegate/stagegate/internal/platform/codec"
	"github.com/stagegate/stagegate/internal/router"
)

// Account names used across module tests.
const (
	Owner    = "acct-owner"
	Instance = "acct-instance"
	Buyer    = "acct-buyer"
	Second   = "acct-second"
	Staffer  = "acct-staffer"
)

// HookedLedger wraps a payment ledger and runs TransferHook before each
// transfer. The hook receives the interaction context, which carries the
// call frame, so it can attempt to re-enter the dispatcher.
type HookedLedger struct {
	Inner        collab.PaymentLedger
	TransferHook func(ctx context.Context) error
}

func (l *HookedLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	return l.Inner.BalanceOf(ctx, account)
}

func (l *HookedLedger) Transfer(ctx context.Context, from, to string, amountCents uint64) error {
	if l.TransferHook != nil {
		if err := l.TransferHook(ctx); err != nil {
			return err
		}
	}
	return l.Inner.Transfer(ctx, from, to, amountCents)
}

// HookedToken wraps a ticket token and runs MintHook / TransferHook before
// the wrapped interaction.
type HookedToken struct {
	Inner        collab.TicketToken
	MintHook     func(ctx context.Context) error
	TransferHook func(ctx context.Context) error
}

func (t *HookedToken) Mint(ctx context.Context, to string, id uint64) error {
	if t.MintHook != nil {
		if err := t.MintHook(ctx); err != nil {
			return err
		}
	}
	return t.Inner.Mint(ctx, to, id)
}

func (t *HookedToken) OwnerOf(ctx context.Context, id uint64) (string, error) {
	return t.Inner.OwnerOf(ctx, id)
}

func (t *HookedToken) Transfer(ctx context.Context, from, to string, id uint64) error {
	if t.TransferHook != nil {
		if err := t.TransferHook(ctx); err != nil {
			return err
		}
	}
	return t.Inner.Transfer(ctx, from, to, id)
}

func (t *HookedToken) SetStatus(ctx context.Context, id uint64, status string) error {
	return t.Inner.SetStatus(ctx, id, status)
}

// Core is a fully wired execution core for tests.
type Core struct {
	Dispatcher *router.Dispatcher
	Store      *arena.Store
	Token      *HookedToken
	Ledger     *HookedLedger
	RawToken   *local.Token
	RawLedger  *local.Ledger
}

// New builds the core: all four business modules registered and routed, the
// owner bootstrapped, and the ledger seeded with generous balances for the
// well-known test accounts.
func New(t *testing.T) *Core {
	t.Helper()

	store, err := arena.Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open arena store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rawToken := local.NewToken()
	rawLedger := local.NewLedger(map[string]uint64{
		Owner:   1_000_000,
		Buyer:   1_000_000,
		Second:  1_000_000,
		Staffer: 1_000_000,
	})
	token := &HookedToken{Inner: rawToken}
	ledger := &HookedLedger{Inner: rawLedger}

	registry := router.NewRegistry()
	registry.Register(event.Address, event.New())
	registry.Register(purchase.Address, purchase.New(token, ledger, Instance))
	registry.Register(resale.Address, resale.New(token, ledger, Instance))
	registry.Register(staff.Address, staff.New(token))

	dispatcher := router.New(store, registry)
	ctx := context.Background()
	if err := dispatcher.Bootstrap(ctx, Owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	batch := []router.Change{
		{Action: router.ActionAdd, Address: event.Address, Ops: event.Routes()},
		{Action: router.ActionAdd, Address: purchase.Address, Ops: purchase.Routes()},
		{Action: router.ActionAdd, Address: resale.Address, Ops: resale.Routes()},
		{Action: router.ActionAdd, Address: staff.Address, Ops: staff.Routes()},
	}
	if err := dispatcher.SubmitRouteChanges(ctx, Owner, batch, nil); err != nil {
		t.Fatalf("register routes: %v", err)
	}

	return &Core{
		Dispatcher: dispatcher,
		Store:      store,
		Token:      token,
		Ledger:     ledger,
		RawToken:   rawToken,
		RawLedger:  rawLedger,
	}
}

// InitializeEvent initializes the event with code 1 and two tiers: GA
// (index 0, 4500 cents, capacity 100) and VIP (index 1, 12000 cents,
// capacity 10).
func (c *Core) InitializeEvent(t *testing.T) {
	t.Helper()
	c.MustDispatch(t, Owner, event.OpInitialize, event.InitializeArgs{
		Name:     "Night Harbor Festival",
		Venue:    "Pier 9",
		Category: "music",
		Code:     1,
	}, nil)
	c.MustDispatch(t, Owner, event.OpAddTier, event.AddTierArgs{
		Name: "GA", PriceCents: 4500, Capacity: 100,
	}, nil)
	c.MustDispatch(t, Owner, event.OpAddTier, event.AddTierArgs{
		Name: "VIP", PriceCents: 12000, Capacity: 10,
	}, nil)
}

// Dispatch encodes args and dispatches op as caller.
func (c *Core) Dispatch(t *testing.T, caller string, op router.OpID, args any) ([]byte, error) {
	t.Helper()
	var payload []byte
	if args != nil {
		encoded, err := codec.Marshal(args)
		if err != nil {
			t.Fatalf("marshal args: %v", err)
		}
		payload = encoded
	}
	return c.Dispatcher.Dispatch(context.Background(), caller, op, payload)
}

// MustDispatch dispatches and fails the test on error, decoding the result
// into out when out is non-nil.
func (c *Core) MustDispatch(t *testing.T, caller string, op router.OpID, args, out any) {
	t.Helper()
	result, err := c.Dispatch(t, caller, op, args)
	if err != nil {
		t.Fatalf("dispatch %s: %v", op, err)
	}
	if out != nil {
		if err := codec.Unmarshal(result, out); err != nil {
			t.Fatalf("decode result of %s: %v", op, err)
		}
	}
}

// State loads a read-only snapshot of the arena aggregate.
func (c *Core) State(t *testing.T) *arena.State {
	t.Helper()
	var snapshot *arena.State
	err := c.Store.View(context.Background(), func(state *arena.State) error {
		snapshot = state
		return nil
	})
	if err != nil {
		t.Fatalf("view state: %v", err)
	}
	return snapshot
}
