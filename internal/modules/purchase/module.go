// Package purchase implements primary ticket sales and escrow settlement.
// Every sequence that touches an external collaborator follows the
// effects-before-interactions discipline and holds a per-operation
// re-entrancy lock: state is mutated first, the token/ledger interaction
// runs last, and a callback that re-enters the guarded operation is
// rejected rather than surviving on ordering luck.
package purchase

import (
	"context"
	"fmt"

	"github.com/stagegate/stagegate/internal/access"
	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/collab"
	"github.com/stagegate/stagegate/internal/notify"
	"github.com/stagegate/stagegate/internal/platform/codec"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/router"
	"github.com/stagegate/stagegate/internal/ticket"
)

// Address is the module's default registry address.
const Address = "purchase@1"

// Operation identifiers owned by this module.
var (
	OpBuy      = router.OpNamed("purchase.buy")
	OpWithdraw = router.OpNamed("purchase.withdraw")
	OpRefund   = router.OpNamed("purchase.refund")
	OpEscrowOf = router.OpNamed("purchase.escrowOf")
)

// Routes lists every operation id this module should be registered for.
func Routes() []router.OpID {
	return []router.OpID{OpBuy, OpWithdraw, OpRefund, OpEscrowOf}
}

// Re-entrancy lock names, one per guarded sequence.
const (
	lockBuy      = "purchase.buy"
	lockWithdraw = "purchase.withdraw"
	lockRefund   = "purchase.refund"
)

const opCost = 80

// Module is the primary sale module.
type Module struct {
	token   collab.TicketToken
	ledger  collab.PaymentLedger
	account string // settlement account held by this instance
}

// New creates the purchase module around its external collaborators.
func New(token collab.TicketToken, ledger collab.PaymentLedger, account string) *Module {
	return &Module{token: token, ledger: ledger, account: account}
}

// Handle dispatches one operation.
func (m *Module) Handle(ctx context.Context, call *router.Call) ([]byte, error) {
	if err := call.Charge(opCost); err != nil {
		return nil, err
	}

	switch call.Op {
	case OpBuy:
		return m.buy(ctx, call)
	case OpWithdraw:
		return m.withdraw(ctx, call)
	case OpRefund:
		return m.refund(ctx, call)
	case OpEscrowOf:
		return m.escrowOf(call)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownOperation,
			"operation not handled by purchase module",
			map[string]string{"op": call.Op.String()})
	}
}

// BuyArgs purchases one ticket in a tier.
type BuyArgs struct {
	Tier uint32 `cbor:"tier"`
}

// BuyResult reports the minted ticket.
type BuyResult struct {
	TicketID   uint64 `cbor:"ticket_id"`
	PriceCents uint64 `cbor:"price_cents"`
}

func (m *Module) buy(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.EventActive(state); err != nil {
		return nil, err
	}

	var args BuyArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}

	release, err := call.AcquireLock(lockBuy)
	if err != nil {
		return nil, err
	}
	defer release()

	if int(args.Tier) >= len(state.Tiers) {
		return nil, apperrors.WithMetadata(apperrors.CodeTierNotFound,
			"tier does not exist",
			map[string]string{"tier": fmt.Sprint(args.Tier)})
	}
	tier := &state.Tiers[args.Tier]
	if tier.Sold >= tier.Capacity {
		return nil, apperrors.WithMetadata(apperrors.CodeTierSoldOut,
			"tier is sold out",
			map[string]string{"tier": fmt.Sprint(args.Tier)})
	}

	id, err := ticket.Encode(state.Event.Code, int(args.Tier), uint64(tier.Sold))
	if err != nil {
		return nil, err
	}

	// Effects.
	price := tier.PriceCents
	tier.Sold++
	state.Counters.TicketsSold++
	state.Counters.GrossSalesCents += price
	state.Escrow[state.Owner] += price
	state.Nonces[call.Caller]++
	state.Tickets[id] = arena.TicketIssued

	// Interactions.
	if err := m.ledger.Transfer(ctx, call.Caller, m.account, price); err != nil {
		return nil, err
	}
	if err := m.token.Mint(ctx, call.Caller, id); err != nil {
		return nil, err
	}

	call.Emit(notify.KindTicketPurchased, map[string]string{
		"ticket": fmt.Sprint(id),
		"tier":   fmt.Sprint(args.Tier),
	})
	return codec.Marshal(BuyResult{TicketID: id, PriceCents: price})
}

// WithdrawResult reports the amount paid out.
type WithdrawResult struct {
	AmountCents uint64 `cbor:"amount_cents"`
}

func (m *Module) withdraw(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()

	// The lock is taken before the balance is read: a re-entrant attempt
	// must surface as re-entrancy, not as an empty balance.
	release, err := call.AcquireLock(lockWithdraw)
	if err != nil {
		return nil, err
	}
	defer release()

	amount := state.Escrow[call.Caller]
	if amount == 0 {
		return nil, apperrors.New(apperrors.CodeInsufficientEscrow, "no escrow balance to withdraw")
	}

	// Effects: the balance is zeroed before the payout interaction runs.
	delete(state.Escrow, call.Caller)

	// Interaction.
	if err := m.ledger.Transfer(ctx, m.account, call.Caller, amount); err != nil {
		return nil, err
	}

	call.Emit(notify.KindProceedsWithdrawn, map[string]string{
		"amount_cents": fmt.Sprint(amount),
	})
	return codec.Marshal(WithdrawResult{AmountCents: amount})
}

// RefundArgs refunds one ticket after event cancellation.
type RefundArgs struct {
	TicketID uint64 `cbor:"ticket_id"`
}

func (m *Module) refund(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()
	if !state.Event.Cancelled {
		return nil, apperrors.New(apperrors.CodeEventNotActive, "refunds require a cancelled event")
	}

	var args RefundArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}

	release, err := call.AcquireLock(lockRefund)
	if err != nil {
		return nil, err
	}
	defer release()

	status, issued := state.Tickets[args.TicketID]
	if !issued {
		return nil, apperrors.WithMetadata(apperrors.CodeTicketNotFound,
			"ticket was not issued by this instance",
			map[string]string{"ticket": fmt.Sprint(args.TicketID)})
	}
	if status == arena.TicketRefunded {
		return nil, apperrors.New(apperrors.CodeTicketAlreadyUsed, "ticket is already refunded")
	}

	holder, err := m.token.OwnerOf(ctx, args.TicketID)
	if err != nil {
		return nil, err
	}
	if holder != call.Caller {
		return nil, apperrors.New(apperrors.CodeTicketNotOwned, "caller does not hold the ticket")
	}

	tierIndex := ticket.TierOf(args.TicketID)
	if tierIndex >= len(state.Tiers) {
		return nil, apperrors.New(apperrors.CodeTierNotFound, "ticket tier no longer exists")
	}
	price := state.Tiers[tierIndex].PriceCents
	if state.Escrow[state.Owner] < price {
		return nil, apperrors.New(apperrors.CodeInsufficientEscrow, "escrow cannot cover the refund")
	}

	// Effects.
	state.Tickets[args.TicketID] = arena.TicketRefunded
	state.Escrow[state.Owner] -= price

	// Interactions.
	if err := m.ledger.Transfer(ctx, m.account, call.Caller, price); err != nil {
		return nil, err
	}
	if err := m.token.SetStatus(ctx, args.TicketID, "refunded"); err != nil {
		return nil, err
	}

	call.Emit(notify.KindTicketRefunded, map[string]string{
		"ticket":       fmt.Sprint(args.TicketID),
		"amount_cents": fmt.Sprint(price),
	})
	return codec.Marshal(WithdrawResult{AmountCents: price})
}

// EscrowOfArgs queries an account's escrow balance.
type EscrowOfArgs struct {
	Account string `cbor:"account"`
}

func (m *Module) escrowOf(call *router.Call) ([]byte, error) {
	var args EscrowOfArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	return codec.Marshal(WithdrawResult{AmountCents: call.State().Escrow[args.Account]})
}
