// Package resale implements the secondary marketplace: listing issued
// tickets, cancelling listings, and settling resales with a platform fee.
// Settlement follows the same effects-before-interactions discipline as the
// purchase module.
package resale

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stagegate/stagegate/internal/access"
	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/collab"
	"github.com/stagegate/stagegate/internal/notify"
	"github.com/stagegate/stagegate/internal/platform/codec"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/router"
)

// Address is the module's default registry address.
const Address = "resale@1"

// Operation identifiers owned by this module.
var (
	OpList          = router.OpNamed("resale.list")
	OpCancelListing = router.OpNamed("resale.cancelListing")
	OpBuy           = router.OpNamed("resale.buy")
	OpWithdrawFees  = router.OpNamed("resale.withdrawFees")
	OpListings      = router.OpNamed("resale.listings")
)

// Routes lists every operation id this module should be registered for.
func Routes() []router.OpID {
	return []router.OpID{OpList, OpCancelListing, OpBuy, OpWithdrawFees, OpListings}
}

const (
	lockBuy          = "resale.buy"
	lockWithdrawFees = "resale.withdrawFees"
)

const opCost = 80

// DefaultFeeBps is the platform fee charged on resales, in basis points.
const DefaultFeeBps = 250

// Module is the resale marketplace module.
type Module struct {
	token   collab.TicketToken
	ledger  collab.PaymentLedger
	account string
	feeBps  uint64
	now     func() time.Time
}

// New creates the resale module around its external collaborators.
func New(token collab.TicketToken, ledger collab.PaymentLedger, account string) *Module {
	return &Module{
		token:   token,
		ledger:  ledger,
		account: account,
		feeBps:  DefaultFeeBps,
		now:     time.Now,
	}
}

// SetClock overrides the listing timestamp clock. Intended for tests.
func (m *Module) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Handle dispatches one operation.
func (m *Module) Handle(ctx context.Context, call *router.Call) ([]byte, error) {
	if err := call.Charge(opCost); err != nil {
		return nil, err
	}

	switch call.Op {
	case OpList:
		return m.list(ctx, call)
	case OpCancelListing:
		return m.cancelListing(call)
	case OpBuy:
		return m.buy(ctx, call)
	case OpWithdrawFees:
		return m.withdrawFees(ctx, call)
	case OpListings:
		return m.listings(call)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownOperation,
			"operation not handled by resale module",
			map[string]string{"op": call.Op.String()})
	}
}

// ListArgs puts a ticket up for resale.
type ListArgs struct {
	TicketID   uint64 `cbor:"ticket_id"`
	PriceCents uint64 `cbor:"price_cents"`
}

func (m *Module) list(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.EventActive(state); err != nil {
		return nil, err
	}

	var args ListArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.PriceCents == 0 {
		return nil, apperrors.New(apperrors.CodeListingPriceInvalid, "listing price must be nonzero")
	}
	if _, exists := state.Listings[args.TicketID]; exists {
		return nil, apperrors.WithMetadata(apperrors.CodeListingExists,
			"ticket is already listed",
			map[string]string{"ticket": fmt.Sprint(args.TicketID)})
	}
	if status, issued := state.Tickets[args.TicketID]; !issued {
		return nil, apperrors.New(apperrors.CodeTicketNotFound, "ticket was not issued by this instance")
	} else if status == arena.TicketRefunded {
		return nil, apperrors.New(apperrors.CodeTicketAlreadyUsed, "refunded tickets cannot be listed")
	}

	holder, err := m.token.OwnerOf(ctx, args.TicketID)
	if err != nil {
		return nil, err
	}
	if holder != call.Caller {
		return nil, apperrors.New(apperrors.CodeTicketNotOwned, "caller does not hold the ticket")
	}

	state.Listings[args.TicketID] = arena.Listing{
		Seller:     call.Caller,
		PriceCents: args.PriceCents,
		ListedAt:   m.now().UTC(),
	}
	call.Emit(notify.KindTicketListed, map[string]string{
		"ticket":      fmt.Sprint(args.TicketID),
		"price_cents": fmt.Sprint(args.PriceCents),
	})
	return nil, nil
}

// CancelListingArgs removes a listing.
type CancelListingArgs struct {
	TicketID uint64 `cbor:"ticket_id"`
}

func (m *Module) cancelListing(call *router.Call) ([]byte, error) {
	state := call.State()

	var args CancelListingArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	listing, exists := state.Listings[args.TicketID]
	if !exists {
		return nil, apperrors.New(apperrors.CodeListingNotFound, "ticket is not listed")
	}
	if listing.Seller != call.Caller && call.Caller != state.Owner {
		return nil, apperrors.New(apperrors.CodeTicketNotOwned, "only the seller or the owner may cancel")
	}

	delete(state.Listings, args.TicketID)
	call.Emit(notify.KindListingCancelled, map[string]string{
		"ticket": fmt.Sprint(args.TicketID),
	})
	return nil, nil
}

// BuyArgs purchases a listed ticket.
type BuyArgs struct {
	TicketID uint64 `cbor:"ticket_id"`
}

// BuyResult reports the settled resale.
type BuyResult struct {
	TicketID    uint64 `cbor:"ticket_id"`
	PriceCents  uint64 `cbor:"price_cents"`
	FeeCents    uint64 `cbor:"fee_cents"`
	SellerCents uint64 `cbor:"seller_cents"`
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

	listing, exists := state.Listings[args.TicketID]
	if !exists {
		return nil, apperrors.New(apperrors.CodeListingNotFound, "ticket is not listed")
	}
	if listing.Seller == call.Caller {
		return nil, apperrors.New(apperrors.CodeTicketNotOwned, "seller cannot buy their own listing")
	}

	holder, err := m.token.OwnerOf(ctx, args.TicketID)
	if err != nil {
		return nil, err
	}
	if holder != listing.Seller {
		// The seller moved the ticket outside the marketplace; the listing
		// is stale and settlement must not proceed.
		return nil, apperrors.New(apperrors.CodeTicketNotOwned, "listing is stale")
	}

	// Effects.
	fee := listing.PriceCents * m.feeBps / 10_000
	proceeds := listing.PriceCents - fee
	delete(state.Listings, args.TicketID)
	state.FeesCents += fee
	state.Escrow[listing.Seller] += proceeds
	state.Counters.ResaleCount++

	// Interactions.
	if err := m.ledger.Transfer(ctx, call.Caller, m.account, listing.PriceCents); err != nil {
		return nil, err
	}
	if err := m.token.Transfer(ctx, listing.Seller, call.Caller, args.TicketID); err != nil {
		return nil, err
	}

	call.Emit(notify.KindTicketResold, map[string]string{
		"ticket":      fmt.Sprint(args.TicketID),
		"price_cents": fmt.Sprint(listing.PriceCents),
		"fee_cents":   fmt.Sprint(fee),
	})
	return codec.Marshal(BuyResult{
		TicketID:    args.TicketID,
		PriceCents:  listing.PriceCents,
		FeeCents:    fee,
		SellerCents: proceeds,
	})
}

// WithdrawFeesResult reports the platform fees paid out.
type WithdrawFeesResult struct {
	AmountCents uint64 `cbor:"amount_cents"`
}

func (m *Module) withdrawFees(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.OwnerOnly(state, call.Caller); err != nil {
		return nil, err
	}

	// The lock is taken before the fee balance is read: a re-entrant
	// attempt must surface as re-entrancy, not as an empty balance.
	release, err := call.AcquireLock(lockWithdrawFees)
	if err != nil {
		return nil, err
	}
	defer release()

	if state.FeesCents == 0 {
		return nil, apperrors.New(apperrors.CodeInsufficientEscrow, "no accumulated fees")
	}

	// Effects.
	amount := state.FeesCents
	state.FeesCents = 0

	// Interaction.
	if err := m.ledger.Transfer(ctx, m.account, call.Caller, amount); err != nil {
		return nil, err
	}

	call.Emit(notify.KindFeesWithdrawn, map[string]string{
		"amount_cents": fmt.Sprint(amount),
	})
	return codec.Marshal(WithdrawFeesResult{AmountCents: amount})
}

// ListingView is one marketplace row in read results.
type ListingView struct {
	TicketID   uint64    `cbor:"ticket_id"`
	Seller     string    `cbor:"seller"`
	PriceCents uint64    `cbor:"price_cents"`
	ListedAt   time.Time `cbor:"listed_at"`
}

func (m *Module) listings(call *router.Call) ([]byte, error) {
	state := call.State()
	views := make([]ListingView, 0, len(state.Listings))
	for id, listing := range state.Listings {
		views = append(views, ListingView{
			TicketID:   id,
			Seller:     listing.Seller,
			PriceCents: listing.PriceCents,
			ListedAt:   listing.ListedAt,
		})
	}
	// Map iteration order is random; present listings sorted by ticket id.
	sort.Slice(views, func(i, j int) bool { return views[i].TicketID < views[j].TicketID })
	return codec.Marshal(views)
}
