// Package event implements the event lifecycle module: one-time
// initialization, metadata updates, the append-only tier table, and the
// sticky cancel/complete transitions.
package event

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stagegate/stagegate/internal/access"
	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/notify"
	"github.com/stagegate/stagegate/internal/platform/codec"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/router"
	"github.com/stagegate/stagegate/internal/ticket"
)

// Address is the module's default registry address.
const Address = "event@1"

// Operation identifiers owned by this module.
var (
	OpInitialize     = router.OpNamed("event.initialize")
	OpUpdateMetadata = router.OpNamed("event.updateMetadata")
	OpAddTier        = router.OpNamed("event.addTier")
	OpUpdateTier     = router.OpNamed("event.updateTier")
	OpClearAllTiers  = router.OpNamed("event.clearAllTiers")
	OpCancel         = router.OpNamed("event.cancel")
	OpMarkCompleted  = router.OpNamed("event.markCompleted")
	OpGet            = router.OpNamed("event.get")
	OpTiers          = router.OpNamed("event.tiers")
)

// Routes lists every operation id this module should be registered for.
func Routes() []router.OpID {
	return []router.OpID{
		OpInitialize, OpUpdateMetadata, OpAddTier, OpUpdateTier,
		OpClearAllTiers, OpCancel, OpMarkCompleted, OpGet, OpTiers,
	}
}

const opCost = 50

// Module is the event lifecycle module.
type Module struct{}

// New creates the event lifecycle module.
func New() *Module {
	return &Module{}
}

// Handle dispatches one operation.
func (m *Module) Handle(ctx context.Context, call *router.Call) ([]byte, error) {
	if err := call.Charge(opCost); err != nil {
		return nil, err
	}

	switch call.Op {
	case OpInitialize:
		return m.initialize(call)
	case OpUpdateMetadata:
		return m.updateMetadata(call)
	case OpAddTier:
		return m.addTier(call)
	case OpUpdateTier:
		return m.updateTier(call)
	case OpClearAllTiers:
		return m.clearAllTiers(call)
	case OpCancel:
		return m.cancel(call)
	case OpMarkCompleted:
		return m.markCompleted(call)
	case OpGet:
		return m.get(call)
	case OpTiers:
		return m.tiers(call)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownOperation,
			"operation not handled by event module",
			map[string]string{"op": call.Op.String()})
	}
}

// InitializeArgs populates the core event record.
type InitializeArgs struct {
	Name     string    `cbor:"name"`
	Venue    string    `cbor:"venue"`
	Date     time.Time `cbor:"date"`
	Category string    `cbor:"category"`
	Code     uint64    `cbor:"code"`
}

// initialize populates the event record once. The empty event name is the
// idempotency signal: a second call fails and must leave every previously
// set field untouched, which holds trivially because the failure aborts the
// transaction before anything is written.
func (m *Module) initialize(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.CreatorOnly(state, call.Caller); err != nil {
		return nil, err
	}
	if state.Initialized() {
		return nil, apperrors.New(apperrors.CodeAlreadyInitialized, "event is already initialized")
	}

	var args InitializeArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	args.Name = strings.TrimSpace(args.Name)
	if args.Name == "" {
		return nil, apperrors.New(apperrors.CodeEventNameEmpty, "event name is required")
	}
	if args.Code == 0 {
		return nil, apperrors.New(apperrors.CodeArgumentInvalid, "event code must be nonzero")
	}

	state.Event = arena.EventMeta{
		Name:     args.Name,
		Venue:    args.Venue,
		Date:     args.Date,
		Category: args.Category,
		Code:     args.Code,
	}
	call.Emit(notify.KindInitialized, map[string]string{"name": args.Name})
	return nil, nil
}

// UpdateMetadataArgs changes the mutable event fields. The name and code are
// fixed at initialization.
type UpdateMetadataArgs struct {
	Venue    string    `cbor:"venue"`
	Date     time.Time `cbor:"date"`
	Category string    `cbor:"category"`
}

func (m *Module) updateMetadata(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.EventActive(state),
		access.MinimumRole(state, call.Caller, arena.RoleManager),
	); err != nil {
		return nil, err
	}

	var args UpdateMetadataArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}

	state.Event.Venue = args.Venue
	state.Event.Date = args.Date
	state.Event.Category = args.Category
	call.Emit(notify.KindMetadataUpdated, nil)
	return nil, nil
}

// AddTierArgs appends one tier to the tier table.
type AddTierArgs struct {
	Name       string `cbor:"name"`
	PriceCents uint64 `cbor:"price_cents"`
	Capacity   uint32 `cbor:"capacity"`
}

// AddTierResult reports the index the new tier was assigned.
type AddTierResult struct {
	Index uint32 `cbor:"index"`
}

func (m *Module) addTier(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.EventActive(state),
		access.MinimumRole(state, call.Caller, arena.RoleManager),
	); err != nil {
		return nil, err
	}

	var args AddTierArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Name) == "" || args.Capacity == 0 {
		return nil, apperrors.New(apperrors.CodeTierInvalid, "tier needs a name and a nonzero capacity")
	}
	if len(state.Tiers) > ticket.MaxTier {
		return nil, apperrors.New(apperrors.CodeTierInvalid,
			fmt.Sprintf("tier table is full (%d tiers)", ticket.MaxTier+1))
	}

	state.Tiers = append(state.Tiers, arena.Tier{
		Name:       args.Name,
		PriceCents: args.PriceCents,
		Capacity:   args.Capacity,
	})
	index := uint32(len(state.Tiers) - 1)
	call.Emit(notify.KindTierAdded, map[string]string{"tier": fmt.Sprint(index)})
	return codec.Marshal(AddTierResult{Index: index})
}

// UpdateTierArgs changes price or capacity of an existing tier.
type UpdateTierArgs struct {
	Index      uint32 `cbor:"index"`
	PriceCents uint64 `cbor:"price_cents"`
	Capacity   uint32 `cbor:"capacity"`
}

func (m *Module) updateTier(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.EventActive(state),
		access.MinimumRole(state, call.Caller, arena.RoleManager),
	); err != nil {
		return nil, err
	}

	var args UpdateTierArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if int(args.Index) >= len(state.Tiers) {
		return nil, apperrors.WithMetadata(apperrors.CodeTierNotFound,
			"tier does not exist",
			map[string]string{"tier": fmt.Sprint(args.Index)})
	}
	tier := &state.Tiers[args.Index]
	if args.Capacity < tier.Sold {
		return nil, apperrors.New(apperrors.CodeTierInvalid, "capacity below tickets already sold")
	}

	tier.PriceCents = args.PriceCents
	tier.Capacity = args.Capacity
	call.Emit(notify.KindTierUpdated, map[string]string{"tier": fmt.Sprint(args.Index)})
	return nil, nil
}

// clearAllTiers wipes the tier table back to empty. Owner or creator only;
// deliberately independent of the initialize guard.
func (m *Module) clearAllTiers(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.OwnerOrCreator(state, call.Caller); err != nil {
		return nil, err
	}

	state.Tiers = nil
	call.Emit(notify.KindTiersCleared, nil)
	return nil, nil
}

func (m *Module) cancel(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.OwnerOnly(state, call.Caller),
		access.EventActive(state),
	); err != nil {
		return nil, err
	}

	state.Event.Cancelled = true
	call.Emit(notify.KindEventCancelled, nil)
	return nil, nil
}

func (m *Module) markCompleted(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.OwnerOnly(state, call.Caller),
		access.EventActive(state),
	); err != nil {
		return nil, err
	}

	state.Event.Completed = true
	call.Emit(notify.KindEventCompleted, nil)
	return nil, nil
}

// GetResult is the event record plus its derived lifecycle phase.
type GetResult struct {
	Name      string    `cbor:"name"`
	Venue     string    `cbor:"venue"`
	Date      time.Time `cbor:"date"`
	Category  string    `cbor:"category"`
	Code      uint64    `cbor:"code"`
	Phase     string    `cbor:"phase"`
	Cancelled bool      `cbor:"cancelled"`
	Completed bool      `cbor:"completed"`
}

func (m *Module) get(call *router.Call) ([]byte, error) {
	state := call.State()
	phase := "active"
	switch {
	case !state.Initialized():
		phase = "uninitialized"
	case state.Event.Cancelled:
		phase = "cancelled"
	case state.Event.Completed:
		phase = "completed"
	}
	return codec.Marshal(GetResult{
		Name:      state.Event.Name,
		Venue:     state.Event.Venue,
		Date:      state.Event.Date,
		Category:  state.Event.Category,
		Code:      state.Event.Code,
		Phase:     phase,
		Cancelled: state.Event.Cancelled,
		Completed: state.Event.Completed,
	})
}

// TierView is one tier table row in read results.
type TierView struct {
	Index      uint32 `cbor:"index"`
	Name       string `cbor:"name"`
	PriceCents uint64 `cbor:"price_cents"`
	Capacity   uint32 `cbor:"capacity"`
	Sold       uint32 `cbor:"sold"`
}

func (m *Module) tiers(call *router.Call) ([]byte, error) {
	state := call.State()
	views := make([]TierView, len(state.Tiers))
	for i, tier := range state.Tiers {
		views[i] = TierView{
			Index:      uint32(i),
			Name:       tier.Name,
			PriceCents: tier.PriceCents,
			Capacity:   tier.Capacity,
			Sold:       tier.Sold,
		}
	}
	return codec.Marshal(views)
}
