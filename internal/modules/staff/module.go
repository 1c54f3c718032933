// Package staff implements staff administration and the gate operations the
// role hierarchy exists for. Roles are ordered; assigning a role replaces
// whatever the account held before — there is no role subtraction.
package staff

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
)

// Address is the module's default registry address.
const Address = "staff@1"

// Operation identifiers owned by this module.
var (
	OpSetRole = router.OpNamed("staff.setRole")
	OpRoleOf  = router.OpNamed("staff.roleOf")
	OpScan    = router.OpNamed("staff.scan")
	OpCheckIn = router.OpNamed("staff.checkIn")
)

// Routes lists every operation id this module should be registered for.
func Routes() []router.OpID {
	return []router.OpID{OpSetRole, OpRoleOf, OpScan, OpCheckIn}
}

const lockScan = "staff.scan"

const opCost = 40

// Module is the staff administration module.
type Module struct {
	token collab.TicketToken
}

// New creates the staff module.
func New(token collab.TicketToken) *Module {
	return &Module{token: token}
}

// Handle dispatches one operation.
func (m *Module) Handle(ctx context.Context, call *router.Call) ([]byte, error) {
	if err := call.Charge(opCost); err != nil {
		return nil, err
	}

	switch call.Op {
	case OpSetRole:
		return m.setRole(call)
	case OpRoleOf:
		return m.roleOf(call)
	case OpScan:
		return m.scan(ctx, call)
	case OpCheckIn:
		return m.checkIn(ctx, call)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownOperation,
			"operation not handled by staff module",
			map[string]string{"op": call.Op.String()})
	}
}

// SetRoleArgs assigns a staff role to an account.
type SetRoleArgs struct {
	Account string `cbor:"account"`
	Role    string `cbor:"role"`
}

func (m *Module) setRole(call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.MinimumRole(state, call.Caller, arena.RoleManager); err != nil {
		return nil, err
	}

	var args SetRoleArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.Account == "" {
		return nil, apperrors.New(apperrors.CodeArgumentInvalid, "account is required")
	}
	role, ok := arena.ParseRole(args.Role)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeArgumentInvalid,
			"unknown staff role",
			map[string]string{"role": args.Role})
	}

	if role == arena.RoleNone {
		delete(state.Staff, args.Account)
	} else {
		state.Staff[args.Account] = role
	}
	call.Emit(notify.KindStaffRoleSet, map[string]string{
		"account": args.Account,
		"role":    role.String(),
	})
	return nil, nil
}

// RoleOfArgs queries an account's staff role.
type RoleOfArgs struct {
	Account string `cbor:"account"`
}

// RoleOfResult is the held role.
type RoleOfResult struct {
	Role string `cbor:"role"`
}

func (m *Module) roleOf(call *router.Call) ([]byte, error) {
	var args RoleOfArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	return codec.Marshal(RoleOfResult{Role: call.State().RoleOf(args.Account).String()})
}

// ScanArgs validates a ticket at the gate.
type ScanArgs struct {
	TicketID uint64 `cbor:"ticket_id"`
}

func (m *Module) scan(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.EventActive(state),
		access.MinimumRole(state, call.Caller, arena.RoleScanner),
	); err != nil {
		return nil, err
	}

	var args ScanArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}

	release, err := call.AcquireLock(lockScan)
	if err != nil {
		return nil, err
	}
	defer release()

	status, issued := state.Tickets[args.TicketID]
	if !issued {
		return nil, apperrors.New(apperrors.CodeTicketNotFound, "ticket was not issued by this instance")
	}
	if status != arena.TicketIssued {
		return nil, apperrors.WithMetadata(apperrors.CodeTicketAlreadyUsed,
			"ticket cannot be scanned twice",
			map[string]string{"ticket": fmt.Sprint(args.TicketID)})
	}

	// Effect, then the status-update interaction.
	state.Tickets[args.TicketID] = arena.TicketScanned

	if err := m.token.SetStatus(ctx, args.TicketID, "scanned"); err != nil {
		return nil, err
	}

	call.Emit(notify.KindTicketScanned, map[string]string{
		"ticket": fmt.Sprint(args.TicketID),
	})
	return nil, nil
}

// CheckInArgs marks an attendee checked in.
type CheckInArgs struct {
	TicketID uint64 `cbor:"ticket_id"`
}

func (m *Module) checkIn(ctx context.Context, call *router.Call) ([]byte, error) {
	state := call.State()
	if err := access.Check(
		access.EventActive(state),
		access.MinimumRole(state, call.Caller, arena.RoleCheckIn),
	); err != nil {
		return nil, err
	}

	var args CheckInArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	status, issued := state.Tickets[args.TicketID]
	if !issued {
		return nil, apperrors.New(apperrors.CodeTicketNotFound, "ticket was not issued by this instance")
	}
	if status == arena.TicketCheckedIn || status == arena.TicketRefunded {
		return nil, apperrors.WithMetadata(apperrors.CodeTicketAlreadyUsed,
			"ticket cannot be checked in",
			map[string]string{"ticket": fmt.Sprint(args.TicketID)})
	}

	state.Tickets[args.TicketID] = arena.TicketCheckedIn

	if err := m.token.SetStatus(ctx, args.TicketID, "checked_in"); err != nil {
		return nil, err
	}

	call.Emit(notify.KindTicketCheckedIn, map[string]string{
		"ticket": fmt.Sprint(args.TicketID),
	})
	return nil, nil
}
