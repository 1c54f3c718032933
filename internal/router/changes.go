package router

import (
	"context"

	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/notify"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// Action is a route change verb.
type Action uint8

const (
	// ActionAdd maps currently-unmapped operation ids to a module.
	ActionAdd Action = iota
	// ActionReplace remaps currently-mapped operation ids to a different
	// module.
	ActionReplace
	// ActionRemove deletes mappings. The change's address must be the null
	// sentinel.
	ActionRemove
)

// String returns the action verb name.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionReplace:
		return "replace"
	case ActionRemove:
		return "remove"
	default:
		return "invalid"
	}
}

// ParseAction parses an action verb name.
func ParseAction(s string) (Action, error) {
	switch s {
	case "add":
		return ActionAdd, nil
	case "replace":
		return ActionReplace, nil
	case "remove":
		return ActionRemove, nil
	default:
		return 0, apperrors.WithMetadata(apperrors.CodeRouteActionInvalid,
			"unknown route action",
			map[string]string{"action": s})
	}
}

// Change is one entry of a route mutation batch.
type Change struct {
	Action  Action
	Address string
	Ops     []OpID
}

// InitCall is the optional one-time initialization invoked after a batch's
// route changes are applied, inside the same transaction. The target module
// is resolved directly through the registry; it does not need a route.
type InitCall struct {
	Address string
	Op      OpID
	Args    []byte
}

// SubmitRouteChanges validates and applies an ordered batch of route
// changes atomically. Only the owner may submit. The first violation aborts
// the whole batch; nothing is committed, and the violation propagates
// unchanged to the caller. When init is non-nil it runs after the changes,
// in the same transaction, so its failure rolls the route changes back too.
func (d *Dispatcher) SubmitRouteChanges(ctx context.Context, caller string, changes []Change, init *InitCall) error {
	return d.store.Update(ctx, func(txn *arena.Txn) error {
		if caller != txn.State.Owner {
			return apperrors.New(apperrors.CodeCallerNotOwner, "caller is not the owner")
		}

		for _, change := range changes {
			if err := d.applyChange(txn.State, change); err != nil {
				return err
			}
		}

		if init != nil {
			if err := d.runInit(ctx, caller, txn, init); err != nil {
				return err
			}
		}

		txn.Log.Emit(notify.KindRoutesChanged, caller, map[string]string{
			"changes": actionSummary(changes),
		})
		return nil
	})
}

func (d *Dispatcher) applyChange(state *arena.State, change Change) error {
	if len(change.Ops) == 0 {
		return apperrors.New(apperrors.CodeRouteActionInvalid, "route change has no operation ids")
	}

	switch change.Action {
	case ActionAdd:
		if err := d.requireCode(change.Address); err != nil {
			return err
		}
		for _, op := range change.Ops {
			if existing, mapped := state.Routes[op.String()]; mapped {
				return apperrors.WithMetadata(apperrors.CodeDuplicateOperation,
					"operation is already mapped",
					map[string]string{"op": op.String(), "module": existing.Address})
			}
			addRoute(state, op, change.Address)
		}
		return nil

	case ActionReplace:
		if err := d.requireCode(change.Address); err != nil {
			return err
		}
		for _, op := range change.Ops {
			existing, mapped := state.Routes[op.String()]
			if !mapped {
				return apperrors.WithMetadata(apperrors.CodeOperationNotMapped,
					"cannot replace an unmapped operation",
					map[string]string{"op": op.String()})
			}
			if existing.Address == change.Address {
				return apperrors.WithMetadata(apperrors.CodeDuplicateOperation,
					"replacement does not change the mapping",
					map[string]string{"op": op.String(), "module": change.Address})
			}
			removeRoute(state, op)
			addRoute(state, op, change.Address)
		}
		return nil

	case ActionRemove:
		if change.Address != NullAddress {
			return apperrors.WithMetadata(apperrors.CodeRouteAddressInvalid,
				"remove requires the null module address",
				map[string]string{"module": change.Address})
		}
		for _, op := range change.Ops {
			if _, mapped := state.Routes[op.String()]; !mapped {
				return apperrors.WithMetadata(apperrors.CodeOperationNotMapped,
					"cannot remove an unmapped operation",
					map[string]string{"op": op.String()})
			}
			removeRoute(state, op)
		}
		return nil

	default:
		return apperrors.New(apperrors.CodeRouteActionInvalid, "unknown route action")
	}
}

func (d *Dispatcher) requireCode(address string) error {
	if address == NullAddress {
		return apperrors.New(apperrors.CodeRouteAddressInvalid,
			"add and replace require a module address")
	}
	if _, ok := d.registry.Lookup(address); !ok {
		return apperrors.WithMetadata(apperrors.CodeModuleHasNoCode,
			"module address references no code",
			map[string]string{"module": address})
	}
	return nil
}

func (d *Dispatcher) runInit(ctx context.Context, caller string, txn *arena.Txn, init *InitCall) error {
	module, ok := d.registry.Lookup(init.Address)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeModuleHasNoCode,
			"init module address references no code",
			map[string]string{"module": init.Address})
	}

	call := &Call{
		Op:     init.Op,
		Args:   init.Args,
		Caller: caller,
		Txn:    txn,
		frame: &frame{
			registry:  d.registry,
			remaining: d.budget,
			locks:     make(map[string]struct{}),
		},
	}
	_, err := module.Handle(withCall(ctx, call), call)
	return err
}

func actionSummary(changes []Change) string {
	summary := ""
	for i, change := range changes {
		if i > 0 {
			summary += ","
		}
		summary += change.Action.String()
	}
	return summary
}
