package router

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/notify"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// DefaultBudget is the resource budget granted to one external call unless
// configured otherwise.
const DefaultBudget = 10_000

// dispatchCost is the budget charged for resolving and entering a module,
// nested invocations included.
const dispatchCost = 10

// Dispatcher is the externally-addressable execution core. Every incoming
// operation resolves through the routing table stored in the arena and runs
// with host-owned execution: the module mutates the shared aggregate and
// observes the original external caller.
type Dispatcher struct {
	store    *arena.Store
	registry *Registry
	budget   uint64
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBudget overrides the per-call resource budget.
func WithBudget(budget uint64) Option {
	return func(d *Dispatcher) {
		if budget > 0 {
			d.budget = budget
		}
	}
}

// New creates a dispatcher over the given arena store and module registry.
func New(store *arena.Store, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		registry: registry,
		budget:   DefaultBudget,
		tracer:   otel.Tracer("stagegate/router"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry exposes the deployed module code for wiring-time inspection.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch resolves the operation id, invokes the owning module inside one
// atomic arena transaction, and relays the module's result or failure to
// the caller verbatim. An unmapped id fails with UNKNOWN_OPERATION and
// leaves the arena untouched; any module failure, at any nesting depth,
// rolls back every state change made during the call.
func (d *Dispatcher) Dispatch(ctx context.Context, caller string, op OpID, args []byte) ([]byte, error) {
	if strings.TrimSpace(caller) == "" {
		return nil, apperrors.New(apperrors.CodeCallerMissing, "caller identity is required")
	}

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(attribute.String("op", op.String())))
	defer span.End()

	var result []byte
	err := d.store.Update(ctx, func(txn *arena.Txn) error {
		entry, ok := txn.State.Routes[op.String()]
		if !ok {
			return apperrors.WithMetadata(apperrors.CodeUnknownOperation,
				"unknown operation",
				map[string]string{"op": op.String()})
		}
		module, ok := d.registry.Lookup(entry.Address)
		if !ok {
			return apperrors.WithMetadata(apperrors.CodeModuleHasNoCode,
				"routed module has no code",
				map[string]string{"op": op.String(), "module": entry.Address})
		}

		call := &Call{
			Op:     op,
			Args:   args,
			Caller: caller,
			Txn:    txn,
			frame: &frame{
				registry:  d.registry,
				remaining: d.budget,
				locks:     make(map[string]struct{}),
			},
		}
		if err := call.Charge(dispatchCost); err != nil {
			return err
		}

		out, err := module.Handle(withCall(ctx, call), call)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// Bootstrap seeds the creator and owner records once, at genesis. Later
// calls are no-ops, so server restarts are safe.
func (d *Dispatcher) Bootstrap(ctx context.Context, creator string) error {
	if strings.TrimSpace(creator) == "" {
		return apperrors.New(apperrors.CodeNullOwner, "creator identity is required")
	}
	return d.store.Update(ctx, func(txn *arena.Txn) error {
		if txn.State.Creator != "" {
			return nil
		}
		txn.State.Creator = creator
		txn.State.Owner = creator
		return nil
	})
}

// TransferOwnership moves the owner record to newOwner. Single-step: a
// transfer to an unreachable identity permanently locks out administrative
// operations.
func (d *Dispatcher) TransferOwnership(ctx context.Context, caller, newOwner string) error {
	if strings.TrimSpace(newOwner) == "" {
		return apperrors.New(apperrors.CodeNullOwner, "new owner must not be the null sentinel")
	}
	return d.store.Update(ctx, func(txn *arena.Txn) error {
		if caller != txn.State.Owner {
			return apperrors.New(apperrors.CodeCallerNotOwner, "caller is not the owner")
		}
		previous := txn.State.Owner
		txn.State.Owner = newOwner
		txn.Log.Emit(notify.KindOwnerTransferred, caller, map[string]string{
			"previous": previous,
			"owner":    newOwner,
		})
		return nil
	})
}

// Owner returns the current owner record.
func (d *Dispatcher) Owner(ctx context.Context) (string, error) {
	var owner string
	err := d.store.View(ctx, func(state *arena.State) error {
		owner = state.Owner
		return nil
	})
	return owner, err
}

// Modules enumerates every module that currently owns at least one
// operation id. Order is unspecified after removals.
func (d *Dispatcher) Modules(ctx context.Context) ([]string, error) {
	var addresses []string
	err := d.store.View(ctx, func(state *arena.State) error {
		addresses = make([]string, 0, len(state.Modules))
		for _, record := range state.Modules {
			addresses = append(addresses, record.Address)
		}
		return nil
	})
	return addresses, err
}

// OperationsOf returns the operation ids currently owned by a module. A
// registered module with no routed operations yields an empty list; an
// address with no deployed code is an error.
func (d *Dispatcher) OperationsOf(ctx context.Context, address string) ([]OpID, error) {
	if _, ok := d.registry.Lookup(address); !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeModuleHasNoCode,
			"no module code at address",
			map[string]string{"module": address})
	}
	var ops []OpID
	err := d.store.View(ctx, func(state *arena.State) error {
		record := moduleRecordIndex(state, address)
		if record < 0 {
			return nil
		}
		for _, raw := range state.Modules[record].Ops {
			op, err := ParseOp(raw)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, err
}

// ModuleFor returns the module address that owns an operation id.
func (d *Dispatcher) ModuleFor(ctx context.Context, op OpID) (string, error) {
	var address string
	err := d.store.View(ctx, func(state *arena.State) error {
		entry, err := routeFor(state, op)
		if err != nil {
			return err
		}
		address = entry.Address
		return nil
	})
	return address, err
}
