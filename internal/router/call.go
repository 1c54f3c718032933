package router

import (
	"context"

	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/notify"
	"github.com/stagegate/stagegate/internal/platform/codec"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// Call is the frame a module executes in. It carries the operation id, the
// raw encoded arguments, the original external caller, and the arena
// transaction. Nested invocations made through Invoke share the same frame:
// one transaction, one resource budget, one set of re-entrancy locks, one
// caller identity.
type Call struct {
	Op     OpID
	Args   []byte
	Caller string
	Txn    *arena.Txn

	frame *frame
}

// frame is the per-external-call execution context shared across nesting.
type frame struct {
	registry  *Registry
	remaining uint64
	locks     map[string]struct{}
}

// callContextKey carries the current call frame through context so that
// externally-controlled collaborator code can call back into the core. Such
// a callback lands in the same frame, which is exactly what the re-entrancy
// locks police.
type callContextKey struct{}

// CallFromContext returns the call frame stored in ctx, if any. Collaborator
// implementations use it to re-enter the dispatcher; production collaborators
// normally never do, but the core must stay correct when they try.
func CallFromContext(ctx context.Context) (*Call, bool) {
	call, ok := ctx.Value(callContextKey{}).(*Call)
	return call, ok
}

func withCall(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}

// State returns the shared arena aggregate this call mutates.
func (c *Call) State() *arena.State {
	return c.Txn.State
}

// Emit records a state-change notification attributed to the caller. The
// notification is journaled only if the whole external call commits.
func (c *Call) Emit(kind notify.Kind, fields map[string]string) {
	c.Txn.Log.Emit(kind, c.Caller, fields)
}

// DecodeArgs decodes the call's argument payload into v.
func (c *Call) DecodeArgs(v any) error {
	if err := codec.Unmarshal(c.Args, v); err != nil {
		return apperrors.Wrap(apperrors.CodeArgumentInvalid, "decode arguments", err)
	}
	return nil
}

// Charge consumes units from the call's resource budget. Exhaustion aborts
// the whole external call; the dispatcher rolls every effect back.
func (c *Call) Charge(units uint64) error {
	if units > c.frame.remaining {
		c.frame.remaining = 0
		return apperrors.New(apperrors.CodeResourceBudgetExceeded, "resource budget exceeded")
	}
	c.frame.remaining -= units
	return nil
}

// Remaining returns the unconsumed resource budget.
func (c *Call) Remaining() uint64 {
	return c.frame.remaining
}

// AcquireLock takes the re-entrancy lock for the named logical operation.
// It fails when the lock is already held anywhere in this call's frame,
// which is precisely the re-entrant case: some collaborator callback made it
// back into a guarded sequence before the first pass released it. The
// returned release function must be deferred.
func (c *Call) AcquireLock(name string) (func(), error) {
	if _, held := c.frame.locks[name]; held {
		return nil, apperrors.WithMetadata(apperrors.CodeReentrancyBlocked,
			"re-entrant call blocked",
			map[string]string{"lock": name})
	}
	c.frame.locks[name] = struct{}{}
	return func() { delete(c.frame.locks, name) }, nil
}

// Invoke dispatches a nested call to another operation inside the same
// frame. The callee observes the original external caller, mutates the same
// arena transaction, and draws from the same budget; its failure aborts the
// outer call too.
func (c *Call) Invoke(ctx context.Context, op OpID, args []byte) ([]byte, error) {
	if err := c.Charge(dispatchCost); err != nil {
		return nil, err
	}

	entry, err := routeFor(c.State(), op)
	if err != nil {
		return nil, err
	}
	module, ok := c.frame.registry.Lookup(entry.Address)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeModuleHasNoCode,
			"routed module has no code",
			map[string]string{"op": op.String(), "module": entry.Address})
	}

	nested := &Call{
		Op:     op,
		Args:   args,
		Caller: c.Caller,
		Txn:    c.Txn,
		frame:  c.frame,
	}
	return module.Handle(withCall(ctx, nested), nested)
}
