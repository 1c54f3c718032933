package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stagegate/stagegate/internal/arena"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

var (
	opOne = OpID{0x00, 0x00, 0x00, 0x01}
	opTwo = OpID{0x00, 0x00, 0x00, 0x02}
)

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	store, err := arena.Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	d := New(store, NewRegistry(), opts...)
	if err := d.Bootstrap(context.Background(), "acct-owner"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return d
}

func echoModule() Module {
	return ModuleFunc(func(_ context.Context, call *Call) ([]byte, error) {
		return call.Args, nil
	})
}

func TestOpNamedIsStable(t *testing.T) {
	first := OpNamed("event.initialize")
	second := OpNamed("event.initialize")
	if first != second {
		t.Fatalf("expected stable op id, got %v and %v", first, second)
	}
	if first == OpNamed("event.cancel") {
		t.Fatal("distinct names must yield distinct op ids")
	}
}

func TestParseOpRoundTrip(t *testing.T) {
	op := OpNamed("purchase.purchase")
	parsed, err := ParseOp(op.String())
	if err != nil {
		t.Fatalf("parse op: %v", err)
	}
	if parsed != op {
		t.Fatalf("expected %v, got %v", op, parsed)
	}

	if _, err := ParseOp("0x01"); !apperrors.IsCode(err, apperrors.CodeArgumentInvalid) {
		t.Fatalf("expected ARGUMENT_INVALID for short id, got %v", err)
	}
	if _, err := ParseOp("zz"); !apperrors.IsCode(err, apperrors.CodeArgumentInvalid) {
		t.Fatalf("expected ARGUMENT_INVALID for junk, got %v", err)
	}
}

func TestAddThenReplaceScenario(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())
	d.Registry().Register("module-b", echoModule())

	err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne, opTwo}},
	}, nil)
	if err != nil {
		t.Fatalf("add batch: %v", err)
	}

	err = d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionReplace, Address: "module-b", Ops: []OpID{opOne}},
	}, nil)
	if err != nil {
		t.Fatalf("replace batch: %v", err)
	}

	owner, err := d.ModuleFor(ctx, opOne)
	if err != nil {
		t.Fatalf("moduleFor opOne: %v", err)
	}
	if owner != "module-b" {
		t.Fatalf("expected module-b for opOne, got %q", owner)
	}

	owner, err = d.ModuleFor(ctx, opTwo)
	if err != nil {
		t.Fatalf("moduleFor opTwo: %v", err)
	}
	if owner != "module-a" {
		t.Fatalf("expected module-a for opTwo, got %q", owner)
	}
}

func TestRemoveDropsEmptyModule(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())
	d.Registry().Register("module-b", echoModule())

	if err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne, opTwo}},
		{Action: ActionReplace, Address: "module-b", Ops: []OpID{opOne}},
	}, nil); err != nil {
		t.Fatalf("seed batches: %v", err)
	}

	if err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionRemove, Address: NullAddress, Ops: []OpID{opTwo}},
	}, nil); err != nil {
		t.Fatalf("remove batch: %v", err)
	}

	if _, err := d.ModuleFor(ctx, opTwo); !apperrors.IsCode(err, apperrors.CodeOperationNotMapped) {
		t.Fatalf("expected OPERATION_NOT_MAPPED, got %v", err)
	}

	modules, err := d.Modules(ctx)
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	for _, address := range modules {
		if address == "module-a" {
			t.Fatal("module-a owns no operations and must not be enumerated")
		}
	}
	if len(modules) != 1 || modules[0] != "module-b" {
		t.Fatalf("expected only module-b, got %v", modules)
	}
}

func TestOperationsOfUnroutedModule(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())

	// Registered code with no routed operations is not an error.
	ops, err := d.OperationsOf(ctx, "module-a")
	if err != nil {
		t.Fatalf("operations of unrouted module: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected no operations, got %v", ops)
	}

	// An address with no deployed code is.
	if _, err := d.OperationsOf(ctx, "module-ghost"); !apperrors.IsCode(err, apperrors.CodeModuleHasNoCode) {
		t.Fatalf("expected MODULE_HAS_NO_CODE, got %v", err)
	}
}

func TestDuplicateAddFailsWholeBatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())

	err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, nil)
	if !apperrors.IsCode(err, apperrors.CodeDuplicateOperation) {
		t.Fatalf("expected DUPLICATE_OPERATION, got %v", err)
	}

	// Nothing from the batch may be applied.
	if _, err := d.ModuleFor(ctx, opOne); !apperrors.IsCode(err, apperrors.CodeOperationNotMapped) {
		t.Fatalf("expected opOne unmapped after failed batch, got %v", err)
	}
	modules, err := d.Modules(ctx)
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	if len(modules) != 0 {
		t.Fatalf("expected no modules after failed batch, got %v", modules)
	}
}

func TestDuplicateIdsWithinOneAdd(t *testing.T) {
	d := newTestDispatcher(t)
	d.Registry().Register("module-a", echoModule())

	err := d.SubmitRouteChanges(context.Background(), "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne, opOne}},
	}, nil)
	if !apperrors.IsCode(err, apperrors.CodeDuplicateOperation) {
		t.Fatalf("expected DUPLICATE_OPERATION, got %v", err)
	}
}

func TestRouteChangeValidation(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())

	cases := []struct {
		name    string
		changes []Change
		want    apperrors.Code
	}{
		{
			name:    "add with unknown code",
			changes: []Change{{Action: ActionAdd, Address: "module-ghost", Ops: []OpID{opOne}}},
			want:    apperrors.CodeModuleHasNoCode,
		},
		{
			name:    "add with null address",
			changes: []Change{{Action: ActionAdd, Address: NullAddress, Ops: []OpID{opOne}}},
			want:    apperrors.CodeRouteAddressInvalid,
		},
		{
			name:    "replace unmapped",
			changes: []Change{{Action: ActionReplace, Address: "module-a", Ops: []OpID{opOne}}},
			want:    apperrors.CodeOperationNotMapped,
		},
		{
			name:    "remove with non-null address",
			changes: []Change{{Action: ActionRemove, Address: "module-a", Ops: []OpID{opOne}}},
			want:    apperrors.CodeRouteAddressInvalid,
		},
		{
			name:    "remove unmapped",
			changes: []Change{{Action: ActionRemove, Address: NullAddress, Ops: []OpID{opOne}}},
			want:    apperrors.CodeOperationNotMapped,
		},
		{
			name:    "empty op set",
			changes: []Change{{Action: ActionAdd, Address: "module-a", Ops: nil}},
			want:    apperrors.CodeRouteActionInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.SubmitRouteChanges(ctx, "acct-owner", tc.changes, nil)
			if !apperrors.IsCode(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestReplaceWithSameModuleIsRejected(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())

	if err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionReplace, Address: "module-a", Ops: []OpID{opOne}},
	}, nil)
	if !apperrors.IsCode(err, apperrors.CodeDuplicateOperation) {
		t.Fatalf("expected DUPLICATE_OPERATION for no-op replace, got %v", err)
	}
}

func TestSubmitRouteChangesOwnerOnly(t *testing.T) {
	d := newTestDispatcher(t)
	d.Registry().Register("module-a", echoModule())

	err := d.SubmitRouteChanges(context.Background(), "acct-intruder", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, nil)
	if !apperrors.IsCode(err, apperrors.CodeCallerNotOwner) {
		t.Fatalf("expected CALLER_NOT_OWNER, got %v", err)
	}
}

func TestInitHookFailureRollsBackBatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())
	d.Registry().Register("module-init", ModuleFunc(func(_ context.Context, _ *Call) ([]byte, error) {
		return nil, apperrors.New(apperrors.CodeArgumentInvalid, "init refused")
	}))

	err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, &InitCall{Address: "module-init", Op: OpNamed("init")})
	if !apperrors.IsCode(err, apperrors.CodeArgumentInvalid) {
		t.Fatalf("expected init failure to propagate, got %v", err)
	}

	if _, err := d.ModuleFor(ctx, opOne); !apperrors.IsCode(err, apperrors.CodeOperationNotMapped) {
		t.Fatalf("expected route change rolled back with init, got %v", err)
	}
}

func TestInitHookRunsInsideBatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())

	var sawCaller string
	d.Registry().Register("module-init", ModuleFunc(func(_ context.Context, call *Call) ([]byte, error) {
		sawCaller = call.Caller
		call.State().Event.Venue = "set by init"
		return nil, nil
	}))

	err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, &InitCall{Address: "module-init", Op: OpNamed("init")})
	if err != nil {
		t.Fatalf("batch with init: %v", err)
	}
	if sawCaller != "acct-owner" {
		t.Fatalf("expected init to observe the owner, got %q", sawCaller)
	}

	owner, err := d.ModuleFor(ctx, opOne)
	if err != nil || owner != "module-a" {
		t.Fatalf("expected route committed, got %q err %v", owner, err)
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), "acct-1", opOne, nil)
	if !apperrors.IsCode(err, apperrors.CodeUnknownOperation) {
		t.Fatalf("expected UNKNOWN_OPERATION, got %v", err)
	}
}

func TestDispatchRequiresCaller(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), "  ", opOne, nil)
	if !apperrors.IsCode(err, apperrors.CodeCallerMissing) {
		t.Fatalf("expected CALLER_MISSING, got %v", err)
	}
}

func TestDispatchRelaysResultVerbatim(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	d.Registry().Register("module-a", echoModule())

	if err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	payload := []byte{0xa1, 0x61, 0x6b, 0x61, 0x76}
	result, err := d.Dispatch(ctx, "acct-1", opOne, payload)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(result) != string(payload) {
		t.Fatalf("expected result relayed verbatim, got %x", result)
	}
}

func TestDispatchPreservesCallerIdentity(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	var sawCaller string
	d.Registry().Register("module-a", ModuleFunc(func(_ context.Context, call *Call) ([]byte, error) {
		sawCaller = call.Caller
		return nil, nil
	}))

	if err := d.SubmitRouteChanges(ctx, "acct-owner", []Change{
		{Action: ActionAdd, Address: "module-a", Ops: []OpID{opOne}},
	}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := d.Dispatch(ctx, "acct-external", opOne, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sawCaller != "acct-external" {
		t.Fatalf("expected module to observe original caller, got %q", sawCaller)
	}
}

func TestTransferOwnership(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.TransferOwnership(ctx, "acct-intruder", "acct-new"); !apperrors.IsCode(err, apperrors.CodeCallerNotOwner) {
		t.Fatalf("expected CALLER_NOT_OWNER, got %v", err)
	}
	if err := d.TransferOwnership(ctx, "acct-owner", ""); !apperrors.IsCode(err, apperrors.CodeNullOwner) {
		t.Fatalf("expected NULL_OWNER, got %v", err)
	}

	if err := d.TransferOwnership(ctx, "acct-owner", "acct-new"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, err := d.Owner(ctx)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "acct-new" {
		t.Fatalf("expected acct-new, got %q", owner)
	}

	// The previous owner is locked out; single-step transfer has no undo.
	if err := d.TransferOwnership(ctx, "acct-owner", "acct-owner"); !apperrors.IsCode(err, apperrors.CodeCallerNotOwner) {
		t.Fatalf("expected CALLER_NOT_OWNER for previous owner, got %v", err)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.Bootstrap(ctx, "acct-other"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	owner, err := d.Owner(ctx)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "acct-owner" {
		t.Fatalf("expected first bootstrap to win, got %q", owner)
	}
}
