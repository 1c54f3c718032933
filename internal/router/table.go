package router

import (
	"github.com/stagegate/stagegate/internal/arena"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// The routing table lives inside the arena aggregate so that route changes
// commit or roll back with the same transaction as everything else. Two
// structures are kept in lockstep: the forward map (operation id -> route
// entry) and the packed reverse index (enumerable module list, each with the
// operation ids it owns). Removal uses swap-with-last-and-pop on both the
// per-module operation list and the module list itself, so enumeration order
// is not stable across removals.

// routeFor resolves an operation id to its route entry.
func routeFor(state *arena.State, op OpID) (arena.RouteEntry, error) {
	entry, ok := state.Routes[op.String()]
	if !ok {
		return arena.RouteEntry{}, apperrors.WithMetadata(apperrors.CodeOperationNotMapped,
			"operation is not mapped",
			map[string]string{"op": op.String()})
	}
	return entry, nil
}

// addRoute maps an unmapped operation id to a module, inserting the module
// into the enumerable list on its first owned id.
func addRoute(state *arena.State, op OpID, address string) {
	record := moduleRecordIndex(state, address)
	if record < 0 {
		state.Modules = append(state.Modules, arena.ModuleRecord{Address: address})
		record = len(state.Modules) - 1
	}

	state.Modules[record].Ops = append(state.Modules[record].Ops, op.String())
	state.Routes[op.String()] = arena.RouteEntry{
		Address: address,
		Index:   uint32(len(state.Modules[record].Ops) - 1),
	}
}

// removeRoute deletes the mapping for a mapped operation id. If the owning
// module's operation list becomes empty, the module is dropped from the
// enumerable list.
func removeRoute(state *arena.State, op OpID) {
	entry := state.Routes[op.String()]
	record := moduleRecordIndex(state, entry.Address)

	ops := state.Modules[record].Ops
	last := len(ops) - 1
	if int(entry.Index) != last {
		moved := ops[last]
		ops[entry.Index] = moved
		movedEntry := state.Routes[moved]
		movedEntry.Index = entry.Index
		state.Routes[moved] = movedEntry
	}
	state.Modules[record].Ops = ops[:last]
	delete(state.Routes, op.String())

	if len(state.Modules[record].Ops) == 0 {
		lastRecord := len(state.Modules) - 1
		if record != lastRecord {
			state.Modules[record] = state.Modules[lastRecord]
		}
		state.Modules = state.Modules[:lastRecord]
	}
}

// moduleRecordIndex finds a module's position in the enumerable list, -1
// when absent.
func moduleRecordIndex(state *arena.State, address string) int {
	for i := range state.Modules {
		if state.Modules[i].Address == address {
			return i
		}
	}
	return -1
}
