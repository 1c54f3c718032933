// Package access provides the composable precondition checks business
// modules consult before mutating the arena. Checks compose by simple
// conjunction; each raises a distinct failure code when violated.
package access

import (
	"github.com/stagegate/stagegate/internal/arena"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// OwnerOnly requires the caller to equal the owner record.
func OwnerOnly(state *arena.State, caller string) error {
	if caller != state.Owner {
		return apperrors.New(apperrors.CodeCallerNotOwner, "caller is not the owner")
	}
	return nil
}

// CreatorOnly requires the caller to equal the creator record.
func CreatorOnly(state *arena.State, caller string) error {
	if caller != state.Creator {
		return apperrors.New(apperrors.CodeCallerNotCreator, "caller is not the creator")
	}
	return nil
}

// OwnerOrCreator passes for either record. Used by reset-style operations
// that predate staff roles.
func OwnerOrCreator(state *arena.State, caller string) error {
	if caller == state.Owner || caller == state.Creator {
		return nil
	}
	return apperrors.New(apperrors.CodeCallerNotOwner, "caller is neither owner nor creator")
}

// EventActive requires the event to be initialized and not cancelled or
// completed.
func EventActive(state *arena.State) error {
	if !state.Initialized() {
		return apperrors.New(apperrors.CodeNotInitialized, "event is not initialized")
	}
	if state.Event.Cancelled {
		return apperrors.New(apperrors.CodeEventCancelled, "event is cancelled")
	}
	if state.Event.Completed {
		return apperrors.New(apperrors.CodeEventNotActive, "event is completed")
	}
	return nil
}

// MinimumRole requires the caller's staff role to be numerically at least
// required. The owner passes regardless of staff role.
func MinimumRole(state *arena.State, caller string, required arena.Role) error {
	if caller == state.Owner {
		return nil
	}
	held := state.RoleOf(caller)
	if !held.AtLeast(required) {
		return apperrors.WithMetadata(apperrors.CodeInsufficientStaffRole,
			"staff role is insufficient",
			map[string]string{"held": held.String(), "required": required.String()})
	}
	return nil
}

// Check runs checks in order and returns the first violation.
func Check(checks ...error) error {
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}
