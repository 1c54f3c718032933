// Package errors provides structured error handling for the execution core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Routing errors
	CodeUnknownOperation   Code = "UNKNOWN_OPERATION"
	CodeDuplicateOperation Code = "DUPLICATE_OPERATION"
	CodeOperationNotMapped Code = "OPERATION_NOT_MAPPED"
	CodeModuleHasNoCode    Code = "MODULE_HAS_NO_CODE"
	CodeRouteActionInvalid Code = "ROUTE_ACTION_INVALID"
	CodeRouteAddressInvalid Code = "ROUTE_ADDRESS_INVALID"

	// Authorization errors
	CodeCallerNotOwner        Code = "CALLER_NOT_OWNER"
	CodeCallerNotCreator      Code = "CALLER_NOT_CREATOR"
	CodeInsufficientStaffRole Code = "INSUFFICIENT_STAFF_ROLE"
	CodeNullOwner             Code = "NULL_OWNER"
	CodeCallerMissing         Code = "CALLER_MISSING"
	CodeIdentityGrantInvalid  Code = "IDENTITY_GRANT_INVALID"
	CodeIdentityGrantExpired  Code = "IDENTITY_GRANT_EXPIRED"

	// Event lifecycle errors
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeEventCancelled     Code = "EVENT_CANCELLED"
	CodeEventNotActive     Code = "EVENT_NOT_ACTIVE"
	CodeEventNameEmpty     Code = "EVENT_NAME_EMPTY"

	// Tier and ticket errors
	CodeTierNotFound       Code = "TIER_NOT_FOUND"
	CodeTierSoldOut        Code = "TIER_SOLD_OUT"
	CodeTierInvalid        Code = "TIER_INVALID"
	CodeTicketNotFound     Code = "TICKET_NOT_FOUND"
	CodeTicketNotOwned     Code = "TICKET_NOT_OWNED"
	CodeTicketIDInvalid    Code = "TICKET_ID_INVALID"
	CodeTicketAlreadyUsed  Code = "TICKET_ALREADY_USED"

	// Marketplace errors
	CodeListingNotFound      Code = "LISTING_NOT_FOUND"
	CodeListingExists        Code = "LISTING_EXISTS"
	CodeListingPriceInvalid  Code = "LISTING_PRICE_INVALID"
	CodeInsufficientEscrow   Code = "INSUFFICIENT_ESCROW"
	CodePaymentFailed        Code = "PAYMENT_FAILED"

	// Execution errors
	CodeReentrancyBlocked      Code = "REENTRANCY_BLOCKED"
	CodeResourceBudgetExceeded Code = "RESOURCE_BUDGET_EXCEEDED"
	CodeArgumentInvalid        Code = "ARGUMENT_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeStorage  Code = "STORAGE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeDuplicateOperation,
		CodeRouteActionInvalid,
		CodeRouteAddressInvalid,
		CodeNullOwner,
		CodeEventNameEmpty,
		CodeTierInvalid,
		CodeTicketIDInvalid,
		CodeListingPriceInvalid,
		CodeArgumentInvalid:
		return http.StatusBadRequest

	// Unauthorized - missing or unverifiable identity
	case CodeCallerMissing,
		CodeIdentityGrantInvalid,
		CodeIdentityGrantExpired:
		return http.StatusUnauthorized

	// Forbidden - identity known, privilege missing
	case CodeCallerNotOwner,
		CodeCallerNotCreator,
		CodeInsufficientStaffRole:
		return http.StatusForbidden

	// Not found - resource doesn't exist
	case CodeUnknownOperation,
		CodeOperationNotMapped,
		CodeModuleHasNoCode,
		CodeTierNotFound,
		CodeTicketNotFound,
		CodeListingNotFound,
		CodeNotFound:
		return http.StatusNotFound

	// Conflict - state doesn't allow the operation
	case CodeAlreadyInitialized,
		CodeNotInitialized,
		CodeEventCancelled,
		CodeEventNotActive,
		CodeTierSoldOut,
		CodeTicketNotOwned,
		CodeTicketAlreadyUsed,
		CodeListingExists,
		CodeInsufficientEscrow,
		CodePaymentFailed,
		CodeReentrancyBlocked:
		return http.StatusConflict

	// Unprocessable - call aborted by the execution budget
	case CodeResourceBudgetExceeded:
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
