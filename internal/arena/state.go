// Package arena holds the shared storage arena: the single aggregate of
// mutable state that every module reads and writes. No module owns private
// storage; a module entry point receives the aggregate as an explicit
// argument and mutates it in place, and the store decides atomically whether
// those mutations commit.
//
// Layout discipline: every persisted struct uses integer CBOR keys
// (keyasint) and fields are append-only. A field, once assigned a key, keeps
// that key forever; new fields take the next free key. Keys 32 through 63 of
// the State record are reserved padding for future growth so that existing
// key assignments never shift across upgrades.
package arena

import (
	"time"
)

// Role is a staff privilege level. Levels are ordered: a role implies every
// privilege of the roles below it. There is no role subtraction, only
// substitution.
type Role uint8

const (
	// RoleNone is the zero role; it grants nothing.
	RoleNone Role = iota
	// RoleScanner may scan tickets at the gate.
	RoleScanner
	// RoleCheckIn may scan and check attendees in.
	RoleCheckIn
	// RoleManager may do everything staff can, including tier changes and
	// role administration.
	RoleManager
)

// AtLeast reports whether the role grants the privileges of required.
func (r Role) AtLeast(required Role) bool {
	return r >= required
}

// String returns the canonical role name.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleScanner:
		return "scanner"
	case RoleCheckIn:
		return "checkin"
	case RoleManager:
		return "manager"
	default:
		return "invalid"
	}
}

// ParseRole parses a canonical role name.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "none":
		return RoleNone, true
	case "scanner":
		return RoleScanner, true
	case "checkin":
		return RoleCheckIn, true
	case "manager":
		return RoleManager, true
	default:
		return RoleNone, false
	}
}

// TicketStatus tracks what has happened to an issued ticket.
type TicketStatus uint8

const (
	// TicketIssued is the status of a freshly minted ticket.
	TicketIssued TicketStatus = iota
	// TicketScanned marks a ticket validated at the gate.
	TicketScanned
	// TicketCheckedIn marks an attendee checked in.
	TicketCheckedIn
	// TicketRefunded marks a ticket refunded after cancellation.
	TicketRefunded
)

// EventMeta is the core event record populated by initialize.
type EventMeta struct {
	Name      string    `cbor:"1,keyasint"`
	Venue     string    `cbor:"2,keyasint"`
	Date      time.Time `cbor:"3,keyasint"`
	Category  string    `cbor:"4,keyasint"`
	Cancelled bool      `cbor:"5,keyasint"`
	Completed bool      `cbor:"6,keyasint"`
	// Code is the numeric event code ticket identifiers embed.
	Code uint64 `cbor:"7,keyasint"`
}

// Tier is one ticket tier. The tier table is append-only; tiers are
// addressed by index and never removed individually (clearAllTiers wipes the
// whole table).
type Tier struct {
	Name       string `cbor:"1,keyasint"`
	PriceCents uint64 `cbor:"2,keyasint"`
	Capacity   uint32 `cbor:"3,keyasint"`
	Sold       uint32 `cbor:"4,keyasint"`
}

// Listing is a resale marketplace entry, keyed by ticket id in the listing
// table.
type Listing struct {
	Seller     string    `cbor:"1,keyasint"`
	PriceCents uint64    `cbor:"2,keyasint"`
	ListedAt   time.Time `cbor:"3,keyasint"`
}

// Counters aggregates sales totals across modules.
type Counters struct {
	TicketsSold     uint64 `cbor:"1,keyasint"`
	GrossSalesCents uint64 `cbor:"2,keyasint"`
	ResaleCount     uint64 `cbor:"3,keyasint"`
}

// RouteEntry maps one operation id to its owning module. Index is the
// position of the operation inside the owning module's operation list, kept
// so removal can swap-with-last-and-pop without scanning.
type RouteEntry struct {
	Address string `cbor:"1,keyasint"`
	Index   uint32 `cbor:"2,keyasint"`
}

// ModuleRecord is one entry of the packed enumerable module list: a module
// address plus the operation ids it currently owns. A module appears in the
// list iff it owns at least one operation.
type ModuleRecord struct {
	Address string   `cbor:"1,keyasint"`
	Ops     []string `cbor:"2,keyasint"`
}

// State is the shared storage arena aggregate. Every field any module
// mutates lives here; the store persists the whole record atomically per
// call.
//
// Keys 14..31 are free for future fields; keys 32..63 are reserved padding.
type State struct {
	Event     EventMeta             `cbor:"1,keyasint"`
	Tiers     []Tier                `cbor:"2,keyasint,omitempty"`
	Listings  map[uint64]Listing    `cbor:"3,keyasint,omitempty"`
	Staff     map[string]Role       `cbor:"4,keyasint,omitempty"`
	Escrow    map[string]uint64     `cbor:"5,keyasint,omitempty"`
	FeesCents uint64                `cbor:"6,keyasint"`
	Counters  Counters              `cbor:"7,keyasint"`
	Nonces    map[string]uint64     `cbor:"8,keyasint,omitempty"`
	Routes    map[string]RouteEntry `cbor:"9,keyasint,omitempty"`
	Modules   []ModuleRecord        `cbor:"10,keyasint,omitempty"`
	Owner     string                `cbor:"11,keyasint"`
	Creator   string                `cbor:"12,keyasint"`
	Tickets   map[uint64]TicketStatus `cbor:"13,keyasint,omitempty"`
}

// EnsureMaps allocates any nil map field. Called after decode so modules can
// write into maps without nil checks.
func (s *State) EnsureMaps() {
	if s.Listings == nil {
		s.Listings = make(map[uint64]Listing)
	}
	if s.Staff == nil {
		s.Staff = make(map[string]Role)
	}
	if s.Escrow == nil {
		s.Escrow = make(map[string]uint64)
	}
	if s.Nonces == nil {
		s.Nonces = make(map[string]uint64)
	}
	if s.Routes == nil {
		s.Routes = make(map[string]RouteEntry)
	}
	if s.Tickets == nil {
		s.Tickets = make(map[uint64]TicketStatus)
	}
}

// Initialized reports whether initialize has run. The empty event name is
// the idempotency signal.
func (s *State) Initialized() bool {
	return s.Event.Name != ""
}

// Active reports whether the event accepts mutating business operations.
func (s *State) Active() bool {
	return s.Initialized() && !s.Event.Cancelled && !s.Event.Completed
}

// RoleOf returns the staff role held by the caller, RoleNone when absent.
func (s *State) RoleOf(caller string) Role {
	return s.Staff[caller]
}
