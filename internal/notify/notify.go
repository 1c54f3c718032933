// Package notify records state-change notifications for off-chain indexers.
// Notifications are collected in memory while a call executes and are only
// persisted when the call commits, so a rolled-back call leaves no trace in
// the journal.
package notify

import "time"

// Kind names a category of state change.
type Kind string

const (
	KindInitialized       Kind = "event.initialized"
	KindMetadataUpdated   Kind = "event.metadata_updated"
	KindTierAdded         Kind = "event.tier_added"
	KindTierUpdated       Kind = "event.tier_updated"
	KindTiersCleared      Kind = "event.tiers_cleared"
	KindEventCancelled    Kind = "event.cancelled"
	KindEventCompleted    Kind = "event.completed"
	KindTicketPurchased   Kind = "purchase.ticket_purchased"
	KindProceedsWithdrawn Kind = "purchase.proceeds_withdrawn"
	KindTicketRefunded    Kind = "purchase.ticket_refunded"
	KindTicketListed      Kind = "resale.ticket_listed"
	KindListingCancelled  Kind = "resale.listing_cancelled"
	KindTicketResold      Kind = "resale.ticket_resold"
	KindFeesWithdrawn     Kind = "resale.fees_withdrawn"
	KindStaffRoleSet      Kind = "staff.role_set"
	KindTicketScanned     Kind = "staff.ticket_scanned"
	KindTicketCheckedIn   Kind = "staff.ticket_checked_in"
	KindRoutesChanged     Kind = "router.routes_changed"
	KindOwnerTransferred  Kind = "router.owner_transferred"
)

// Event is one state-change notification.
type Event struct {
	Seq       uint64            `cbor:"1,keyasint" json:"seq"`
	Timestamp time.Time         `cbor:"2,keyasint" json:"timestamp"`
	Kind      Kind              `cbor:"3,keyasint" json:"kind"`
	Actor     string            `cbor:"4,keyasint" json:"actor"`
	Fields    map[string]string `cbor:"5,keyasint,omitempty" json:"fields,omitempty"`
}

// Log collects notifications emitted during a single call. The sequence
// number is assigned at commit time by the store, not here.
type Log struct {
	pending []Event
	now     func() time.Time
}

// NewLog creates a notification log for one call.
func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// Emit records a notification. It is safe to call on a nil log, which makes
// notifications optional for callers that never commit.
func (l *Log) Emit(kind Kind, actor string, fields map[string]string) {
	if l == nil {
		return
	}
	l.pending = append(l.pending, Event{
		Timestamp: l.now().UTC(),
		Kind:      kind,
		Actor:     actor,
		Fields:    fields,
	})
}

// Pending returns the notifications collected so far, in emission order.
func (l *Log) Pending() []Event {
	if l == nil {
		return nil
	}
	return l.pending
}
