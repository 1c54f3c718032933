// Package collab declares the external collaborators the business modules
// interact with. The core consumes these interfaces opaquely: it does not
// implement token transfer or balance settlement itself, and it must stay
// correct even when a collaborator calls back into the dispatcher before
// returning (the re-entrancy hazard the guards exist for).
package collab

import "context"

// TicketToken exposes mint, status-update, and ownership-query semantics
// for tickets.
type TicketToken interface {
	// Mint issues a new ticket token to an account.
	Mint(ctx context.Context, to string, id uint64) error
	// OwnerOf returns the account currently holding the ticket.
	OwnerOf(ctx context.Context, id uint64) (string, error)
	// Transfer moves a ticket between accounts.
	Transfer(ctx context.Context, from, to string, id uint64) error
	// SetStatus updates a ticket's lifecycle status annotation.
	SetStatus(ctx context.Context, id uint64, status string) error
}

// PaymentLedger settles fungible balances between accounts.
type PaymentLedger interface {
	// BalanceOf returns an account's available balance in cents.
	BalanceOf(ctx context.Context, account string) (uint64, error)
	// Transfer moves amountCents from one account to another.
	Transfer(ctx context.Context, from, to string, amountCents uint64) error
}
