// Package local provides in-memory collaborator implementations for the dev
// server and tests. They are not transactional with the arena: a production
// deployment replaces them with adapters to the real token and settlement
// systems.
package local

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// Token is an in-memory ticket token registry.
type Token struct {
	mu     sync.Mutex
	owners map[uint64]string
	status map[uint64]string
}

// NewToken creates an empty token registry.
func NewToken() *Token {
	return &Token{
		owners: make(map[uint64]string),
		status: make(map[uint64]string),
	}
}

// Mint issues a new ticket token to an account.
func (t *Token) Mint(_ context.Context, to string, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.owners[id]; exists {
		return apperrors.WithMetadata(apperrors.CodeTicketIDInvalid,
			fmt.Sprintf("ticket %d already minted", id),
			map[string]string{"ticket": fmt.Sprint(id)})
	}
	t.owners[id] = to
	return nil
}

// OwnerOf returns the account currently holding the ticket.
func (t *Token) OwnerOf(_ context.Context, id uint64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[id]
	if !ok {
		return "", apperrors.WithMetadata(apperrors.CodeTicketNotFound,
			fmt.Sprintf("ticket %d does not exist", id),
			map[string]string{"ticket": fmt.Sprint(id)})
	}
	return owner, nil
}

// Transfer moves a ticket between accounts.
func (t *Token) Transfer(_ context.Context, from, to string, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[id]
	if !ok {
		return apperrors.New(apperrors.CodeTicketNotFound, "ticket does not exist")
	}
	if owner != from {
		return apperrors.New(apperrors.CodeTicketNotOwned, "transfer from non-owner")
	}
	t.owners[id] = to
	return nil
}

// SetStatus updates a ticket's lifecycle status annotation.
func (t *Token) SetStatus(_ context.Context, id uint64, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.owners[id]; !ok {
		return apperrors.New(apperrors.CodeTicketNotFound, "ticket does not exist")
	}
	t.status[id] = status
	return nil
}

// Status returns a ticket's status annotation. Test helper.
func (t *Token) Status(id uint64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status[id]
}

// Ledger is an in-memory fungible balance ledger.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewLedger creates a ledger with the given opening balances.
func NewLedger(opening map[string]uint64) *Ledger {
	balances := make(map[string]uint64, len(opening))
	for account, amount := range opening {
		balances[account] = amount
	}
	return &Ledger{balances: balances}
}

// BalanceOf returns an account's available balance in cents.
func (l *Ledger) BalanceOf(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Transfer moves amountCents from one account to another.
func (l *Ledger) Transfer(_ context.Context, from, to string, amountCents uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amountCents {
		return apperrors.WithMetadata(apperrors.CodePaymentFailed,
			"insufficient balance",
			map[string]string{"account": from})
	}
	l.balances[from] -= amountCents
	l.balances[to] += amountCents
	return nil
}
