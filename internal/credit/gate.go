// Package credit gates rule execution on a prepaid per-user balance.
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pulsefeed/internal/model"
	"pulsefeed/internal/storage"
)

// ErrInsufficient is returned by Reserve when the balance does not cover
// the requested cost.
var ErrInsufficient = errors.New("insufficient credit")

// Ledger is the slice of storage the gate needs.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	AddLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	ReserveCredits(ctx context.Context, userID string, cost int64, reservationID string) error
	RefundReservation(ctx context.Context, userID string, cost int64, reservationID string) error
}

// Gate issues and releases credit reservations against the ledger. The
// debit itself is atomic at the persistence layer, so concurrent checks on
// rules owned by the same user cannot overspend.
type Gate struct {
	ledger Ledger
}

// NewGate creates a Gate over the given ledger store.
func NewGate(ledger Ledger) *Gate {
	return &Gate{ledger: ledger}
}

// Reservation is a committed-unless-refunded debit.
type Reservation struct {
	ID     string
	UserID string
	Cost   int64
}

// Reserve debits cost from the user and returns the reservation handle.
// Returns ErrInsufficient, with no ledger mutation, when the balance is
// too low. A reservation needs no explicit commit: the debit stands unless
// Refund is called.
func (g *Gate) Reserve(ctx context.Context, userID string, cost int64) (*Reservation, error) {
	if cost <= 0 {
		return &Reservation{ID: "", UserID: userID, Cost: 0}, nil
	}
	id := uuid.NewString()
	err := g.ledger.ReserveCredits(ctx, userID, cost, id)
	if errors.Is(err, storage.ErrInsufficientCredit) {
		return nil, ErrInsufficient
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	return &Reservation{ID: id, UserID: userID, Cost: cost}, nil
}

// Refund releases a reservation. Safe to call at most once per check flow,
// and idempotent at the ledger level if a retry invokes it again.
func (g *Gate) Refund(ctx context.Context, r *Reservation) error {
	if r == nil || r.Cost == 0 {
		return nil
	}
	if err := g.ledger.RefundReservation(ctx, r.UserID, r.Cost, r.ID); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	return nil
}

// Grant appends a positive adjustment, e.g. a purchased credit pack.
func (g *Gate) Grant(ctx context.Context, userID string, amount int64, reason string) error {
	if reason == "" {
		reason = model.ReasonGrant
	}
	return g.ledger.AddLedgerEntry(ctx, &model.LedgerEntry{
		ID:     uuid.NewString(),
		UserID: userID,
		Delta:  amount,
		Reason: reason,
	})
}

// Balance returns the user's current balance.
func (g *Gate) Balance(ctx context.Context, userID string) (int64, error) {
	return g.ledger.Balance(ctx, userID)
}
