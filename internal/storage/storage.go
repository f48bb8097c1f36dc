// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"pulsefeed/internal/model"
)

// ErrInsufficientCredit is returned by ReserveCredits when the user's
// balance does not cover the requested cost. No ledger mutation occurs.
var ErrInsufficientCredit = errors.New("insufficient credit")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	ListRules(ctx context.Context, userID string) ([]model.Rule, error)
	ListDueRules(ctx context.Context, now time.Time) ([]model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule) error
	DeactivateRule(ctx context.Context, id, reason string) error
	SetLastChecked(ctx context.Context, id string, at time.Time) error
	DeleteRule(ctx context.Context, id string) error

	// FilterNewTweetIDs returns the subset of ids not yet recorded as hits.
	// It is advisory: CreateHit's uniqueness constraint is what actually
	// resolves two rules racing on the same tweet.
	FilterNewTweetIDs(ctx context.Context, ids []string) ([]string, error)
	// CreateHit inserts a hit, returning false when the tweet id is already
	// recorded (first writer wins, no error).
	CreateHit(ctx context.Context, hit *model.Hit) (bool, error)
	ListHits(ctx context.Context, ruleID string, limit int) ([]model.Hit, error)
	SetHitNotification(ctx context.Context, hitID string, status model.NotificationStatus, errMsg string, at time.Time) error
	CountPendingHits(ctx context.Context, userID string) (int, error)

	CreateBinding(ctx context.Context, b *model.Binding) error
	GetBindingByUser(ctx context.Context, userID string) (*model.Binding, error)
	GetBindingByChat(ctx context.Context, chatID int64) (*model.Binding, error)
	FindBindingByToken(ctx context.Context, token string, now time.Time) (*model.Binding, error)
	UpdateBinding(ctx context.Context, b *model.Binding) error
	DeleteBinding(ctx context.Context, id string) error

	Balance(ctx context.Context, userID string) (int64, error)
	AddLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	// ReserveCredits atomically verifies the balance covers cost and
	// appends a debit entry with the given reservation id.
	ReserveCredits(ctx context.Context, userID string, cost int64, reservationID string) error
	// RefundReservation appends a compensating credit entry. Calling it
	// again for the same reservation is a no-op.
	RefundReservation(ctx context.Context, userID string, cost int64, reservationID string) error

	AcquireRuleLock(ctx context.Context, ruleID, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseRuleLock(ctx context.Context, ruleID, holder string) error

	Close() error
}
