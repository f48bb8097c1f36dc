// Package model defines the domain types used across the application.
package model

import "time"

// RuleKind defines how a monitor rule queries the upstream search API.
type RuleKind string

// Supported rule kinds.
const (
	KindKeyword  RuleKind = "keyword"
	KindAccount  RuleKind = "account"
	KindAdvanced RuleKind = "advanced"
)

// Rule represents a single monitoring intent created by a user.
type Rule struct {
	ID                string
	UserID            string
	Kind              RuleKind
	Query             string
	Name              string
	IsActive          bool
	CheckInterval     int // seconds
	LastCheckedAt     *time.Time
	CreditsPerCheck   int64
	MinFollowers      int
	IncludeReplies    bool
	DeactivatedReason string
	CreatedAt         time.Time
}

// Due reports whether the rule should be checked at the given time.
func (r *Rule) Due(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*r.LastCheckedAt) >= time.Duration(r.CheckInterval)*time.Second
}

// Tweet is a normalized upstream search result item.
type Tweet struct {
	ID              string
	Text            string
	Author          string
	AuthorID        string
	AuthorFollowers int
	URL             string
	CreatedAt       time.Time
	IsReply         bool
	LikeCount       int
	RetweetCount    int
	ReplyCount      int
}

// NotificationStatus tracks the delivery state of a hit notification.
type NotificationStatus string

// Notification states.
const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Hit is a persisted record of one tweet matched by a rule.
// TweetID is globally unique across all rules: the same tweet is never
// recorded twice even when matched by two different rules.
type Hit struct {
	ID                 string
	RuleID             string
	UserID             string
	TweetID            string
	Text               string
	Author             string
	AuthorID           string
	URL                string
	TweetCreatedAt     *time.Time
	LikeCount          int
	RetweetCount       int
	ReplyCount         int
	MatchedKeyword     string
	MatchedAt          time.Time
	NotificationStatus NotificationStatus
	NotificationError  string
	NotifiedAt         *time.Time
}

// Binding maps a user to their Telegram chat. A binding starts unverified
// with a short-lived verification token; the bot completes it when the user
// sends the token back.
type Binding struct {
	ID                   string
	UserID               string
	ChatID               int64
	Username             string
	FirstName            string
	IsVerified           bool
	VerificationToken    string
	TokenExpiresAt       *time.Time
	MuteUntil            *time.Time
	NotificationsEnabled bool
	CreatedAt            time.Time
}

// Deliverable reports whether notifications can be sent to this binding now.
func (b *Binding) Deliverable(now time.Time) bool {
	if b == nil || !b.IsVerified || !b.NotificationsEnabled || b.ChatID == 0 {
		return false
	}
	if b.MuteUntil != nil && now.Before(*b.MuteUntil) {
		return false
	}
	return true
}

// Credit ledger reasons.
const (
	ReasonGrant       = "grant"
	ReasonRuleCheck   = "rule_check"
	ReasonCheckRefund = "rule_check_refund"
)

// LedgerEntry is one append-only credit delta for a user. The running sum
// of deltas is the user's balance.
type LedgerEntry struct {
	ID        string
	UserID    string
	Delta     int64
	Reason    string
	RefID     string // reservation id for refunds; enforces refund idempotence
	CreatedAt time.Time
}
