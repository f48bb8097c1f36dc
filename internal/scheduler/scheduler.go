// Package scheduler drives the rule-check pipeline: due-rule selection,
// per-rule exclusivity, credit gating, search, dedup, and notification
// handoff.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pulsefeed/internal/credit"
	"pulsefeed/internal/filter"
	"pulsefeed/internal/model"
	"pulsefeed/internal/search"
	"pulsefeed/internal/storage"
)

// Deactivation reasons surfaced to rule owners.
const (
	ReasonInsufficientCredit = "insufficient credit"
	ReasonQueryRejected      = "upstream rejected query"
	ReasonRepeatedFailures   = "repeated upstream failures"
)

// Fetcher is the search adapter boundary.
type Fetcher interface {
	Fetch(ctx context.Context, rule *model.Rule, since time.Time) ([]model.Tweet, error)
}

// Gate is the credit gate boundary.
type Gate interface {
	Reserve(ctx context.Context, userID string, cost int64) (*credit.Reservation, error)
	Refund(ctx context.Context, r *credit.Reservation) error
	Balance(ctx context.Context, userID string) (int64, error)
}

// Enqueuer receives newly created hits for asynchronous notification.
type Enqueuer interface {
	Enqueue(hit *model.Hit)
}

// Alerter delivers out-of-band notices to rule owners. Optional.
type Alerter interface {
	NotifyLowCredit(ctx context.Context, userID, ruleName string, balance int64)
	NotifyRulePaused(ctx context.Context, userID, ruleName, reason string)
}

// Options tune the scheduler.
type Options struct {
	Workers                int           // concurrent rule checks per tick
	MinCheckInterval       time.Duration // floor on any rule's effective interval
	FirstRunLookback       time.Duration // search window when a rule has never been checked
	CheckTimeout           time.Duration // wall-clock ceiling per rule check
	LockTTL                time.Duration // stale in-flight marker eviction age
	MaxConsecutiveFailures int           // transient failures before deactivation
	TransientBackoff       time.Duration // cooldown base after a transient failure
	RateLimitBackoff       time.Duration // cooldown base after upstream rate limiting
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers < 1 {
		out.Workers = 10
	}
	if out.MinCheckInterval <= 0 {
		out.MinCheckInterval = time.Minute
	}
	if out.FirstRunLookback <= 0 {
		out.FirstRunLookback = time.Hour
	}
	if out.CheckTimeout <= 0 {
		out.CheckTimeout = 2 * time.Minute
	}
	if out.LockTTL <= 0 {
		out.LockTTL = 5 * time.Minute
	}
	if out.MaxConsecutiveFailures < 1 {
		out.MaxConsecutiveFailures = 3
	}
	if out.TransientBackoff <= 0 {
		out.TransientBackoff = 30 * time.Second
	}
	if out.RateLimitBackoff <= 0 {
		out.RateLimitBackoff = 5 * time.Minute
	}
	return out
}

// Scheduler runs rule checks on demand via RunTick.
type Scheduler struct {
	store    storage.Storage
	fetcher  Fetcher
	gate     Gate
	queue    Enqueuer
	alerter  Alerter
	log      *slog.Logger
	opts     Options
	failures *failureTracker
}

// New creates a Scheduler.
func New(store storage.Storage, fetcher Fetcher, gate Gate, queue Enqueuer, log *slog.Logger, opts Options) *Scheduler {
	return &Scheduler{
		store:    store,
		fetcher:  fetcher,
		gate:     gate,
		queue:    queue,
		log:      log,
		opts:     opts.withDefaults(),
		failures: newFailureTracker(),
	}
}

// SetAlerter wires an optional owner-notice channel (low credit).
func (s *Scheduler) SetAlerter(a Alerter) {
	s.alerter = a
}

// RunTick selects all due rules and checks them with bounded parallelism.
// Rules whose in-flight marker is still held by a previous check, or that
// sit inside a failure cooldown, are skipped until a later tick. Returns
// once every check launched by this tick has finished.
func (s *Scheduler) RunTick(ctx context.Context, now time.Time) {
	rules, err := s.store.ListDueRules(ctx, now)
	if err != nil {
		s.log.Error("list due rules", "error", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	started := 0
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		if !s.failures.Eligible(rule.ID, now) {
			continue
		}
		// Rules may carry intervals below the configured floor; the floor
		// wins regardless of what the rule says.
		if rule.LastCheckedAt != nil && now.Sub(*rule.LastCheckedAt) < s.opts.MinCheckInterval {
			continue
		}
		rule := rule
		started++
		g.Go(func() error {
			s.checkRule(ctx, &rule, now)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Debug("tick complete", "due", len(rules), "checked", started)
}

// checkRule runs the full per-rule procedure. Any failure before success
// leaves last_checked_at untouched and the reservation refunded; any
// failure after success (notification) never rolls progress back.
func (s *Scheduler) checkRule(ctx context.Context, rule *model.Rule, now time.Time) {
	holder := uuid.NewString()
	acquired, err := s.store.AcquireRuleLock(ctx, rule.ID, holder, now, s.opts.LockTTL)
	if err != nil {
		s.log.Error("acquire rule lock", "rule_id", rule.ID, "error", err)
		return
	}
	if !acquired {
		s.log.Debug("rule check still in flight, skipping", "rule_id", rule.ID)
		return
	}
	defer func() {
		if err := s.store.ReleaseRuleLock(context.WithoutCancel(ctx), rule.ID, holder); err != nil {
			s.log.Error("release rule lock", "rule_id", rule.ID, "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.CheckTimeout)
	defer cancel()

	reservation, err := s.gate.Reserve(ctx, rule.UserID, rule.CreditsPerCheck)
	if errors.Is(err, credit.ErrInsufficient) {
		s.log.Info("deactivating rule", "rule_id", rule.ID, "reason", ReasonInsufficientCredit)
		if err := s.store.DeactivateRule(ctx, rule.ID, ReasonInsufficientCredit); err != nil {
			s.log.Error("deactivate rule", "rule_id", rule.ID, "error", err)
		}
		s.failures.Reset(rule.ID)
		if s.alerter != nil {
			balance, _ := s.gate.Balance(ctx, rule.UserID)
			s.alerter.NotifyLowCredit(ctx, rule.UserID, rule.Name, balance)
		}
		return
	}
	if err != nil {
		s.log.Error("reserve credits", "rule_id", rule.ID, "error", err)
		s.failures.Failure(rule.ID, now, s.opts.TransientBackoff)
		return
	}

	since := now.Add(-s.opts.FirstRunLookback)
	if rule.LastCheckedAt != nil {
		since = *rule.LastCheckedAt
	}

	tweets, err := s.fetcher.Fetch(ctx, rule, since)
	if err != nil {
		// The fetch may have died with the check deadline itself; the
		// refund and any deactivation must still reach the store.
		wctx := context.WithoutCancel(ctx)
		if rerr := s.gate.Refund(wctx, reservation); rerr != nil {
			s.log.Error("refund reservation", "rule_id", rule.ID, "error", rerr)
		}
		s.handleFetchFailure(wctx, rule, now, err)
		return
	}

	matched := filter.Apply(tweets, rule)
	created := s.recordHits(ctx, rule, matched, now)

	if err := s.store.SetLastChecked(ctx, rule.ID, now); err != nil {
		s.log.Error("set last checked", "rule_id", rule.ID, "error", err)
	}
	s.failures.Reset(rule.ID)

	for _, hit := range created {
		s.queue.Enqueue(hit)
	}

	if len(created) > 0 {
		s.log.Info("rule check found new items",
			"rule_id", rule.ID, "matched", len(matched), "new", len(created))
	}
}

// handleFetchFailure converts an adapter error into a rule-state
// transition; nothing propagates past the scheduler.
func (s *Scheduler) handleFetchFailure(ctx context.Context, rule *model.Rule, now time.Time, err error) {
	kind := search.KindOf(err)
	s.log.Warn("fetch failed", "rule_id", rule.ID, "kind", kind.String(), "error", err)

	if kind == search.KindPermanent {
		if derr := s.store.DeactivateRule(ctx, rule.ID, ReasonQueryRejected); derr != nil {
			s.log.Error("deactivate rule", "rule_id", rule.ID, "error", derr)
		}
		s.failures.Reset(rule.ID)
		if s.alerter != nil {
			s.alerter.NotifyRulePaused(ctx, rule.UserID, rule.Name, ReasonQueryRejected)
		}
		return
	}

	backoff := s.opts.TransientBackoff
	if kind == search.KindRateLimited {
		backoff = s.opts.RateLimitBackoff
	}

	count := s.failures.Failure(rule.ID, now, backoff)
	if count >= s.opts.MaxConsecutiveFailures {
		s.log.Info("deactivating rule", "rule_id", rule.ID, "reason", ReasonRepeatedFailures, "failures", count)
		if derr := s.store.DeactivateRule(ctx, rule.ID, ReasonRepeatedFailures); derr != nil {
			s.log.Error("deactivate rule", "rule_id", rule.ID, "error", derr)
		}
		s.failures.Reset(rule.ID)
		if s.alerter != nil {
			s.alerter.NotifyRulePaused(ctx, rule.UserID, rule.Name, ReasonRepeatedFailures)
		}
	}
}

// recordHits persists one pending hit per tweet not seen before. The
// store's uniqueness constraint settles races with other rules matching
// the same tweet: the loser's insert is a silent no-op.
func (s *Scheduler) recordHits(ctx context.Context, rule *model.Rule, tweets []model.Tweet, now time.Time) []*model.Hit {
	if len(tweets) == 0 {
		return nil
	}

	ids := make([]string, len(tweets))
	for i, t := range tweets {
		ids[i] = t.ID
	}
	freshIDs, err := s.store.FilterNewTweetIDs(ctx, ids)
	if err != nil {
		s.log.Error("filter new tweets", "rule_id", rule.ID, "error", err)
		return nil
	}
	fresh := make(map[string]bool, len(freshIDs))
	for _, id := range freshIDs {
		fresh[id] = true
	}

	var created []*model.Hit
	for _, t := range tweets {
		if !fresh[t.ID] {
			continue
		}
		hit := buildHit(rule, t, now)
		ok, err := s.store.CreateHit(ctx, hit)
		if err != nil {
			s.log.Error("create hit", "rule_id", rule.ID, "tweet_id", t.ID, "error", err)
			continue
		}
		if !ok {
			// Another rule recorded this tweet between filter and insert.
			continue
		}
		created = append(created, hit)
	}
	return created
}

func buildHit(rule *model.Rule, t model.Tweet, now time.Time) *model.Hit {
	hit := &model.Hit{
		ID:                 uuid.NewString(),
		RuleID:             rule.ID,
		UserID:             rule.UserID,
		TweetID:            t.ID,
		Text:               t.Text,
		Author:             t.Author,
		AuthorID:           t.AuthorID,
		URL:                t.URL,
		LikeCount:          t.LikeCount,
		RetweetCount:       t.RetweetCount,
		ReplyCount:         t.ReplyCount,
		MatchedKeyword:     filter.MatchedFragment(rule, t),
		MatchedAt:          now,
		NotificationStatus: model.NotificationPending,
	}
	if !t.CreatedAt.IsZero() {
		ts := t.CreatedAt
		hit.TweetCreatedAt = &ts
	}
	return hit
}
