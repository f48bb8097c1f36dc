package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"pulsefeed/internal/model"
	"pulsefeed/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent rule checks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateRule inserts a new rule and populates its CreatedAt.
func (s *SQLite) CreateRule(ctx context.Context, rule *model.Rule) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, user_id, kind, query, name, is_active, check_interval,
		                    credits_per_check, min_followers, include_replies, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, string(rule.Kind), rule.Query, rule.Name,
		boolToInt(rule.IsActive), rule.CheckInterval, rule.CreditsPerCheck,
		rule.MinFollowers, boolToInt(rule.IncludeReplies), now,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	rule.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetRule returns a single rule by its ID.
func (s *SQLite) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	row := s.db.QueryRowContext(ctx, ruleSelect+` WHERE id = ?`, id)
	return scanRule(row)
}

// ListRules returns all rules belonging to the given user.
func (s *SQLite) ListRules(ctx context.Context, userID string) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, ruleSelect+` WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRules(rows)
}

// ListDueRules returns all active rules whose check interval has elapsed
// (or that have never been checked) as of now.
func (s *SQLite) ListDueRules(ctx context.Context, now time.Time) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		ruleSelect+`
		 WHERE is_active = 1
		   AND (last_checked_at IS NULL
		        OR datetime(last_checked_at, '+' || check_interval || ' seconds') <= datetime(?))`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due rules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRules(rows)
}

// UpdateRule persists changes to an existing rule.
func (s *SQLite) UpdateRule(ctx context.Context, rule *model.Rule) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules
		 SET query = ?, name = ?, is_active = ?, check_interval = ?, last_checked_at = ?,
		     credits_per_check = ?, min_followers = ?, include_replies = ?, deactivated_reason = ?
		 WHERE id = ?`,
		rule.Query, rule.Name, boolToInt(rule.IsActive), rule.CheckInterval,
		timePtrString(rule.LastCheckedAt), rule.CreditsPerCheck, rule.MinFollowers,
		boolToInt(rule.IncludeReplies), rule.DeactivatedReason, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

// DeactivateRule flips a rule inactive and records why. Reactivation is an
// owner action via UpdateRule.
func (s *SQLite) DeactivateRule(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET is_active = 0, deactivated_reason = ? WHERE id = ?`, reason, id,
	)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	return nil
}

// SetLastChecked advances a rule's last-checked timestamp.
func (s *SQLite) SetLastChecked(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET last_checked_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("set last checked: %w", err)
	}
	return nil
}

// DeleteRule removes a rule together with its hits and any stale lock.
func (s *SQLite) DeleteRule(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hits WHERE rule_id = ?`, id); err != nil {
		return fmt.Errorf("delete hits: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_locks WHERE rule_id = ?`, id); err != nil {
		return fmt.Errorf("delete rule lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return tx.Commit()
}

// FilterNewTweetIDs returns the subset of ids with no recorded hit.
func (s *SQLite) FilterNewTweetIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM hits WHERE tweet_id = ?`, id,
		)
		var count int
		if err := row.Scan(&count); err != nil {
			return nil, fmt.Errorf("check tweet %s: %w", id, err)
		}
		seen[id] = count > 0
	}

	var fresh []string
	for _, id := range ids {
		if !seen[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// CreateHit inserts a hit. The unique index on tweet_id makes the insert a
// no-op when another rule recorded the tweet first; that case returns
// (false, nil) rather than an error.
func (s *SQLite) CreateHit(ctx context.Context, hit *model.Hit) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO hits
		     (id, rule_id, user_id, tweet_id, tweet_text, tweet_author, tweet_author_id,
		      tweet_url, tweet_created_at, like_count, retweet_count, reply_count,
		      matched_keyword, matched_at, notification_status, notification_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hit.ID, hit.RuleID, hit.UserID, hit.TweetID, hit.Text, hit.Author, hit.AuthorID,
		hit.URL, timePtrString(hit.TweetCreatedAt), hit.LikeCount, hit.RetweetCount,
		hit.ReplyCount, hit.MatchedKeyword, hit.MatchedAt.UTC().Format(timeLayout),
		string(hit.NotificationStatus), hit.NotificationError,
	)
	if err != nil {
		return false, fmt.Errorf("insert hit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListHits returns a rule's hits newest first.
func (s *SQLite) ListHits(ctx context.Context, ruleID string, limit int) ([]model.Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		hitSelect+` WHERE rule_id = ? ORDER BY matched_at DESC LIMIT ?`, ruleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query hits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []model.Hit
	for rows.Next() {
		h, err := scanHit(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, *h)
	}
	return hits, rows.Err()
}

// SetHitNotification records the outcome of a notification attempt.
func (s *SQLite) SetHitNotification(ctx context.Context, hitID string, status model.NotificationStatus, errMsg string, at time.Time) error {
	var notifiedAt *string
	if status == model.NotificationSent {
		v := at.UTC().Format(timeLayout)
		notifiedAt = &v
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE hits SET notification_status = ?, notification_error = ?, notified_at = ? WHERE id = ?`,
		string(status), errMsg, notifiedAt, hitID,
	)
	if err != nil {
		return fmt.Errorf("set hit notification: %w", err)
	}
	return nil
}

// CountPendingHits returns how many of a user's hits still await dispatch.
func (s *SQLite) CountPendingHits(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hits WHERE user_id = ? AND notification_status = 'pending'`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending hits: %w", err)
	}
	return count, nil
}

// CreateBinding inserts a new (typically unverified) binding.
func (s *SQLite) CreateBinding(ctx context.Context, b *model.Binding) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings (id, user_id, chat_id, username, first_name, is_verified,
		                       verification_token, token_expires_at, mute_until,
		                       notifications_enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.ChatID, b.Username, b.FirstName, boolToInt(b.IsVerified),
		b.VerificationToken, timePtrString(b.TokenExpiresAt), timePtrString(b.MuteUntil),
		boolToInt(b.NotificationsEnabled), now,
	)
	if err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	b.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetBindingByUser returns the user's binding, or (nil, nil) if none exists.
func (s *SQLite) GetBindingByUser(ctx context.Context, userID string) (*model.Binding, error) {
	row := s.db.QueryRowContext(ctx, bindingSelect+` WHERE user_id = ?`, userID)
	b, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// GetBindingByChat returns the binding for a chat, or (nil, nil) if none exists.
func (s *SQLite) GetBindingByChat(ctx context.Context, chatID int64) (*model.Binding, error) {
	row := s.db.QueryRowContext(ctx, bindingSelect+` WHERE chat_id = ?`, chatID)
	b, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// FindBindingByToken locates an unverified binding by a still-valid
// verification token, or (nil, nil) when the token is unknown or expired.
func (s *SQLite) FindBindingByToken(ctx context.Context, token string, now time.Time) (*model.Binding, error) {
	row := s.db.QueryRowContext(ctx,
		bindingSelect+`
		 WHERE verification_token = ? AND is_verified = 0
		   AND token_expires_at IS NOT NULL AND datetime(token_expires_at) > datetime(?)`,
		token, now.UTC().Format(timeLayout),
	)
	b, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// UpdateBinding persists changes to an existing binding.
func (s *SQLite) UpdateBinding(ctx context.Context, b *model.Binding) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bindings
		 SET chat_id = ?, username = ?, first_name = ?, is_verified = ?,
		     verification_token = ?, token_expires_at = ?, mute_until = ?, notifications_enabled = ?
		 WHERE id = ?`,
		b.ChatID, b.Username, b.FirstName, boolToInt(b.IsVerified),
		b.VerificationToken, timePtrString(b.TokenExpiresAt), timePtrString(b.MuteUntil),
		boolToInt(b.NotificationsEnabled), b.ID,
	)
	if err != nil {
		return fmt.Errorf("update binding: %w", err)
	}
	return nil
}

// DeleteBinding removes a binding by its ID.
func (s *SQLite) DeleteBinding(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

// Balance returns the running sum of a user's ledger deltas.
func (s *SQLite) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id = ?`, userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// AddLedgerEntry appends an arbitrary ledger entry (grants, adjustments).
func (s *SQLite) AddLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	now := time.Now().UTC().Format(timeLayout)
	var refID *string
	if e.RefID != "" {
		refID = &e.RefID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, reason, ref_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Delta, e.Reason, refID, now,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ReserveCredits debits cost from the user in a single statement: the
// balance check and the insert execute atomically under SQLite's writer
// lock, so concurrent reservations cannot overspend.
func (s *SQLite) ReserveCredits(ctx context.Context, userID string, cost int64, reservationID string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, reason, ref_id, created_at)
		 SELECT ?, ?, ?, ?, NULL, ?
		 WHERE (SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id = ?) >= ?`,
		reservationID, userID, -cost, model.ReasonRuleCheck, now, userID, cost,
	)
	if err != nil {
		return fmt.Errorf("reserve credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrInsufficientCredit
	}
	return nil
}

// RefundReservation appends the compensating entry for a reservation. The
// unique index on ref_id makes a second call for the same reservation a
// no-op.
func (s *SQLite) RefundReservation(ctx context.Context, userID string, cost int64, reservationID string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO credit_ledger (id, user_id, delta, reason, ref_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"refund-"+reservationID, userID, cost, model.ReasonCheckRefund, reservationID, now,
	)
	if err != nil {
		return fmt.Errorf("refund reservation: %w", err)
	}
	return nil
}

// AcquireRuleLock claims the per-rule in-flight marker. Locks older than
// ttl are treated as abandoned by a crashed holder and evicted first.
func (s *SQLite) AcquireRuleLock(ctx context.Context, ruleID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	cutoff := now.Add(-ttl).UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_locks WHERE rule_id = ? AND datetime(acquired_at) < datetime(?)`,
		ruleID, cutoff,
	); err != nil {
		return false, fmt.Errorf("evict stale lock: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rule_locks (rule_id, holder, acquired_at) VALUES (?, ?, ?)`,
		ruleID, holder, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("acquire rule lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseRuleLock drops the marker if this holder still owns it.
func (s *SQLite) ReleaseRuleLock(ctx context.Context, ruleID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_locks WHERE rule_id = ? AND holder = ?`, ruleID, holder,
	)
	if err != nil {
		return fmt.Errorf("release rule lock: %w", err)
	}
	return nil
}

const ruleSelect = `SELECT id, user_id, kind, query, name, is_active, check_interval,
       last_checked_at, credits_per_check, min_followers, include_replies,
       deactivated_reason, created_at
  FROM rules`

const hitSelect = `SELECT id, rule_id, user_id, tweet_id, tweet_text, tweet_author, tweet_author_id,
       tweet_url, tweet_created_at, like_count, retweet_count, reply_count,
       matched_keyword, matched_at, notification_status, notification_error, notified_at
  FROM hits`

const bindingSelect = `SELECT id, user_id, chat_id, username, first_name, is_verified,
       verification_token, token_expires_at, mute_until, notifications_enabled, created_at
  FROM bindings`

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRule(row scannable) (*model.Rule, error) {
	var r model.Rule
	var kind string
	var isActive, includeReplies int
	var lastChecked, created sql.NullString
	err := row.Scan(&r.ID, &r.UserID, &kind, &r.Query, &r.Name, &isActive, &r.CheckInterval,
		&lastChecked, &r.CreditsPerCheck, &r.MinFollowers, &includeReplies,
		&r.DeactivatedReason, &created)
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	r.Kind = model.RuleKind(kind)
	r.IsActive = isActive == 1
	r.IncludeReplies = includeReplies == 1
	r.LastCheckedAt = parseTimePtr(lastChecked)
	if created.Valid {
		r.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]model.Rule, error) {
	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanHit(row scannable) (*model.Hit, error) {
	var h model.Hit
	var status string
	var tweetCreated, matched, notified sql.NullString
	err := row.Scan(&h.ID, &h.RuleID, &h.UserID, &h.TweetID, &h.Text, &h.Author, &h.AuthorID,
		&h.URL, &tweetCreated, &h.LikeCount, &h.RetweetCount, &h.ReplyCount,
		&h.MatchedKeyword, &matched, &status, &h.NotificationError, &notified)
	if err != nil {
		return nil, fmt.Errorf("scan hit: %w", err)
	}
	h.NotificationStatus = model.NotificationStatus(status)
	h.TweetCreatedAt = parseTimePtr(tweetCreated)
	h.NotifiedAt = parseTimePtr(notified)
	if matched.Valid {
		h.MatchedAt, _ = time.Parse(timeLayout, matched.String)
	}
	return &h, nil
}

func scanBinding(row scannable) (*model.Binding, error) {
	var b model.Binding
	var isVerified, enabled int
	var tokenExpires, muteUntil, created sql.NullString
	err := row.Scan(&b.ID, &b.UserID, &b.ChatID, &b.Username, &b.FirstName, &isVerified,
		&b.VerificationToken, &tokenExpires, &muteUntil, &enabled, &created)
	if err != nil {
		return nil, err
	}
	b.IsVerified = isVerified == 1
	b.NotificationsEnabled = enabled == 1
	b.TokenExpiresAt = parseTimePtr(tokenExpires)
	b.MuteUntil = parseTimePtr(muteUntil)
	if created.Valid {
		b.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &b, nil
}
