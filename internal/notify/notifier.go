// Package notify resolves hit owners to their Telegram bindings and
// delivers notification messages, with transient-failure retry.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"pulsefeed/internal/model"
)

// noDestination marks a hit whose owner has no usable binding. Not a
// transport failure: never retried.
const noDestination = "no active destination"

// Sender is the interface for sending Telegram messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Store is the slice of storage the notifier needs.
type Store interface {
	GetBindingByUser(ctx context.Context, userID string) (*model.Binding, error)
	SetHitNotification(ctx context.Context, hitID string, status model.NotificationStatus, errMsg string, at time.Time) error
}

// Notifier delivers hit notifications to bound Telegram chats.
type Notifier struct {
	api         Sender
	store       Store
	log         *slog.Logger
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
}

// New creates a Notifier. Sends are rate limited to stay under Telegram's
// per-bot ceiling and retried up to three attempts on transient failures.
func New(api Sender, store Store, log *slog.Logger) *Notifier {
	return &Notifier{
		api:         api,
		store:       store,
		log:         log,
		limiter:     rate.NewLimiter(rate.Limit(20), 5),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

// SetBaseDelay overrides the initial retry backoff (useful for testing).
func (n *Notifier) SetBaseDelay(d time.Duration) {
	n.baseDelay = d
}

// Dispatch resolves the hit's owner to a binding and sends the
// notification, recording the outcome on the hit. A missing, unverified,
// disabled, or muted binding marks the hit failed immediately with no
// transmission attempt. Callers must not dispatch the same hit twice
// without checking its status first.
func (n *Notifier) Dispatch(ctx context.Context, hit *model.Hit) {
	now := time.Now().UTC()

	binding, err := n.store.GetBindingByUser(ctx, hit.UserID)
	if err != nil {
		n.log.Error("resolve binding", "hit_id", hit.ID, "user_id", hit.UserID, "error", err)
		n.recordOutcome(ctx, hit, model.NotificationFailed, "binding lookup failed")
		return
	}
	if !binding.Deliverable(now) {
		n.recordOutcome(ctx, hit, model.NotificationFailed, noDestination)
		return
	}

	msg := tgbotapi.NewMessage(binding.ChatID, FormatHit(hit))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	if hit.URL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("View tweet", hit.URL),
			),
		)
	}

	if err := n.sendWithRetry(ctx, msg); err != nil {
		n.log.Warn("notification failed", "hit_id", hit.ID, "chat_id", binding.ChatID, "error", err)
		n.recordOutcome(ctx, hit, model.NotificationFailed, err.Error())
		return
	}

	n.recordOutcome(ctx, hit, model.NotificationSent, "")
}

// NotifyLowCredit sends a best-effort notice that monitoring was paused
// for lack of credits. Failures are logged and dropped.
func (n *Notifier) NotifyLowCredit(ctx context.Context, userID, ruleName string, balance int64) {
	n.sendNotice(ctx, userID, FormatLowCredit(ruleName, balance), "low credit notice")
}

// NotifyRulePaused sends a best-effort notice that a rule was deactivated
// for the given reason. Failures are logged and dropped.
func (n *Notifier) NotifyRulePaused(ctx context.Context, userID, ruleName, reason string) {
	n.sendNotice(ctx, userID, FormatRulePaused(ruleName, reason), "rule paused notice")
}

func (n *Notifier) sendNotice(ctx context.Context, userID, text, what string) {
	binding, err := n.store.GetBindingByUser(ctx, userID)
	if err != nil || !binding.Deliverable(time.Now().UTC()) {
		return
	}
	msg := tgbotapi.NewMessage(binding.ChatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if err := n.sendWithRetry(ctx, msg); err != nil {
		n.log.Warn(what+" failed", "user_id", userID, "error", err)
	}
}

func (n *Notifier) sendWithRetry(ctx context.Context, msg tgbotapi.MessageConfig) error {
	backoff := retry.WithMaxRetries(uint64(n.maxAttempts-1), retry.NewExponential(n.baseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := n.api.Send(msg)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether a Telegram send failure is worth retrying:
// rate limiting, server errors, and network-level failures.
func isTransient(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == 429 || tgErr.Code >= 500
	}
	// Non-API errors are network-level; assume transient.
	return true
}

func (n *Notifier) recordOutcome(ctx context.Context, hit *model.Hit, status model.NotificationStatus, errMsg string) {
	hit.NotificationStatus = status
	hit.NotificationError = errMsg
	if err := n.store.SetHitNotification(ctx, hit.ID, status, errMsg, time.Now().UTC()); err != nil {
		n.log.Error("record notification outcome", "hit_id", hit.ID, "error", err)
	}
}
