package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pulsefeed/internal/model"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	errs []error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

type fakeStore struct {
	binding *model.Binding

	status model.NotificationStatus
	errMsg string
}

func (f *fakeStore) GetBindingByUser(ctx context.Context, userID string) (*model.Binding, error) {
	return f.binding, nil
}

func (f *fakeStore) SetHitNotification(ctx context.Context, hitID string, status model.NotificationStatus, errMsg string, at time.Time) error {
	f.status = status
	f.errMsg = errMsg
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeBinding() *model.Binding {
	return &model.Binding{
		ID:                   "b1",
		UserID:               "u1",
		ChatID:               42,
		IsVerified:           true,
		NotificationsEnabled: true,
	}
}

func testHit() *model.Hit {
	return &model.Hit{
		ID:                 "h1",
		RuleID:             "r1",
		UserID:             "u1",
		TweetID:            "t1",
		Text:               "hello",
		Author:             "someone",
		URL:                "https://twitter.com/someone/status/t1",
		NotificationStatus: model.NotificationPending,
	}
}

func TestDispatchSends(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{binding: activeBinding()}
	n := New(sender, store, testLogger())

	hit := testHit()
	n.Dispatch(context.Background(), hit)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("expected MessageConfig, got %T", sender.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("ChatID = %d, want 42", msg.ChatID)
	}
	if msg.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("ParseMode = %q, want MarkdownV2", msg.ParseMode)
	}
	if msg.ReplyMarkup == nil {
		t.Errorf("expected inline keyboard with tweet link")
	}
	if store.status != model.NotificationSent {
		t.Errorf("status = %q, want sent", store.status)
	}
	if hit.NotificationStatus != model.NotificationSent {
		t.Errorf("hit status = %q, want sent", hit.NotificationStatus)
	}
}

func TestDispatchNoBinding(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{binding: nil}
	n := New(sender, store, testLogger())

	n.Dispatch(context.Background(), testHit())

	if len(sender.sent) != 0 {
		t.Fatalf("expected no send attempts, got %d", len(sender.sent))
	}
	if store.status != model.NotificationFailed || store.errMsg != noDestination {
		t.Errorf("outcome = (%q, %q), want (failed, %q)", store.status, store.errMsg, noDestination)
	}
}

func TestDispatchMutedBinding(t *testing.T) {
	until := time.Now().UTC().Add(time.Hour)
	binding := activeBinding()
	binding.MuteUntil = &until

	sender := &fakeSender{}
	store := &fakeStore{binding: binding}
	n := New(sender, store, testLogger())

	n.Dispatch(context.Background(), testHit())

	if len(sender.sent) != 0 {
		t.Fatalf("muted binding must not be sent to, got %d sends", len(sender.sent))
	}
	if store.errMsg != noDestination {
		t.Errorf("errMsg = %q, want %q", store.errMsg, noDestination)
	}
}

func TestDispatchRetriesTransient(t *testing.T) {
	sender := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: 500, Message: "internal server error"},
		&tgbotapi.Error{Code: 429, Message: "too many requests"},
	}}
	store := &fakeStore{binding: activeBinding()}
	n := New(sender, store, testLogger())
	n.SetBaseDelay(time.Millisecond)

	n.Dispatch(context.Background(), testHit())

	if len(sender.sent) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(sender.sent))
	}
	if store.status != model.NotificationSent {
		t.Errorf("status = %q, want sent after retries", store.status)
	}
}

func TestDispatchPermanentErrorNoRetry(t *testing.T) {
	sender := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"},
	}}
	store := &fakeStore{binding: activeBinding()}
	n := New(sender, store, testLogger())
	n.SetBaseDelay(time.Millisecond)

	n.Dispatch(context.Background(), testHit())

	if len(sender.sent) != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", len(sender.sent))
	}
	if store.status != model.NotificationFailed {
		t.Errorf("status = %q, want failed", store.status)
	}
	if !strings.Contains(store.errMsg, "blocked") {
		t.Errorf("errMsg = %q, want the upstream message", store.errMsg)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	sender := &fakeSender{errs: []error{
		errors.New("dial tcp: connection refused"),
		errors.New("dial tcp: connection refused"),
		errors.New("dial tcp: connection refused"),
	}}
	store := &fakeStore{binding: activeBinding()}
	n := New(sender, store, testLogger())
	n.SetBaseDelay(time.Millisecond)

	n.Dispatch(context.Background(), testHit())

	if len(sender.sent) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(sender.sent))
	}
	if store.status != model.NotificationFailed {
		t.Errorf("status = %q, want failed after exhausting retries", store.status)
	}
}

func TestNotifyLowCredit(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{binding: activeBinding()}
	n := New(sender, store, testLogger())

	n.NotifyLowCredit(context.Background(), "u1", "AI news", 0)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
}

func TestNotifyRulePaused(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{binding: activeBinding()}
	n := New(sender, store, testLogger())

	n.NotifyRulePaused(context.Background(), "u1", "AI news", "upstream rejected query")

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
}

func TestNotifyRulePausedNoBinding(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{}
	n := New(sender, store, testLogger())

	n.NotifyRulePaused(context.Background(), "u1", "AI news", "repeated upstream failures")

	if len(sender.sent) != 0 {
		t.Fatalf("expected no sends without a deliverable binding, got %d", len(sender.sent))
	}
}

func TestNotifyLowCreditNoBinding(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{}
	n := New(sender, store, testLogger())

	n.NotifyLowCredit(context.Background(), "u1", "AI news", 0)

	if len(sender.sent) != 0 {
		t.Fatalf("expected no sends without a deliverable binding, got %d", len(sender.sent))
	}
}
