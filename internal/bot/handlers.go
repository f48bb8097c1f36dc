package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pulsefeed/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to PulseFeed!

I deliver alerts when your monitor rules match new tweets.

To connect this chat:
1. Generate a verification code on the website
2. Send me the 6-digit code (or /start <code>)

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Binding:
/start <code> — link this chat with a verification code
/status — binding, credit balance, pending alerts
/unbind — disconnect this chat

Notifications:
/mute <duration> — pause alerts (e.g. /mute 2h, /mute 30m)
/unmute — resume alerts`)
}

func (b *Bot) handleVerify(ctx context.Context, msg *tgbotapi.Message, code string) {
	chatID := msg.Chat.ID

	binding, err := b.store.FindBindingByToken(ctx, code, time.Now().UTC())
	if err != nil {
		b.log.Error("find binding by token", "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}
	if binding == nil {
		b.reply(chatID, "Invalid or expired code. Generate a new one on the website.")
		return
	}

	existing, err := b.store.GetBindingByChat(ctx, chatID)
	if err != nil {
		b.log.Error("get binding by chat", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}
	if existing != nil && existing.ID != binding.ID {
		b.reply(chatID, "This chat is already linked to another account. Use /unbind first.")
		return
	}

	binding.ChatID = chatID
	binding.IsVerified = true
	binding.VerificationToken = ""
	binding.TokenExpiresAt = nil
	if msg.From != nil {
		binding.Username = msg.From.UserName
		binding.FirstName = msg.From.FirstName
	}
	if err := b.store.UpdateBinding(ctx, binding); err != nil {
		b.log.Error("update binding", "binding_id", binding.ID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	b.log.Info("binding verified", "binding_id", binding.ID, "chat_id", chatID)
	b.reply(chatID, `Linked successfully!

You will now receive alerts here when your rules match new tweets.
Manage your rules on the website.`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	binding, err := b.store.GetBindingByChat(ctx, chatID)
	if err != nil {
		b.log.Error("get binding by chat", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}
	if binding == nil || !binding.IsVerified {
		b.reply(chatID, "This chat is not linked yet. Send your verification code to connect.")
		return
	}

	balance, err := b.gate.Balance(ctx, binding.UserID)
	if err != nil {
		b.log.Error("query balance", "user_id", binding.UserID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	rules, err := b.store.ListRules(ctx, binding.UserID)
	if err != nil {
		b.log.Error("list rules", "user_id", binding.UserID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	pending, err := b.store.CountPendingHits(ctx, binding.UserID)
	if err != nil {
		b.log.Error("count pending hits", "user_id", binding.UserID, "error", err)
		pending = 0
	}

	b.reply(chatID, FormatStatus(binding, balance, rules, pending))
}

func (b *Bot) handleMute(ctx context.Context, chatID int64, args string) {
	d, err := ParseMuteDuration(args)
	if err != nil {
		b.reply(chatID, "Usage: /mute <duration> (e.g. /mute 2h, /mute 30m, max 7d)")
		return
	}

	binding, err := b.store.GetBindingByChat(ctx, chatID)
	if err != nil || binding == nil || !binding.IsVerified {
		b.reply(chatID, "This chat is not linked yet.")
		return
	}

	until := time.Now().UTC().Add(d)
	binding.MuteUntil = &until
	if err := b.store.UpdateBinding(ctx, binding); err != nil {
		b.log.Error("update binding", "binding_id", binding.ID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	b.reply(chatID, fmt.Sprintf("Alerts muted until %s.", until.Format("2006-01-02 15:04 UTC")))
}

func (b *Bot) handleUnmute(ctx context.Context, chatID int64) {
	binding, err := b.store.GetBindingByChat(ctx, chatID)
	if err != nil || binding == nil || !binding.IsVerified {
		b.reply(chatID, "This chat is not linked yet.")
		return
	}

	binding.MuteUntil = nil
	if err := b.store.UpdateBinding(ctx, binding); err != nil {
		b.log.Error("update binding", "binding_id", binding.ID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	b.reply(chatID, "Alerts resumed.")
}

func (b *Bot) handleUnbind(ctx context.Context, chatID int64) {
	binding, err := b.store.GetBindingByChat(ctx, chatID)
	if err != nil {
		b.log.Error("get binding by chat", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}
	if binding == nil {
		b.reply(chatID, "This chat is not linked to any account.")
		return
	}

	if err := b.store.DeleteBinding(ctx, binding.ID); err != nil {
		b.log.Error("delete binding", "binding_id", binding.ID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	b.log.Info("binding removed", "binding_id", binding.ID, "chat_id", chatID)
	b.reply(chatID, "Chat disconnected. You will no longer receive alerts here.")
}

// countActive returns how many of the rules are active.
func countActive(rules []model.Rule) int {
	n := 0
	for _, r := range rules {
		if r.IsActive {
			n++
		}
	}
	return n
}
