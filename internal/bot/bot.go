// Package bot implements the Telegram command loop that manages chat
// bindings: verification, status, muting, and unbinding.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pulsefeed/internal/credit"
	"pulsefeed/internal/storage"
)

var verificationCodeRe = regexp.MustCompile(`^\d{6}$`)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles user commands arriving over Telegram long polling.
type Bot struct {
	api   telegramAPI
	store storage.Storage
	gate  *credit.Gate
	log   *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, store storage.Storage, gate *credit.Gate, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		gate:  gate,
		log:   log,
	}, nil
}

// API exposes the underlying Telegram sender for the notifier.
func (b *Bot) API() interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
} {
	return b.api
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	// A bare 6-digit message is treated as a verification code.
	if verificationCodeRe.MatchString(text) {
		b.handleVerify(ctx, msg, text)
		return
	}

	if !msg.IsCommand() {
		b.reply(chatID, "Use /help for a list of commands.")
		return
	}

	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID)

	switch cmd {
	case "start":
		if verificationCodeRe.MatchString(args) {
			b.handleVerify(ctx, msg, args)
			return
		}
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "mute":
		b.handleMute(ctx, chatID, args)
	case "unmute":
		b.handleUnmute(ctx, chatID)
	case "unbind":
		b.handleUnbind(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
