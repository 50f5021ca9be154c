package chat

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/pkg/models"
)

const (
	// TransportTelegram prefixes Telegram chat ids.
	TransportTelegram = "telegram"

	telegramMessageLimit = 4096
)

type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramBot relays Telegram messages to the dispatcher and delivers
// reminders to Telegram chats.
type TelegramBot struct {
	bot        *bot.Bot
	sender     telegramSender
	allowed    map[int64]bool
	dispatcher *Dispatcher
	logger     *logging.Logger
}

// NewTelegramBot creates a bot for token. When allowedIDs is non-empty only
// those users or chats are served.
func NewTelegramBot(token string, allowedIDs []int64, d *Dispatcher, logger *logging.Logger) (*TelegramBot, error) {
	b := &TelegramBot{
		allowed:    make(map[int64]bool, len(allowedIDs)),
		dispatcher: d,
		logger:     logger.Component("telegram"),
	}
	for _, id := range allowedIDs {
		b.allowed[id] = true
	}

	tgBot, err := bot.New(token,
		bot.WithDefaultHandler(b.handleUpdate),
		bot.WithErrorsHandler(func(err error) {
			b.logger.Error("Telegram polling error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b.bot = tgBot
	b.sender = tgBot
	return b, nil
}

// Run long-polls for updates until ctx is done.
func (b *TelegramBot) Run(ctx context.Context) error {
	b.logger.Info("Starting Telegram bot")
	b.bot.Start(ctx)
	return nil
}

func (b *TelegramBot) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	msg, ok := b.telegramMessage(update)
	if !ok {
		return
	}
	reply := b.dispatcher.Handle(ctx, msg)
	if reply == "" {
		return
	}
	if err := b.send(ctx, update.Message.Chat.ID, reply); err != nil {
		b.logger.Error("failed to send reply", "chat", update.Message.Chat.ID, "error", err)
	}
}

// telegramMessage converts text messages from allowed users or chats.
func (b *TelegramBot) telegramMessage(update *tgmodels.Update) (models.Message, bool) {
	if update == nil || update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return models.Message{}, false
	}
	m := update.Message
	if len(b.allowed) > 0 && !b.allowed[m.From.ID] && !b.allowed[m.Chat.ID] {
		b.logger.Warn("ignoring message from unlisted user", "user", m.From.ID, "chat", m.Chat.ID)
		return models.Message{}, false
	}
	return models.Message{
		Content:   m.Text,
		UserID:    strconv.FormatInt(m.From.ID, 10),
		ChannelID: ChannelID(TransportTelegram, strconv.FormatInt(m.Chat.ID, 10)),
		MessageID: strconv.Itoa(m.ID),
	}, true
}

func (b *TelegramBot) send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range Split(text, telegramMessageLimit) {
		if _, err := b.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// Notify delivers r to its Telegram chat.
func (b *TelegramBot) Notify(ctx context.Context, r *models.Reminder) error {
	transport, id, err := SplitChannelID(r.ChannelID)
	if err != nil {
		return err
	}
	if transport != TransportTelegram {
		return fmt.Errorf("reminder %s is not for Telegram", r.ID)
	}
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Telegram chat id %q: %w", id, err)
	}
	return b.send(ctx, chatID, ReminderText(r))
}
