package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/pkg/models"
)

const (
	// TransportDiscord prefixes Discord channel ids.
	TransportDiscord = "discord"

	discordMessageLimit = 2000
	turnTimeout         = 2 * time.Minute
)

type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordBot relays Discord messages to the dispatcher and delivers
// reminders to Discord channels.
type DiscordBot struct {
	session    *discordgo.Session
	sender     discordSender
	guildID    string
	dispatcher *Dispatcher
	logger     *logging.Logger
	ctx        context.Context
}

// NewDiscordBot creates a bot for token. A non-empty guildID restricts it to
// one guild.
func NewDiscordBot(token, guildID string, d *Dispatcher, logger *logging.Logger) (*DiscordBot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	b := &DiscordBot{
		session:    session,
		sender:     session,
		guildID:    guildID,
		dispatcher: d,
		logger:     logger.Component("discord"),
		ctx:        context.Background(),
	}
	session.AddHandler(b.handleMessage)
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("Discord bot connected", "user", r.User.Username)
	})
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return b, nil
}

// Run opens the gateway connection and blocks until ctx is done.
func (b *DiscordBot) Run(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	<-ctx.Done()
	b.logger.Info("Stopping Discord bot")
	return b.session.Close()
}

func (b *DiscordBot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	msg, ok := discordMessage(m, selfID, b.guildID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, turnTimeout)
	defer cancel()
	if reply := b.dispatcher.Handle(ctx, msg); reply != "" {
		if err := b.send(m.ChannelID, reply); err != nil {
			b.logger.Error("failed to send reply", "channel", m.ChannelID, "error", err)
		}
	}
}

// discordMessage converts m, dropping the bot's own messages, other bots and
// other guilds.
func discordMessage(m *discordgo.MessageCreate, selfID, guildID string) (models.Message, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return models.Message{}, false
	}
	if m.Author.Bot || m.Author.ID == selfID {
		return models.Message{}, false
	}
	if guildID != "" && m.GuildID != "" && m.GuildID != guildID {
		return models.Message{}, false
	}
	return models.Message{
		Content:   m.Content,
		UserID:    m.Author.ID,
		ChannelID: ChannelID(TransportDiscord, m.ChannelID),
		MessageID: m.ID,
	}, true
}

func (b *DiscordBot) send(channelID, text string) error {
	for _, chunk := range Split(text, discordMessageLimit) {
		if _, err := b.sender.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Notify delivers r to its Discord channel, mentioning the user.
func (b *DiscordBot) Notify(_ context.Context, r *models.Reminder) error {
	transport, id, err := SplitChannelID(r.ChannelID)
	if err != nil {
		return err
	}
	if transport != TransportDiscord {
		return fmt.Errorf("reminder %s is not for Discord", r.ID)
	}
	return b.send(id, fmt.Sprintf("<@%s> %s", r.UserID, ReminderText(r)))
}
