package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/pkg/models"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessMessage(ctx context.Context, msg models.Message) *models.WorkflowResult {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.WorkflowResult)
}

type MockReplier struct {
	mock.Mock
}

func (m *MockReplier) Reply(ctx context.Context, key, content string) (string, error) {
	args := m.Called(ctx, key, content)
	return args.String(0), args.Error(1)
}

func TestDispatcher_WorkflowResult(t *testing.T) {
	proc, fallback := new(MockProcessor), new(MockReplier)
	msg := models.Message{Content: "タスク一覧", UserID: "u1", ChannelID: "discord:c1"}
	proc.On("ProcessMessage", mock.Anything, msg).Return(&models.WorkflowResult{Success: true, Message: "No matching items found."})

	d := NewDispatcher(proc, fallback, logging.Nop())
	assert.Equal(t, "No matching items found.", d.Handle(context.Background(), msg))
	fallback.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_FallsBackToConversation(t *testing.T) {
	proc, fallback := new(MockProcessor), new(MockReplier)
	msg := models.Message{Content: "how are you?", UserID: "u1", ChannelID: "telegram:7"}
	proc.On("ProcessMessage", mock.Anything, msg).Return(nil)
	fallback.On("Reply", mock.Anything, "u1:telegram:7", "how are you?").Return("Fine, thanks!", nil).Once()

	d := NewDispatcher(proc, fallback, logging.Nop())
	assert.Equal(t, "Fine, thanks!", d.Handle(context.Background(), msg))

	fallback.On("Reply", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("rate limited"))
	assert.Equal(t, FallbackFailedMessage, d.Handle(context.Background(), msg))
}

func TestDispatcher_SilentWithoutFallback(t *testing.T) {
	proc := new(MockProcessor)
	proc.On("ProcessMessage", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(proc, nil, logging.Nop())
	assert.Equal(t, "", d.Handle(context.Background(), models.Message{Content: "hi"}))
	assert.Equal(t, "", d.Handle(context.Background(), models.Message{Content: "   "}))
	proc.AssertNumberOfCalls(t, "ProcessMessage", 1)
}

func TestSplitChannelID(t *testing.T) {
	transport, id, err := SplitChannelID(ChannelID(TransportDiscord, "123"))
	require.NoError(t, err)
	assert.Equal(t, "discord", transport)
	assert.Equal(t, "123", id)

	_, _, err = SplitChannelID("web")
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, Split("short", 10))
	assert.Equal(t, []string{"aaa\nbbb", "ccc"}, Split("aaa\nbbb\nccc", 8))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, Split("abcdefghij", 4))
	assert.Equal(t, []string{"予定予定", "予定"}, Split("予定予定予定", 4))
}

type fakeDiscord struct {
	sent map[string][]string
	err  error
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.sent == nil {
		f.sent = map[string][]string{}
	}
	f.sent[channelID] = append(f.sent[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func TestDiscordMessage(t *testing.T) {
	create := func(author *discordgo.User, guild string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID: "m1", ChannelID: "c1", GuildID: guild, Content: "予定", Author: author,
		}}
	}

	msg, ok := discordMessage(create(&discordgo.User{ID: "u1"}, "g1"), "self", "g1")
	require.True(t, ok)
	assert.Equal(t, models.Message{Content: "予定", UserID: "u1", ChannelID: "discord:c1", MessageID: "m1"}, msg)

	_, ok = discordMessage(create(&discordgo.User{ID: "self"}, "g1"), "self", "")
	assert.False(t, ok)
	_, ok = discordMessage(create(&discordgo.User{ID: "u2", Bot: true}, "g1"), "self", "")
	assert.False(t, ok)
	_, ok = discordMessage(create(&discordgo.User{ID: "u1"}, "g2"), "self", "g1")
	assert.False(t, ok)
	// direct messages carry no guild
	_, ok = discordMessage(create(&discordgo.User{ID: "u1"}, ""), "self", "g1")
	assert.True(t, ok)
	_, ok = discordMessage(&discordgo.MessageCreate{}, "self", "")
	assert.False(t, ok)
}

func TestDiscordBot_Notify(t *testing.T) {
	sender := &fakeDiscord{}
	b := &DiscordBot{sender: sender, logger: logging.Nop()}

	err := b.Notify(context.Background(), &models.Reminder{ID: "r1", UserID: "u1", ChannelID: "discord:c9", Text: "stand-up"})
	require.NoError(t, err)
	assert.Equal(t, []string{"<@u1> Reminder: stand-up"}, sender.sent["c9"])

	err = b.Notify(context.Background(), &models.Reminder{ID: "r2", ChannelID: "telegram:1", Text: "x"})
	assert.Error(t, err)

	sender.err = errors.New("429")
	err = b.Notify(context.Background(), &models.Reminder{ID: "r3", ChannelID: "discord:c9", Text: "x"})
	assert.Error(t, err)
}

type fakeTelegram struct {
	sent []*bot.SendMessageParams
}

func (f *fakeTelegram) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.sent = append(f.sent, params)
	return &tgmodels.Message{}, nil
}

func TestTelegramMessage_AllowList(t *testing.T) {
	b := &TelegramBot{allowed: map[int64]bool{42: true}, logger: logging.Nop()}
	update := func(from, chat int64, text string) *tgmodels.Update {
		return &tgmodels.Update{Message: &tgmodels.Message{
			ID: 5, Text: text, From: &tgmodels.User{ID: from}, Chat: tgmodels.Chat{ID: chat},
		}}
	}

	msg, ok := b.telegramMessage(update(42, 1001, "タスク"))
	require.True(t, ok)
	assert.Equal(t, models.Message{Content: "タスク", UserID: "42", ChannelID: "telegram:1001", MessageID: "5"}, msg)

	_, ok = b.telegramMessage(update(7, 42, "group chat on the list"))
	assert.True(t, ok)
	_, ok = b.telegramMessage(update(7, 8, "stranger"))
	assert.False(t, ok)
	_, ok = b.telegramMessage(update(42, 1001, ""))
	assert.False(t, ok)
	_, ok = b.telegramMessage(&tgmodels.Update{})
	assert.False(t, ok)
}

func TestTelegramBot_Notify(t *testing.T) {
	sender := &fakeTelegram{}
	b := &TelegramBot{sender: sender, logger: logging.Nop()}

	long := strings.Repeat("x", telegramMessageLimit+10)
	require.NoError(t, b.Notify(context.Background(), &models.Reminder{ID: "r1", ChannelID: "telegram:-100", Text: long}))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(-100), sender.sent[0].ChatID)

	assert.Error(t, b.Notify(context.Background(), &models.Reminder{ID: "r2", ChannelID: "telegram:abc", Text: "x"}))
	assert.Error(t, b.Notify(context.Background(), &models.Reminder{ID: "r3", ChannelID: "discord:1", Text: "x"}))
}
