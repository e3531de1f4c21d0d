package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chore-tracker/internal/model"
	"chore-tracker/internal/push"
	"chore-tracker/internal/service"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
	once    sync.Once
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.once.Do(func() { close(f.updates) })
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func (f *fakeBot) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type fakeUsers map[string]model.User

func (f fakeUsers) Authenticate(_ context.Context, token string) (*model.User, error) {
	u, ok := f[token]
	if !ok {
		return nil, service.ErrInvalidCredentials
	}
	return &u, nil
}

type fakeDigests struct{}

func (fakeDigests) Digest(_ context.Context, userID int64, _ time.Time) (string, error) {
	return "digest for " + strings.Repeat("*", int(userID%5)), nil
}

func command(chatID int64, text string) *tgbotapi.Message {
	name := strings.SplitN(text, " ", 2)[0]
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID, Type: "private"},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func newRelay(t *testing.T) (*Relay, *fakeBot, *push.Registry) {
	t.Helper()
	bot := newFakeBot()
	reg := push.NewRegistry()
	users := fakeUsers{
		"tok-41": {ID: 41, Username: "kid"},
		"tok-42": {ID: 42, Username: "alice"},
	}
	return New(bot, reg, users, fakeDigests{}, zerolog.Nop()), bot, reg
}

func TestRelay_LinkedChatReceivesPushes(t *testing.T) {
	ctx := context.Background()
	r, bot, reg := newRelay(t)

	require.NoError(t, r.handleMessage(ctx, command(100, "/link tok-42")))
	assert.Contains(t, bot.last(t).Text, "alice")
	require.Len(t, reg.ChannelsFor(42), 1)

	n := push.NewNotifier(reg, zerolog.Nop())
	n.Notify(42, push.ChoreCreated(model.Chore{ID: 9, UserID: 42, Title: "Pay <rent>", Status: model.StatusPending, Priority: model.PriorityHigh}))

	msg := bot.last(t)
	assert.Equal(t, int64(100), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "New chore")
	assert.Contains(t, msg.Text, "#9 Pay &lt;rent&gt;")

	n.Notify(42, push.ChoreDeleted(9))
	assert.Equal(t, "🗑 Chore #9 deleted", bot.last(t).Text)
}

func TestRelay_RelinkMovesChat(t *testing.T) {
	ctx := context.Background()
	r, _, reg := newRelay(t)

	require.NoError(t, r.handleMessage(ctx, command(100, "/link tok-41")))
	require.NoError(t, r.handleMessage(ctx, command(100, "/link tok-42")))

	assert.Empty(t, reg.ChannelsFor(41))
	assert.Len(t, reg.ChannelsFor(42), 1)
	assert.Equal(t, 1, reg.Len())
}

func TestRelay_UnlinkAndBadToken(t *testing.T) {
	ctx := context.Background()
	r, bot, reg := newRelay(t)

	require.NoError(t, r.handleMessage(ctx, command(100, "/link nope")))
	assert.Equal(t, "That token is not valid.", bot.last(t).Text)
	assert.Zero(t, reg.Len())

	require.NoError(t, r.handleMessage(ctx, command(100, "/chores")))
	assert.Contains(t, bot.last(t).Text, "Link this chat first")

	require.NoError(t, r.handleMessage(ctx, command(100, "/link tok-42")))
	require.NoError(t, r.handleMessage(ctx, command(100, "/chores")))
	assert.Equal(t, "digest for **", bot.last(t).Text)

	require.NoError(t, r.handleMessage(ctx, command(100, "/unlink")))
	assert.Zero(t, reg.Len())
	require.NoError(t, r.handleMessage(ctx, command(100, "/unlink")))
	assert.Equal(t, "This chat is not linked.", bot.last(t).Text)
}

func TestRelay_SendDigestsToLinkedChats(t *testing.T) {
	ctx := context.Background()
	r, bot, _ := newRelay(t)
	require.NoError(t, r.handleMessage(ctx, command(100, "/link tok-42")))
	require.NoError(t, r.handleMessage(ctx, command(200, "/link tok-41")))
	before := len(bot.messages())

	require.NoError(t, r.SendDigests(ctx))

	got := map[int64]string{}
	for _, m := range bot.messages()[before:] {
		got[m.ChatID] = m.Text
	}
	assert.Equal(t, map[int64]string{100: "digest for **", 200: "digest for *"}, got)
}

func TestRelay_StartPollsUntilCancelled(t *testing.T) {
	r, bot, reg := newRelay(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	bot.updates <- tgbotapi.Update{Message: command(100, "/link tok-42")}
	group := command(300, "/link tok-41")
	group.Chat.Type = "group"
	bot.updates <- tgbotapi.Update{Message: group}
	require.Eventually(t, func() bool { return len(reg.ChannelsFor(42)) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.Zero(t, reg.Len(), "stopping the relay unlinks every chat")
	assert.Empty(t, reg.ChannelsFor(41), "group chats are ignored")
}
