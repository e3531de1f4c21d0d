// Package telegram relays chore pushes into Telegram chats. A linked chat is
// one more push channel of its owner.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"chore-tracker/internal/model"
	"chore-tracker/internal/push"
	"chore-tracker/internal/service"
)

// BotAPI is the subset of *tgbotapi.BotAPI the relay uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Authenticator resolves the API token a user pastes into /link.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// Digester renders the open chores of a user.
type Digester interface {
	Digest(ctx context.Context, userID int64, now time.Time) (string, error)
}

// Relay aggregates the Telegram API with the push registry.
type Relay struct {
	api     BotAPI
	reg     *push.Registry
	users   Authenticator
	digests Digester
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	chats map[int64]*chat
}

func New(api BotAPI, reg *push.Registry, users Authenticator, digests Digester, log zerolog.Logger) *Relay {
	return &Relay{
		api:     api,
		reg:     reg,
		users:   users,
		digests: digests,
		log:     log.With().Str("component", "telegram").Logger(),
		now:     time.Now,
		chats:   make(map[int64]*chat),
	}
}

// Start begins polling updates until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := r.api.GetUpdatesChan(updateConfig)

	r.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		r.api.StopReceivingUpdates()
	}()

	for update := range updates {
		msg := update.Message
		if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
			continue
		}
		if err := r.handleMessage(ctx, msg); err != nil {
			r.log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("handle message")
		}
	}

	r.Close()
	return nil
}

// Close unlinks every chat.
func (r *Relay) Close() {
	r.mu.Lock()
	chats := r.chats
	r.chats = make(map[int64]*chat)
	r.mu.Unlock()

	for _, c := range chats {
		c.session.Close(nil)
	}
}

// SendDigests sends the open-chore digest to every linked chat.
func (r *Relay) SendDigests(ctx context.Context) error {
	r.mu.Lock()
	chats := make([]*chat, 0, len(r.chats))
	for _, c := range r.chats {
		chats = append(chats, c)
	}
	r.mu.Unlock()

	now := r.now()
	for _, c := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, userID := c.session.State()
		if state != push.StateAuthenticated {
			continue
		}
		text, err := r.digests.Digest(ctx, userID, now)
		if err != nil {
			r.log.Warn().Err(err).Int64("user_id", userID).Msg("build digest")
			continue
		}
		if err := r.sendText(c.id, text); err != nil {
			r.log.Warn().Err(err).Int64("chat_id", c.id).Msg("send digest")
		}
	}
	return nil
}

func (r *Relay) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if !msg.IsCommand() {
		return r.sendText(msg.Chat.ID, "I only understand commands. Try /help.")
	}

	r.log.Debug().Int64("chat_id", msg.Chat.ID).Str("command", msg.Command()).Msg("command")
	switch msg.Command() {
	case "start", "help":
		return r.sendText(msg.Chat.ID, helpText)
	case "link":
		return r.handleLink(ctx, msg)
	case "unlink":
		return r.handleUnlink(msg)
	case "chores":
		return r.handleChores(ctx, msg)
	default:
		return r.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

const helpText = "👋 <b>Chore relay</b>\n" +
	"• /link &lt;token&gt; — get your chore updates in this chat\n" +
	"• /unlink — stop updates\n" +
	"• /chores — open chores right now\n" +
	"• /help — this message"

func (r *Relay) handleLink(ctx context.Context, msg *tgbotapi.Message) error {
	token := strings.TrimSpace(msg.CommandArguments())
	if token == "" {
		return r.sendText(msg.Chat.ID, "Send your API token: /link &lt;token&gt;")
	}
	user, err := r.users.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return r.sendText(msg.Chat.ID, "That token is not valid.")
		}
		return err
	}

	r.mu.Lock()
	c, ok := r.chats[msg.Chat.ID]
	if !ok {
		c = &chat{id: msg.Chat.ID, api: r.api}
		c.session = push.NewSession(c, r.reg, r.log.With().Int64("chat_id", msg.Chat.ID).Logger())
		r.chats[msg.Chat.ID] = c
	}
	r.mu.Unlock()

	c.session.Authenticate(user.ID)
	return r.sendText(msg.Chat.ID, fmt.Sprintf("🔗 Linked to <b>%s</b>. Chore changes will show up here.", html.EscapeString(user.Username)))
}

func (r *Relay) handleUnlink(msg *tgbotapi.Message) error {
	r.mu.Lock()
	c, ok := r.chats[msg.Chat.ID]
	delete(r.chats, msg.Chat.ID)
	r.mu.Unlock()

	if !ok {
		return r.sendText(msg.Chat.ID, "This chat is not linked.")
	}
	c.session.Close(nil)
	return r.sendText(msg.Chat.ID, "Unlinked.")
}

func (r *Relay) handleChores(ctx context.Context, msg *tgbotapi.Message) error {
	userID, ok := r.linkedUser(msg.Chat.ID)
	if !ok {
		return r.sendText(msg.Chat.ID, "Link this chat first: /link &lt;token&gt;")
	}
	text, err := r.digests.Digest(ctx, userID, r.now())
	if err != nil {
		return r.sendText(msg.Chat.ID, fmt.Sprintf("Could not load chores: %s", html.EscapeString(err.Error())))
	}
	return r.sendText(msg.Chat.ID, text)
}

func (r *Relay) linkedUser(chatID int64) (int64, bool) {
	r.mu.Lock()
	c, ok := r.chats[chatID]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	state, userID := c.session.State()
	return userID, state == push.StateAuthenticated
}

func (r *Relay) sendText(chatID int64, text string) error {
	return sendHTML(r.api, chatID, text)
}

func sendHTML(api BotAPI, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := api.Send(msg)
	return err
}
