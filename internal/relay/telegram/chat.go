package telegram

import (
	"fmt"
	"time"

	"chore-tracker/internal/push"
	"chore-tracker/internal/service"
)

// chat is a push.Channel backed by a Telegram chat. Telegram has no open
// state to lose, so a chat stays writable until it is unlinked.
type chat struct {
	id      int64
	api     BotAPI
	session *push.Session
}

func (c *chat) Writable() bool {
	state, _ := c.session.State()
	return state == push.StateAuthenticated
}

func (c *chat) Send(data []byte) error {
	ev, err := push.DecodeEvent(data)
	if err != nil {
		return err
	}
	return sendHTML(c.api, c.id, renderEvent(ev, time.Now()))
}

func renderEvent(ev push.Event, now time.Time) string {
	switch ev.Type {
	case push.EventChoreCreated:
		return "🆕 <b>New chore</b>\n" + service.FormatChore(*ev.Chore, now)
	case push.EventChoreUpdated:
		return "✏️ <b>Chore updated</b>\n" + service.FormatChore(*ev.Chore, now)
	default:
		return fmt.Sprintf("🗑 Chore #%d deleted", ev.ChoreID)
	}
}
