package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"chore-tracker/internal/model"
)

// EventType tags every message on a push channel.
type EventType string

const (
	EventChoreCreated EventType = "CHORE_CREATED"
	EventChoreUpdated EventType = "CHORE_UPDATED"
	EventChoreDeleted EventType = "CHORE_DELETED"

	// MessageAuth is the identity assertion sent by the client.
	MessageAuth EventType = "AUTH"
)

// Event is the server to client envelope.
type Event struct {
	Type    EventType    `json:"type"`
	Chore   *model.Chore `json:"chore,omitempty"`
	ChoreID int64        `json:"choreId,omitempty"`
}

func ChoreCreated(c model.Chore) Event {
	return Event{Type: EventChoreCreated, Chore: &c}
}

func ChoreUpdated(c model.Chore) Event {
	return Event{Type: EventChoreUpdated, Chore: &c}
}

func ChoreDeleted(id int64) Event {
	return Event{Type: EventChoreDeleted, ChoreID: id}
}

// DecodeEvent parses a push message and checks that it carries what its
// type requires.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case EventChoreCreated, EventChoreUpdated:
		if ev.Chore == nil {
			return Event{}, fmt.Errorf("%s without chore", ev.Type)
		}
	case EventChoreDeleted:
		if ev.ChoreID == 0 {
			return Event{}, fmt.Errorf("%s without choreId", ev.Type)
		}
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Assertion is the client to server identity claim.
type Assertion struct {
	Type   EventType `json:"type"`
	UserID int64     `json:"userId"`
}

var errNotAssertion = errors.New("not an identity assertion")

// NewAssertion encodes the AUTH message for userID.
func NewAssertion(userID int64) ([]byte, error) {
	return json.Marshal(Assertion{Type: MessageAuth, UserID: userID})
}

// ParseAssertion extracts the identity from an AUTH message. The claim is
// taken at face value: nothing proves the peer owns userId, so a websocket
// channel must not be exposed beyond trusted clients. The Telegram relay
// checks an API token before it asserts an identity.
func ParseAssertion(raw []byte) (int64, error) {
	var a Assertion
	if err := json.Unmarshal(raw, &a); err != nil {
		return 0, fmt.Errorf("decode assertion: %w", err)
	}
	if a.Type != MessageAuth {
		return 0, fmt.Errorf("%w: type %q", errNotAssertion, a.Type)
	}
	if a.UserID <= 0 {
		return 0, fmt.Errorf("%w: missing userId", errNotAssertion)
	}
	return a.UserID, nil
}
