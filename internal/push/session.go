package push

import (
	"sync"

	"github.com/rs/zerolog"
)

// State of a channel's handshake.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session drives the identity handshake of a single channel.
// Transports call HandleMessage for every inbound frame and Close exactly when
// the underlying connection ends.
type Session struct {
	ch  Channel
	reg *Registry
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	identity int64
}

func NewSession(ch Channel, reg *Registry, log zerolog.Logger) *Session {
	return &Session{ch: ch, reg: reg, log: log}
}

// HandleMessage processes one inbound frame. Anything that is not a valid
// identity assertion is logged and leaves the state unchanged.
func (s *Session) HandleMessage(raw []byte) {
	identity, err := ParseAssertion(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring inbound message")
		return
	}
	s.Authenticate(identity)
}

// Authenticate binds the channel to identity, moving it away from any
// identity it was bound to before. It is a no-op once the session is closed.
func (s *Session) Authenticate(identity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	prev, wasAuthed := s.identity, s.state == StateAuthenticated
	s.reg.Register(identity, s.ch)
	s.state = StateAuthenticated
	s.identity = identity

	switch {
	case !wasAuthed:
		s.log.Info().Int64("user_id", identity).Msg("channel authenticated")
	case prev != identity:
		s.log.Info().Int64("user_id", identity).Int64("previous_user_id", prev).Msg("channel re-associated")
	}
}

// Close moves the session to its terminal state and drops the channel from
// the registry. cause is nil for an orderly close.
func (s *Session) Close(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.reg.Unregister(s.ch)
	ev := s.log.Info()
	if cause != nil {
		ev = s.log.Warn().Err(cause)
	}
	if s.state == StateAuthenticated {
		ev = ev.Int64("user_id", s.identity)
	}
	ev.Msg("channel closed")
	s.state = StateClosed
}

// State returns the handshake state and, when authenticated, the identity.
func (s *Session) State() (State, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return s.state, 0
	}
	return s.state, s.identity
}
