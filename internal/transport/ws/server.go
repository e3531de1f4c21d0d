// Package ws exposes push channels over websockets.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chore-tracker/internal/push"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 10
)

// ErrNotWritable is returned by Send on a closed connection.
var ErrNotWritable = errors.New("websocket not writable")

// Server upgrades HTTP requests to push channels and runs their handshake.
type Server struct {
	reg          *push.Registry
	log          zerolog.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewServer(reg *push.Registry, writeTimeout time.Duration, log zerolog.Logger) *Server {
	return &Server{
		reg: reg,
		log: log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Channels carry no ambient credentials; identity is asserted
			// in-band and not verified (see push.ParseAssertion).
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		conns:        make(map[*conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	c := &conn{ws: wsConn, writeTimeout: s.writeTimeout}
	c.open.Store(true)
	s.track(c)
	defer s.untrack(c)

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	session := push.NewSession(c, s.reg, log)
	log.Debug().Msg("channel opened")

	stopPing := make(chan struct{})
	go c.pingLoop(stopPing)

	err = c.readLoop(session)
	close(stopPing)
	c.shutdown()
	session.Close(err)
}

// Close terminates every open channel. http.Server.Shutdown does not reach
// hijacked connections, so callers invoke this during shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// conn is a push.Channel over one websocket. gorilla/websocket allows a
// single concurrent writer, so data frames go through writeMu.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	open         atomic.Bool
	closed       atomic.Bool
}

func (c *conn) Writable() bool {
	return c.open.Load()
}

func (c *conn) Send(data []byte) error {
	if !c.open.Load() {
		return ErrNotWritable
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.open.Store(false)
		return err
	}
	return nil
}

// readLoop feeds inbound frames to the session until the peer goes away.
// A normal close returns nil.
func (c *conn) readLoop(session *push.Session) error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		session.HandleMessage(data)
	}
}

func (c *conn) pingLoop(stop <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *conn) shutdown() {
	c.open.Store(false)
	if !c.closed.Swap(true) {
		_ = c.ws.Close()
	}
}
