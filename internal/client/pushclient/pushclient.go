// Package pushclient keeps a websocket subscription to the server's push
// endpoint open, reconnecting with exponential backoff.
package pushclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chore-tracker/internal/push"
)

const (
	// the server pings well within this window
	readWait  = 2 * time.Minute
	writeWait = 5 * time.Second
)

// Handler receives connection and event callbacks. Calls are made from the
// Run goroutine, one at a time.
type Handler interface {
	// OnConnect runs after the identity assertion is sent, before any event
	// is read. It is the reconciliation trigger for regained connectivity.
	OnConnect(ctx context.Context)
	OnEvent(ev push.Event)
}

type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Client struct {
	url    string
	userID int64
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// New derives the ws:// endpoint from the server's http(s) base URL.
func New(serverURL string, userID int64, opts Options, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	return &Client{
		url:    u.String(),
		userID: userID,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With().Str("component", "pushclient").Logger(),
	}, nil
}

func (c *Client) URL() string { return c.url }

// Run connects and feeds h until ctx is cancelled.
func (c *Client) Run(ctx context.Context, h Handler) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.InitialInterval
	exp.MaxInterval = c.opts.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for {
		connected, err := c.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			exp.Reset()
		}
		wait := exp.NextBackOff()
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("push channel lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the handshake got
// through.
func (c *Client) session(ctx context.Context, h Handler) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
		case <-stop:
		}
	}()

	raw, err := push.NewAssertion(c.userID)
	if err != nil {
		return false, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return false, fmt.Errorf("send identity: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.log.Info().Str("url", c.url).Int64("user_id", c.userID).Msg("push channel connected")
	h.OnConnect(ctx)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		ev, err := push.DecodeEvent(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring malformed push")
			continue
		}
		h.OnEvent(ev)
	}
}
