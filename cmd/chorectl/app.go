package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"chore-tracker/internal/client/api"
	"chore-tracker/internal/client/cache"
	"chore-tracker/internal/client/localstore"
	"chore-tracker/internal/client/outbox"
	"chore-tracker/internal/client/syncer"
	"chore-tracker/internal/config"
	"chore-tracker/internal/logger"
)

const sessionKey = "session"

var errNotLoggedIn = errors.New("not logged in: run chorectl login or set CHORECTL_TOKEN and CHORECTL_USER_ID")

// savedSession is what login and register leave in the state dir.
type savedSession struct {
	ServerURL string `json:"serverUrl"`
	Token     string `json:"token"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
}

type app struct {
	cfg    config.ClientConfig
	log    zerolog.Logger
	store  *localstore.FileStore
	client *api.Client
	out    io.Writer

	session savedSession
}

func newApp() (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if serverFlag != "" {
		cfg.ServerURL = serverFlag
	}

	store, err := localstore.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   logger.NewWithWriter(os.Stderr, "chorectl", cfg.LogLevel, "console"),
		store: store,
		out:   os.Stdout,
	}
	if err := a.loadSession(); err != nil {
		return nil, err
	}
	a.client = api.New(cfg.ServerURL, a.session.Token, cfg.RequestTimeout)
	return a, nil
}

// loadSession merges the saved session with environment overrides.
func (a *app) loadSession() error {
	data, ok, err := a.store.Get(sessionKey)
	if err != nil {
		return err
	}
	if ok {
		if err := json.Unmarshal(data, &a.session); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
	}
	if a.cfg.Token != "" {
		a.session.Token = a.cfg.Token
	}
	if a.cfg.UserID != 0 {
		a.session.UserID = a.cfg.UserID
	}
	return nil
}

func (a *app) saveSession(s *api.Session) error {
	a.session = savedSession{
		ServerURL: a.cfg.ServerURL,
		Token:     s.Token,
		UserID:    s.User.ID,
		Username:  s.User.Username,
	}
	data, err := json.Marshal(a.session)
	if err != nil {
		return err
	}
	a.client.SetToken(s.Token)
	return a.store.Set(sessionKey, data)
}

// syncer builds a Syncer over the state dir and paints it from the cache.
func (a *app) syncer() (*syncer.Syncer, *outbox.Outbox, error) {
	if a.session.Token == "" || a.session.UserID == 0 {
		return nil, nil, errNotLoggedIn
	}
	ob, err := outbox.Open(a.store, outbox.DefaultKey)
	if err != nil {
		return nil, nil, err
	}
	s := syncer.New(a.client, ob, cache.New(a.store, cache.DefaultKey), a.session.UserID, a.log)
	if err := s.Bootstrap(); err != nil {
		return nil, nil, err
	}
	return s, ob, nil
}

// reportQueued turns ErrQueued into a notice; any other error is returned.
func (a *app) reportQueued(err error, what string) error {
	if errors.Is(err, syncer.ErrQueued) {
		fmt.Fprintf(a.out, "%s saved locally; the server is unreachable, it will be sent on the next sync\n", what)
		a.log.Debug().Err(err).Msg("queued")
		return nil
	}
	return err
}
