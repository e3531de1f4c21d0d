package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"chore-tracker/internal/api"
	"chore-tracker/internal/config"
	"chore-tracker/internal/logger"
	"chore-tracker/internal/push"
	"chore-tracker/internal/relay/telegram"
	"chore-tracker/internal/repository"
	"chore-tracker/internal/service"
	"chore-tracker/internal/transport/ws"
)

// server is everything main wires together before it starts listening.
type server struct {
	http     *http.Server
	push     *ws.Server
	registry *push.Registry
	users    *service.UserService
	digests  *service.DigestService
	close    func()
}

func newServer(cfg config.Config, log zerolog.Logger) (*server, error) {
	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	closeDB := func() {}
	if sqlDB, err := db.DB(); err == nil {
		closeDB = func() { _ = sqlDB.Close() }
	}

	userRepo := repository.NewUserRepository(db)
	choreRepo := repository.NewChoreRepository(db)

	registry := push.NewRegistry()
	notifier := push.NewNotifier(registry, log)

	userSvc := service.NewUserService(userRepo)
	choreSvc := service.NewChoreService(choreRepo, notifier, log)
	digestSvc := service.NewDigestService(choreRepo)

	pushServer := ws.NewServer(registry, cfg.WSWriteTimeout, log)
	return &server{
		http: &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: api.NewRouter(api.Deps{
				Chores: choreSvc,
				Users:  userSvc,
				Push:   pushServer,
				Log:    log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		push:     pushServer,
		registry: registry,
		users:    userSvc,
		digests:  digestSvc,
		close:    closeDB,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		l := logger.New("chore-server", "info", "json")
		l.Fatal().Err(err).Msg("config")
	}
	log := logger.New("chore-server", cfg.LogLevel, cfg.LogFormat)

	srv, err := newServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer srv.close()

	if cfg.TelegramEnabled() {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram")
		}
		log.Info().Str("account", botAPI.Self.UserName).Msg("telegram bot authorized")
		relay := telegram.New(botAPI, srv.registry, srv.users, srv.digests, log)

		if cfg.ReportInterval > 0 {
			scheduler := service.NewSchedulerService(time.Local, log)
			if _, err := scheduler.ScheduleInterval(cfg.ReportInterval, func() {
				jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := relay.SendDigests(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("digest")
				}
			}); err != nil {
				log.Fatal().Err(err).Msg("schedule digests")
			}
			scheduler.Start()
			defer scheduler.Stop()
		}

		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("telegram relay stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("chore server started")
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.push.Close()
	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("shutdown complete")
}
