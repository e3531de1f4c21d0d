package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/rs/zerolog"

	"chore-tracker/internal/api/respond"
	"chore-tracker/internal/model"
	"chore-tracker/internal/service"
)

type ctxKey int

const userKey ctxKey = iota

// accessLog records one line per request with status and duration.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			log.Info().
				Str("method", r.Method).
				Str("url", r.URL.Path).
				Int("status", m.Code).
				Dur("duration", m.Duration).
				Int64("bytes", m.Written).
				Msg("handled")
		})
	}
}

// recovery turns a handler panic into a 500.
func recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("method", r.Method).
						Str("url", r.URL.String()).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					respond.WriteInternalError(w, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticator resolves bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// requireUser rejects requests without a valid "Bearer <token>" header.
func requireUser(auth Authenticator, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				respond.WriteUnauthorized(w, "Access denied. No token provided.")
				return
			}
			user, err := auth.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if !errors.Is(err, service.ErrInvalidCredentials) {
					log.Error().Err(err).Msg("authenticate")
				}
				respond.WriteUnauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

func userFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}
