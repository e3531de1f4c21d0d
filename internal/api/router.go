// Package api serves the chore REST API and the push endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chore-tracker/internal/api/respond"
	"chore-tracker/internal/service"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Chores *service.ChoreService
	Users  *service.UserService
	Push   http.Handler
	Log    zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	log := d.Log.With().Str("component", "api").Logger()
	r := mux.NewRouter()
	r.Use(recovery(log))

	h := &choreHandlers{chores: d.Chores, log: log}
	a := &authHandlers{users: d.Users, log: log}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if d.Push != nil {
		r.Handle("/ws", d.Push)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(accessLog(log))
	api.HandleFunc("/health", health).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", a.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	chores := api.PathPrefix("/chores").Subrouter()
	chores.Use(requireUser(d.Users, log))
	chores.HandleFunc("", h.list).Methods(http.MethodGet)
	chores.HandleFunc("", h.create).Methods(http.MethodPost)
	chores.HandleFunc("/{id:[0-9]+}", h.get).Methods(http.MethodGet)
	chores.HandleFunc("/{id:[0-9]+}", h.update).Methods(http.MethodPut)
	chores.HandleFunc("/{id:[0-9]+}", h.remove).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respond.WriteNotFound(w, "Route not found")
	})
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
