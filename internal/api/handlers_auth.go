package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"chore-tracker/internal/api/respond"
	"chore-tracker/internal/repository"
	"chore-tracker/internal/service"
)

type authHandlers struct {
	users *service.UserService
	log   zerolog.Logger
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *authHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON body")
		return
	}

	sess, err := h.users.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		respond.WriteJSON(w, http.StatusCreated, sess)
	case errors.Is(err, service.ErrInvalidUser):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, repository.ErrConflict):
		respond.WriteError(w, http.StatusConflict, "Username already taken")
	default:
		h.log.Error().Err(err).Msg("register")
		respond.WriteInternalError(w, "Failed to register")
	}
}

func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON body")
		return
	}

	sess, err := h.users.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		respond.WriteJSON(w, http.StatusOK, sess)
	case errors.Is(err, service.ErrInvalidCredentials):
		respond.WriteUnauthorized(w, "Invalid username or password")
	default:
		h.log.Error().Err(err).Msg("login")
		respond.WriteInternalError(w, "Failed to log in")
	}
}
