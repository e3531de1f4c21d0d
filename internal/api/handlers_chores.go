package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"chore-tracker/internal/api/respond"
	"chore-tracker/internal/model"
	"chore-tracker/internal/repository"
	"chore-tracker/internal/service"
)

type choreHandlers struct {
	chores *service.ChoreService
	log    zerolog.Logger
}

func (h *choreHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.ChoreFilter{
		Status: model.Status(q.Get("status")),
		Query:  q.Get("q"),
	}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		respond.WriteBadRequest(w, "page must be a number")
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		respond.WriteBadRequest(w, "limit must be a number")
		return
	}

	page, err := h.chores.List(r.Context(), userFrom(r.Context()).ID, f)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

func (h *choreHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := choreID(w, r)
	if !ok {
		return
	}
	chore, err := h.chores.Get(r.Context(), userFrom(r.Context()).ID, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, chore)
}

func (h *choreHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in model.ChoreInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON body")
		return
	}
	chore, err := h.chores.Create(r.Context(), userFrom(r.Context()).ID, in)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, chore)
}

func (h *choreHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := choreID(w, r)
	if !ok {
		return
	}
	var patch model.ChorePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON body")
		return
	}
	chore, err := h.chores.Update(r.Context(), userFrom(r.Context()).ID, id, patch)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, chore)
}

func (h *choreHandlers) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := choreID(w, r)
	if !ok {
		return
	}
	if err := h.chores.Delete(r.Context(), userFrom(r.Context()).ID, id); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps service errors onto status codes.
func (h *choreHandlers) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case service.IsNotFound(err):
		respond.WriteNotFound(w, "Chore not found")
	case errors.Is(err, model.ErrInvalid):
		respond.WriteBadRequest(w, err.Error())
	default:
		h.log.Error().Err(err).Str("op", op).Msg("chore request failed")
		respond.WriteInternalError(w, "Failed to "+op+" chore")
	}
}

func choreID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respond.WriteBadRequest(w, "Invalid chore id")
		return 0, false
	}
	return id, true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
