// Package server exposes session state and controls to local observers over
// HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/usecase"
)

// SessionAPI is the part of the session controller the router drives.
type SessionAPI interface {
	StartSession(ctx context.Context) error
	StopSession(ctx context.Context) error
	DismissError()
	Snapshot() domain.SessionSnapshot
}

// StateSource provides the observer-visible display state.
type StateSource interface {
	Snapshot() usecase.DisplaySnapshot
	DismissError()
}

// RouterDeps are the handlers' collaborators. Metrics may be nil.
type RouterDeps struct {
	Sessions SessionAPI
	State    StateSource
	Hub      *Hub
	Metrics  http.Handler
	Logger   *logger.Logger
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

type handlers struct {
	sessions SessionAPI
	state    StateSource
	log      *logger.Logger
}

// NewRouter builds the observer API.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	h := &handlers{sessions: deps.Sessions, state: deps.State, log: log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.HandleConnection)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.getState)
		r.Post("/session/start", h.startSession)
		r.Post("/session/stop", h.stopSession)
		r.Post("/error/dismiss", h.dismissError)
	})
	return r
}

func (h *handlers) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.StartSession(r.Context()); err != nil {
		status, body := startErrorResponse(err)
		h.log.Info("Start session request failed",
			logger.Int("status", status),
			logger.Error(err))
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

func (h *handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.StopSession(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

func (h *handlers) dismissError(w http.ResponseWriter, _ *http.Request) {
	h.sessions.DismissError()
	h.state.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

func startErrorResponse(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, usecase.ErrSessionAlreadyActive), errors.Is(err, usecase.ErrSessionCancelled):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	}

	kind := domain.KindOf(err)
	switch kind {
	case domain.ErrorKindDeviceUnavailable:
		return http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Kind: kind}
	default:
		return http.StatusBadGateway, errorResponse{Error: err.Error(), Kind: kind}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
