package analyzer

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aura/internal/logger"
	"aura/internal/providers/analysis"
)

const (
	minTextLength   = 3
	maxRequestBytes = 64 << 10
	msgTooShort     = "Text is too short to comprehend"
)

// NewRouter exposes POST /process_text.
func NewRouter(svc *Service, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &handler{svc: svc, log: log.Named("analysisd-http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(allowCORS)
	r.Post("/process_text", h.processText)
	r.Options("/process_text", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

type handler struct {
	svc *Service
	log *logger.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handler) processText(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.log.Debug("Rejected request body", logger.Error(err))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	if utf8.RuneCountInString(req.Text) < minTextLength {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgTooShort})
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Process(r.Context(), req.Text))
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "*")
		header.Add("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
