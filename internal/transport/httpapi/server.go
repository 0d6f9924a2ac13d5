// Package httpapi exposes the dialog engine over REST, for driving
// conversations from other services and for operational introspection.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/internal/users"
	"github.com/ilvi89/stupid-tg-bot/pkg/bot"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Server is the HTTP transport.
type Server struct {
	router chi.Router
	app    *bot.App
	users  *users.Store
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithUsers enables the user export endpoint.
func WithUsers(store *users.Store) Option {
	return func(s *Server) {
		s.users = store
	}
}

// New builds the server and its routes.
func New(app *bot.App, opts ...Option) *Server {
	s := &Server{
		app:    app,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/dialogs/{userID}/{chatID}", func(r chi.Router) {
			r.Post("/input", s.handleInput)
			r.Post("/cancel", s.handleCancel)
			r.Get("/", s.handleResume)
		})
		r.Get("/scenarios", s.handleScenarios)
		r.Get("/scenarios/stats", s.handleStats)
		if s.users != nil {
			r.Get("/users/export.csv", s.handleExport)
		}
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type inputRequest struct {
	Input string `json:"input"`
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (dialog.Identity, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user id")
		return dialog.Identity{}, false
	}
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid chat id")
		return dialog.Identity{}, false
	}
	return dialog.Identity{UserID: userID, ChatID: chatID}, true
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := s.app.Handle(r.Context(), identity, req.Input)
	if err != nil {
		s.logger.Error("dialog input failed", "identity", identity.Key(), "err", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	turn, err := s.app.Cancel(r.Context(), identity)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	turn, err := s.app.Resume(r.Context(), identity)
	if errors.Is(err, dialog.ErrNoActiveSession) {
		s.writeError(w, http.StatusNotFound, "no active dialog")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, turn)
}

type scenarioSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Triggers     []string `json:"triggers,omitempty"`
	Audience     string   `json:"audience"`
	Category     string   `json:"category"`
	Enabled      bool     `json:"enabled"`
	Priority     int      `json:"priority,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	var out []scenarioSummary
	for _, sc := range s.app.Registry().List() {
		out = append(out, scenarioSummary{
			ID:           sc.Chain.ID,
			Name:         sc.Chain.Name,
			Triggers:     sc.Triggers,
			Audience:     string(sc.Audience),
			Category:     string(sc.Category),
			Enabled:      sc.Enabled,
			Priority:     sc.Priority,
			Dependencies: sc.Dependencies,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Registry().Stats())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
	if err := s.users.ExportCSV(r.Context(), w); err != nil {
		s.logger.Error("user export failed", "err", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
