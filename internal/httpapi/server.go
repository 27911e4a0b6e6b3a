// Package httpapi serves the local dashboard API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/autoaccept/internal/engine"
	"github.com/ppiankov/autoaccept/internal/grouping"
	"github.com/ppiankov/autoaccept/internal/oplog"
	"github.com/ppiankov/autoaccept/internal/refresh"
	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/store"
)

const defaultOpsLimit = 50

// EngineControl is the part of the engine the API exposes.
type EngineControl interface {
	Status() engine.Status
	Pause()
	Resume()
	ResetBreaker()
	RecordManual(ctx context.Context, category oplog.Category, detail string) error
}

// Deps are the components the API reads and controls.
type Deps struct {
	Engine  EngineControl
	Ops     *oplog.Log
	Grouper *grouping.Grouper
	Rules   *rules.Matcher
	KV      store.KV
}

// Server routes dashboard requests.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// New creates a Server.
func New(deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{deps: deps, log: log}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/quota", s.handleQuota)
		r.Get("/groups", s.handleGroups)
		r.Put("/groups/order", s.handleSetOrder)
		r.Post("/groups/{id}/pin", s.handlePin)
		r.Delete("/groups/{id}/pin", s.handleUnpin)
		r.Put("/groups/{id}/name", s.handleRename)

		r.Get("/operations", s.handleOperations)
		r.Delete("/operations", s.handleClearOperations)
		r.Post("/operations/manual", s.handleManual)

		r.Get("/engine", s.handleEngine)
		r.Post("/engine/pause", s.handlePause)
		r.Post("/engine/resume", s.handleResume)
		r.Post("/engine/breaker/reset", s.handleResetBreaker)

		r.Post("/check", s.handleCheck)
	})

	return r
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	c, ok, err := refresh.Load(r.Context(), s.deps.KV)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !ok {
		c = refresh.Cache{State: refresh.StateOffline, Error: "no quota data yet"}
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	c, _, err := refresh.Load(r.Context(), s.deps.KV)
	if err != nil {
		s.serverError(w, err)
		return
	}
	groups := c.Groups
	if groups == nil {
		groups = []grouping.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": c.State, "groups": groups})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	s.override(w, r, func() error { return s.deps.Grouper.Pin(r.Context(), chi.URLParam(r, "id")) })
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	s.override(w, r, func() error { return s.deps.Grouper.Unpin(r.Context(), chi.URLParam(r, "id")) })
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.override(w, r, func() error { return s.deps.Grouper.Rename(r.Context(), chi.URLParam(r, "id"), body.Name) })
}

func (s *Server) handleSetOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decode(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.override(w, r, func() error { return s.deps.Grouper.SetOrder(r.Context(), body.IDs) })
}

// override applies a group customization and regroups the cached snapshot.
func (s *Server) override(w http.ResponseWriter, r *http.Request, fn func() error) {
	if err := fn(); err != nil {
		s.serverError(w, err)
		return
	}
	c, err := refresh.Regroup(r.Context(), s.deps.KV, s.deps.Grouper)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": s.deps.Grouper.Overrides(), "groups": c.Groups})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	limit := defaultOpsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   s.deps.Ops.Stats(),
		"entries": s.deps.Ops.Recent(limit),
	})
}

func (s *Server) handleClearOperations(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ops.Clear(r.Context()); err != nil {
		s.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEngine(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.Pause()
	writeJSON(w, http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.Resume()
	writeJSON(w, http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.ResetBreaker()
	writeJSON(w, http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category oplog.Category `json:"category"`
		Detail   string         `json:"detail"`
	}
	if err := decode(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch body.Category {
	case oplog.FileEdit, oplog.TerminalCommand:
	default:
		http.Error(w, "category must be file_edit or terminal_command", http.StatusBadRequest)
		return
	}
	if err := s.deps.Engine.RecordManual(r.Context(), body.Category, body.Detail); err != nil {
		s.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string              `json:"text"`
		Type rules.OperationType `json:"type"`
	}
	if err := decode(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Type == "" {
		body.Type = rules.Terminal
	}
	writeJSON(w, http.StatusOK, s.deps.Rules.Evaluate(body.Text, rules.Context{Type: body.Type}))
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("api request failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
