// Package api serves a read-only HTTP view of trees, imports and the
// outbox.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fstrack/internal/model"
	"fstrack/internal/partition"
	"fstrack/internal/storage"
	"fstrack/internal/track"
)

// Trees is the tree registry.
type Trees interface {
	List(ctx context.Context) ([]*model.Tree, error)
	Lookup(ctx context.Context, treeID int64) (*model.Tree, error)
}

// History lists finished imports of a tree, newest first.
type History interface {
	History(ctx context.Context, treeID int64, limit int) ([]*model.Import, error)
}

// Outbox reports undelivered events.
type Outbox interface {
	Pending(ctx context.Context) (int64, error)
}

// Deps are the read models the server exposes.
type Deps struct {
	Provider storage.Provider
	Trees    Trees
	History  History
	Outbox   Outbox
	Logger   track.Logger
}

// DefaultHistoryLimit caps /trees/{treeID}/imports without ?limit.
const DefaultHistoryLimit = 50

// Server is the status API.
type Server struct {
	deps   Deps
	router *chi.Mux
}

// NewServer creates a server and registers its routes.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, router: chi.NewRouter()}

	s.router.Use(middleware.RequestID)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/trees", func(r chi.Router) {
		r.Get("/", s.handleListTrees)
		r.Get("/{treeID}/imports", s.handleListImports)
	})
	s.router.Get("/outbox", s.handleOutbox)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("status api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serving status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down status api: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.deps.Logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}

type treeJSON struct {
	ID        int64     `json:"tree_id"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
}

type importJSON struct {
	ID           string     `json:"import_id"`
	TreeID       int64      `json:"tree_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	EntryCount   int64      `json:"entryCount"`
	NewCount     int64      `json:"newCount"`
	ChangedCount int64      `json:"changedCount"`
	DeletedCount int64      `json:"deletedCount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Provider.InTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var one int
		return tx.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": s.deps.Provider.Dialect().Name()})
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	trees, err := s.deps.Trees.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]treeJSON, 0, len(trees))
	for _, t := range trees {
		out = append(out, treeJSON{ID: t.ID, RootPath: t.RootPath, CreatedAt: t.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	treeID, err := strconv.ParseInt(chi.URLParam(r, "treeID"), 10, 64)
	if err != nil || treeID <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid tree id %q", chi.URLParam(r, "treeID")))
		return
	}
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
	}

	if _, err := s.deps.Trees.Lookup(r.Context(), treeID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, partition.ErrTreeNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}

	imports, err := s.deps.History.History(r.Context(), treeID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]importJSON, 0, len(imports))
	for _, im := range imports {
		j := importJSON{
			ID:           im.ID,
			TreeID:       im.TreeID,
			StartedAt:    im.StartedAt,
			EntryCount:   im.EntryCount,
			NewCount:     im.NewCount,
			ChangedCount: im.ChangedCount,
			DeletedCount: im.DeletedCount,
		}
		if im.FinishedAt.Valid {
			finished := im.FinishedAt.Time
			j.FinishedAt = &finished
		}
		out = append(out, j)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Outbox.Pending(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"pending": n})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Warn("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
