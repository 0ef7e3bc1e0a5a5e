// Package httpapi exposes the daemon's session-lifecycle HTTP surface:
// the handful of REST endpoints that let an operator CLI (or any other
// caller) create projects/sessions and drive the orchestrator loop
// (start/pause/stop/one-batch), plus the /ws upgrade endpoint workers
// connect through and, when wired, the /ws/ui endpoint UIs connect
// through. It deliberately does not attempt a full
// CRUD surface over every domain concept — only what §6's session
// lifecycle needs.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/andrewboldi/canvasguard/internal/guarddata"
	"github.com/andrewboldi/canvasguard/internal/orchestrator"
	"github.com/andrewboldi/canvasguard/internal/store"
)

// Orchestrator is the subset of *orchestrator.Orchestrator the HTTP
// surface drives.
type Orchestrator interface {
	Start(ctx context.Context, sessionID string) error
	Pause(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
	OneBatch(ctx context.Context, sessionID string) (map[string]int, error)
}

// Store is the subset of *store.Store the HTTP surface reads and
// writes through to create projects/sessions.
type Store interface {
	CreateProject(ctx context.Context, id, name string, mode store.ProjectMode, config map[string]any) error
	CreateSession(ctx context.Context, id, projectID string, slaveIDs []string, strategy string) error
	GetSession(ctx context.Context, sessionID string) (*orchestrator.Session, error)
}

// Server is the daemon's HTTP surface.
type Server struct {
	orch      Orchestrator
	store     Store
	guardData *guarddata.Store
	wsHandler http.Handler
	uiHandler http.Handler

	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the session-lifecycle REST endpoints, the /ws worker
// upgrade endpoint, and the /ws/ui UI upgrade endpoint onto one addr.
// guardData may be nil if the daemon has no favorite-election guard-data
// push wired. uiHandler may be nil if no UI connection path is wired,
// in which case /ws/ui is not mounted.
func NewServer(addr string, orch Orchestrator, st Store, guardData *guarddata.Store, wsHandler, uiHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{orch: orch, store: st, guardData: guardData, wsHandler: wsHandler, uiHandler: uiHandler, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("POST /api/projects/{id}/guard-data", s.handleUploadGuardData)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/sessions/{id}/one-batch", s.handleOneBatch)
	mux.Handle("GET /ws", wsHandler)
	if uiHandler != nil {
		mux.Handle("GET /ws/ui", uiHandler)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called or ListenAndServe
// fails.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorResponse{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type createProjectRequest struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Mode   string         `json:"mode"`
	Config map[string]any `json:"config"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Name == "" {
		jsonError(w, http.StatusBadRequest, "id and name are required")
		return
	}
	mode := store.ProjectMode(req.Mode)
	if mode == "" {
		mode = store.ModeGuard
	}
	if err := s.store.CreateProject(r.Context(), req.ID, req.Name, mode, req.Config); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// handleUploadGuardData stores the raw reference canvas data body
// verbatim, so registry.FavoriteHooks can re-push it to whichever
// worker is elected favorite next. The project id in the path is not
// otherwise interpreted: a daemon instance drives exactly one active
// guard-data payload at a time (§5 non-goals: no multi-project CRUD).
func (s *Server) handleUploadGuardData(w http.ResponseWriter, r *http.Request) {
	if s.guardData == nil {
		jsonError(w, http.StatusServiceUnavailable, "guard data push is not configured")
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if !json.Valid(raw) {
		jsonError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}
	s.guardData.Set(raw)
	jsonResponse(w, http.StatusOK, map[string]string{"status": "stored"})
}

type createSessionRequest struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	SlaveIDs  []string `json:"slaveIds"`
	Strategy  string   `json:"strategy"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.ProjectID == "" {
		jsonError(w, http.StatusBadRequest, "id and projectId are required")
		return
	}
	if err := s.store.CreateSession(r.Context(), req.ID, req.ProjectID, req.SlaveIDs, req.Strategy); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Start(context.WithoutCancel(r.Context()), id); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Pause(r.Context(), id); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Stop(r.Context(), id); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleOneBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	plan, err := s.orch.OneBatch(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"plan": plan})
}
