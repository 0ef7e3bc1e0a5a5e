// Package registry implements the connection registry (C8): the
// worker/UI connection set, favorite election, and targeted send with
// failure eviction.
//
// Modeled as a named-entity map guarded by a single mutex, generalised
// from a static machine list to a live, connect/disconnect-driven worker
// set, with a best-effort fan-out broadcast to UI connections (drop and
// evict on send failure rather than block).
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/wire"
)

// Connection is the capability a concrete transport (wsconn, or a test
// double) must provide. Send must apply the message-type compression
// policy itself is NOT required — Registry applies it before calling
// Send so that every transport gets it uniformly.
type Connection interface {
	Send(raw []byte) error
	Close() error
}

// FavoriteHooks lets the owner (the session orchestrator / daemon) react
// to favorite elections without the registry depending on guard
// config/data types directly: on election the owner pushes the current
// guard config and the last uploaded guard data to the new favorite.
type FavoriteHooks interface {
	OnFavoriteElected(workerID string)
}

// Registry is the process-wide connection registry.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*canvas.Worker
	conns   map[string]Connection

	uiConns  map[int]Connection
	nextUIID int

	favoriteID string

	hooks  FavoriteHooks
	logger *slog.Logger
}

// New returns an empty registry. hooks may be nil.
func New(hooks FavoriteHooks, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		workers: make(map[string]*canvas.Worker),
		conns:   make(map[string]Connection),
		uiConns: make(map[int]Connection),
		hooks:   hooks,
		logger:  logger,
	}
}

// Connect registers a newly connected worker, electing it favorite if no
// worker is currently connected.
func (r *Registry) Connect(id string, conn Connection, connectedAt int64) *canvas.Worker {
	r.mu.Lock()
	w := canvas.NewWorker(id, connectedAt)
	r.workers[id] = w
	r.conns[id] = conn

	electFavorite := r.favoriteID == ""
	if electFavorite {
		r.favoriteID = id
		w.IsFavorite = true
	}
	r.mu.Unlock()

	if electFavorite {
		r.logger.Info("worker elected favorite on connect", "worker_id", id)
		if r.hooks != nil {
			r.hooks.OnFavoriteElected(id)
		}
	}
	return w
}

// Disconnect removes a worker, re-electing a favorite from the remaining
// connected set if the disconnecting worker was favorite.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	delete(r.workers, id)

	wasFavorite := r.favoriteID == id
	var newFavorite string
	if wasFavorite {
		r.favoriteID = ""
		for otherID, w := range r.workers {
			r.favoriteID = otherID
			w.IsFavorite = true
			newFavorite = otherID
			break
		}
	}
	r.mu.Unlock()

	if wasFavorite && newFavorite != "" {
		r.logger.Info("favorite re-elected after disconnect", "worker_id", newFavorite)
		if r.hooks != nil {
			r.hooks.OnFavoriteElected(newFavorite)
		}
	}
}

// SetFavorite demotes the current favorite (if any) and promotes id.
// Returns an error if id is not currently connected.
func (r *Registry) SetFavorite(id string) error {
	r.mu.Lock()
	target, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("worker %q is not connected", id)
	}
	prevID := r.favoriteID
	if prev, exists := r.workers[prevID]; exists {
		prev.IsFavorite = false
	}
	target.IsFavorite = true
	r.favoriteID = id
	r.mu.Unlock()

	if prevID != "" && prevID != id {
		_ = r.SendToSlave(prevID, wire.TypeSetFavorite, wire.SetFavoritePayload{Type: wire.TypeSetFavorite, IsFavorite: false})
	}
	if r.hooks != nil {
		r.hooks.OnFavoriteElected(id)
	}
	return nil
}

// Favorite returns the current favorite worker, if any.
func (r *Registry) Favorite() (*canvas.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.favoriteID == "" {
		return nil, false
	}
	w, ok := r.workers[r.favoriteID]
	return w, ok
}

// Worker returns the worker record for id, if connected.
func (r *Registry) Worker(id string) (*canvas.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// ConnectedWorkerIDs returns the ids of all currently connected workers.
func (r *Registry) ConnectedWorkerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of every connected worker record's pointer
// (the Worker and its TelemetryBag remain live and mutable).
func (r *Registry) Snapshot() []*canvas.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*canvas.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// SendToSlave serialises msg (applying the compression policy), writes
// it to the named worker's connection, and evicts the worker on any
// write error.
func (r *Registry) SendToSlave(id string, msgType string, msg any) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %q is not connected", id)
	}

	raw, err := wire.EncodeForSend(msgType, msg)
	if err != nil {
		return fmt.Errorf("encoding message for worker %q: %w", id, err)
	}
	if err := conn.Send(raw); err != nil {
		r.logger.Warn("send to worker failed, evicting", "worker_id", id, "error", err)
		r.Disconnect(id)
		return fmt.Errorf("sending to worker %q: %w", id, err)
	}
	return nil
}

// RegisterUI adds a UI connection to the broadcast set and returns a
// handle to unregister it later.
func (r *Registry) RegisterUI(conn Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextUIID
	r.nextUIID++
	r.uiConns[id] = conn
	return id
}

// UnregisterUI removes a UI connection.
func (r *Registry) UnregisterUI(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uiConns, id)
}

// BroadcastToUI fans msg out to every registered UI connection, applying
// the compression policy once for the whole broadcast and sending the
// same encoded bytes to every recipient. Connections that fail to
// receive are evicted after the broadcast loop completes.
func (r *Registry) BroadcastToUI(msgType string, msg any) {
	raw, err := wire.EncodeForSend(msgType, msg)
	if err != nil {
		r.logger.Error("encoding UI broadcast failed", "msg_type", msgType, "error", err)
		return
	}

	r.mu.Lock()
	targets := make(map[int]Connection, len(r.uiConns))
	for id, conn := range r.uiConns {
		targets[id] = conn
	}
	r.mu.Unlock()

	var failed []int
	for id, conn := range targets {
		if err := conn.Send(raw); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	for _, id := range failed {
		delete(r.uiConns, id)
	}
	r.mu.Unlock()
}
