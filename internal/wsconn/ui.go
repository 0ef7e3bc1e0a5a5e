package wsconn

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/andrewboldi/canvasguard/internal/registry"
)

// UIRegistry is the subset of the connection registry the UI handler
// needs: registering/unregistering a broadcast sink and assembling the
// initial_state snapshot pushed to it on connect.
type UIRegistry interface {
	RegisterUI(conn registry.Connection) int
	UnregisterUI(id int)
	BuildUISnapshot(ctx context.Context, lister registry.ProjectSessionLister, guardData registry.GuardDataReader) (registry.UISnapshot, error)
}

// UIHandler upgrades an inbound HTTP request to a UI WebSocket
// connection, registers it as a broadcast sink, pushes one initial_state
// snapshot, and then reads (and discards) frames until disconnect — the
// UI has nothing to send the daemon beyond its initial handshake.
type UIHandler struct {
	registry  UIRegistry
	lister    registry.ProjectSessionLister
	guardData registry.GuardDataReader
	logger    *slog.Logger
}

// NewUIHandler returns a handler wired to reg, lister, and guardData.
// guardData may be nil if no guard-data push path is configured.
func NewUIHandler(reg UIRegistry, lister registry.ProjectSessionLister, guardData registry.GuardDataReader, logger *slog.Logger) *UIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UIHandler{registry: reg, lister: lister, guardData: guardData, logger: logger}
}

// ServeHTTP upgrades the connection, registers it, sends the initial
// state snapshot, and blocks reading (and discarding) frames until the
// socket closes.
func (h *UIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ui websocket upgrade failed", "error", err)
		return
	}

	conn := New(ws)
	id := h.registry.RegisterUI(conn)
	defer h.registry.UnregisterUI(id)

	snapshot, err := h.registry.BuildUISnapshot(r.Context(), h.lister, h.guardData)
	if err != nil {
		h.logger.Warn("assembling initial UI state failed", "error", err)
	} else if raw, err := json.Marshal(snapshot); err != nil {
		h.logger.Warn("encoding initial UI state failed", "error", err)
	} else if err := conn.Send(raw); err != nil {
		h.logger.Info("ui connection closed before initial state was sent", "error", err)
		return
	}

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.logger.Info("ui connection closed", "error", err)
			return
		}
	}
}
