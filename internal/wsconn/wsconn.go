// Package wsconn is the concrete gorilla/websocket transport: a
// registry.Connection implementation guarding concurrent writes with a
// mutex (gorilla/websocket connections are not safe for concurrent
// writers), plus an HTTP upgrade handler that reads inbound frames and
// routes them by message type.
package wsconn

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/registry"
	"github.com/andrewboldi/canvasguard/internal/wire"
)

// Conn wraps a *websocket.Conn as a registry.Connection, serialising
// writes behind a mutex.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// New wraps an already-upgraded websocket connection.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes one text frame. Safe for concurrent invocation.
func (c *Conn) Send(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Registry is the subset of the connection registry the inbound handler
// needs.
type Registry interface {
	Connect(id string, conn registry.Connection, connectedAt int64) *canvas.Worker
	Disconnect(id string)
	Worker(id string) (*canvas.Worker, bool)
}

// ResultHandler is notified when a paint_result message arrives; the
// orchestrator implements this to close the dispatch feedback loop.
type ResultHandler interface {
	HandlePaintResult(result wire.PaintResultPayload, slaveID string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WorkerHandler upgrades an inbound HTTP request to a worker WebSocket
// connection, registers it, and reads frames until disconnect.
type WorkerHandler struct {
	registry Registry
	results  ResultHandler
	logger   *slog.Logger
	nowFunc  func() int64
}

// NewWorkerHandler returns a handler wired to registry and results.
func NewWorkerHandler(registry Registry, results ResultHandler, logger *slog.Logger) *WorkerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerHandler{
		registry: registry,
		results:  results,
		logger:   logger,
		nowFunc:  func() int64 { return time.Now().Unix() },
	}
}

// ServeHTTP upgrades the connection, identified by the "id" query
// parameter, and blocks reading frames until the socket closes.
func (h *WorkerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("id")
	if workerID == "" {
		http.Error(w, "missing id query parameter", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "worker_id", workerID, "error", err)
		return
	}

	conn := New(ws)
	h.registry.Connect(workerID, conn, h.nowFunc())
	defer h.registry.Disconnect(workerID)

	h.readLoop(r.Context(), workerID, ws)
}

func (h *WorkerHandler) readLoop(ctx context.Context, workerID string, ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.logger.Info("worker connection closed", "worker_id", workerID, "error", err)
			return
		}

		decoded, err := wire.DecodeInbound(raw)
		if err != nil {
			h.logger.Warn("failed to decode inbound frame", "worker_id", workerID, "error", err)
			continue
		}

		h.dispatch(workerID, decoded)
	}
}

func (h *WorkerHandler) dispatch(workerID string, raw []byte) {
	var envelope wire.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.logger.Warn("failed to parse inbound envelope", "worker_id", workerID, "error", err)
		return
	}

	switch envelope.Type {
	case wire.TypePaintResult:
		var payload wire.PaintResultPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.logger.Warn("failed to parse paint_result", "worker_id", workerID, "error", err)
			return
		}
		h.results.HandlePaintResult(payload, workerID)

	case wire.TypeTelemetry:
		var payload wire.TelemetryPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.logger.Warn("failed to parse telemetry", "worker_id", workerID, "error", err)
			return
		}
		w, ok := h.registry.Worker(workerID)
		if !ok {
			return
		}
		w.Telemetry.SetRemainingCharges(payload.Data.RemainingCharges)
		w.LastSeenAt = h.nowFunc()
		if payload.Data.Status != "" {
			w.Status = canvas.WorkerStatus(payload.Data.Status)
		}

	case wire.TypePreviewData:
		var payload wire.PreviewDataPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.logger.Warn("failed to parse preview_data", "worker_id", workerID, "error", err)
			return
		}
		w, ok := h.registry.Worker(workerID)
		if !ok {
			return
		}
		w.Telemetry.SetPreview(payload.Data.ToPreview(), h.nowFunc())

	case wire.TypeStatus:
		var envelopeWithStatus struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &envelopeWithStatus); err != nil {
			h.logger.Warn("failed to parse status", "worker_id", workerID, "error", err)
			return
		}
		w, ok := h.registry.Worker(workerID)
		if !ok {
			return
		}
		w.Status = canvas.WorkerStatus(envelopeWithStatus.Status)
		w.LastSeenAt = h.nowFunc()

	default:
		// repair_ack/repair_progress/repair_complete/repair_error are
		// acknowledgements of manual guardControl commands; nothing in
		// the orchestration loop currently consumes them.
	}
}
