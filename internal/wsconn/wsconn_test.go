package wsconn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/registry"
	"github.com/andrewboldi/canvasguard/internal/wire"
)

type fakeRegistry struct {
	mu          sync.Mutex
	connectedID string
	conn        registry.Connection
	disconnects []string
	workers     map[string]*canvas.Worker
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{workers: make(map[string]*canvas.Worker)}
}

func (f *fakeRegistry) Connect(id string, conn registry.Connection, connectedAt int64) *canvas.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectedID = id
	f.conn = conn
	w := canvas.NewWorker(id, connectedAt)
	f.workers[id] = w
	return w
}

func (f *fakeRegistry) Disconnect(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, id)
}

func (f *fakeRegistry) Worker(id string) (*canvas.Worker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[id]
	return w, ok
}

type fakeResultHandler struct {
	mu      sync.Mutex
	results []wire.PaintResultPayload
	slaves  []string
}

func (f *fakeResultHandler) HandlePaintResult(result wire.PaintResultPayload, slaveID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	f.slaves = append(f.slaves, slaveID)
}

func (f *fakeResultHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func dialWorker(t *testing.T, serverURL, id string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestServeHTTP_ConnectRegistersWorker(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialWorker(t, server.URL, "worker-1")
	defer conn.Close()

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.connectedID == "worker-1"
	}, time.Second, 10*time.Millisecond)
}

func TestServeHTTP_MissingIDRejected(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeHTTP_PaintResultFrameRoutesToResultHandler(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialWorker(t, server.URL, "worker-1")
	defer conn.Close()

	payload := wire.PaintResultPayload{
		Type:      wire.TypePaintResult,
		RequestID: "req-1",
		TileX:     0,
		TileY:     0,
		Coords:    []canvas.Coord{{X: 1, Y: 1}},
		OK:        true,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool {
		return results.count() == 1
	}, time.Second, 10*time.Millisecond)

	results.mu.Lock()
	defer results.mu.Unlock()
	assert.Equal(t, "req-1", results.results[0].RequestID)
	assert.Equal(t, "worker-1", results.slaves[0])
}

func TestServeHTTP_MalformedFrameIsIgnoredNotFatal(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialWorker(t, server.URL, "worker-1")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	payload := wire.PaintResultPayload{Type: wire.TypePaintResult, RequestID: "req-2", OK: true}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool {
		return results.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServeHTTP_DisconnectNotifiesRegistry(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialWorker(t, server.URL, "worker-1")
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		for _, id := range reg.disconnects {
			if id == "worker-1" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestServeHTTP_TelemetryFrameUpdatesWorkerTelemetry(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialWorker(t, server.URL, "worker-1")
	defer conn.Close()

	payload := wire.TelemetryPayload{
		Type: wire.TypeTelemetry,
		Data: wire.TelemetryData{RemainingCharges: 42, Status: "working"},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool {
		w, ok := reg.Worker("worker-1")
		return ok && w.Telemetry.RemainingCharges() == 42
	}, time.Second, 10*time.Millisecond)

	w, ok := reg.Worker("worker-1")
	require.True(t, ok)
	assert.Equal(t, canvas.WorkerWorking, w.Status)
}

func TestServeHTTP_PreviewDataFrameUpdatesWorkerPreview(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialWorker(t, server.URL, "worker-1")
	defer conn.Close()

	payload := wire.PreviewDataPayload{
		Type: wire.TypePreviewData,
		Data: wire.PreviewData{
			Changes: []canvas.Change{{X: 3, Y: 4, Type: canvas.ChangeMissing, ExpectedColor: 1}},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool {
		w, ok := reg.Worker("worker-1")
		return ok && len(w.Telemetry.PreviewData().Changes) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConn_SendWritesTextFrame(t *testing.T) {
	reg := newFakeRegistry()
	results := &fakeResultHandler{}
	handler := NewWorkerHandler(reg, results, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	clientConn := dialWorker(t, server.URL, "worker-1")
	defer clientConn.Close()

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.conn != nil
	}, time.Second, 10*time.Millisecond)

	reg.mu.Lock()
	serverSideConn := reg.conn
	reg.mu.Unlock()

	require.NoError(t, serverSideConn.Send([]byte(`{"type":"ping"}`)))

	_, raw, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(raw))
}
