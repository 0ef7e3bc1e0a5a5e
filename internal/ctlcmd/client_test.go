package ctlcmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestDaemon(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	prev := daemonAddr
	daemonAddr = server.URL
	t.Cleanup(func() { daemonAddr = prev })
}

func TestPostJSON_SendsBodyAndDecodesResponse(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	withTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	var resp map[string]string
	err := postJSON("/api/sessions/sess-1/start", map[string]string{"note": "hi"}, &resp)
	require.NoError(t, err)

	assert.Equal(t, "/api/sessions/sess-1/start", gotPath)
	assert.Equal(t, "hi", gotBody["note"])
	assert.Equal(t, "ok", resp["status"])
}

func TestPostJSON_NonSuccessStatusReturnsError(t *testing.T) {
	withTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	})

	err := postJSON("/api/sessions/sess-1/start", nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
}

func TestSessionStartCmd_CallsExpectedEndpoint(t *testing.T) {
	var gotPath string
	withTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	})

	require.NoError(t, sessionStartCmd.RunE(sessionStartCmd, []string{"sess-1"}))
	assert.Equal(t, "/api/sessions/sess-1/start", gotPath)
}
