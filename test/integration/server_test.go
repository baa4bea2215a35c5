package integration

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/msger/internal/server"
	"github.com/Tyrowin/msger/test/testhelpers"
)

// TestHealthEndpointIntegration tests the health endpoints on a full relay.
func TestHealthEndpointIntegration(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	for _, path := range []string{"/", "/healthz"} {
		resp := testhelpers.MakeRequest(t, http.MethodGet, relay.HTTP.URL+path)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"), path)
		assert.Equal(t, "msger server is running!", string(body), path)
	}

	resp := testhelpers.MakeRequest(t, http.MethodGet, relay.HTTP.URL+"/nonexistent")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestMetricsEndpointIntegration tests that relay activity shows up in the
// Prometheus exposition.
func TestMetricsEndpointIntegration(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)
	alice := testhelpers.Join(t, relay, "alice")
	bob := testhelpers.Join(t, relay, "bob")

	require.NoError(t, testhelpers.SendText(alice, "alice", "counted"))
	testhelpers.MustReceive(t, bob)

	resp := testhelpers.MakeRequest(t, http.MethodGet, relay.HTTP.URL+"/metrics")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "msger_sessions_active 2")
	assert.Contains(t, string(body), "msger_sessions_admitted_total 2")
	assert.Contains(t, string(body), `msger_messages_relayed_total{kind="text"} 1`)
}

// TestFullServerIntegration verifies the production HTTP server settings.
func TestFullServerIntegration(t *testing.T) {
	cfg := server.NewConfig()
	srv := server.CreateServer(cfg.Addr(), server.New(cfg, nil).Handler())

	assert.Equal(t, "127.0.0.1:2004", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
}
