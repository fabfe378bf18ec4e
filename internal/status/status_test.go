package status

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/protocol"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

func get(t *testing.T, svc *Service, path string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	resp, err := svc.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	svc := New(server.New())
	code, body := get(t, svc, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestSessions(t *testing.T) {
	reg := session.New()
	for i, name := range []string{"bob", "alice"} {
		_, err := reg.Register(name, &net.TCPAddr{IP: net.IPv4(10, 0, 0, byte(i+1)), Port: 1234})
		require.NoError(t, err)
	}
	svc := New(server.New(server.WithRegistry(reg)))

	code, body := get(t, svc, "/sessions")
	require.Equal(t, http.StatusOK, code)

	var out struct {
		Count    int             `json:"count"`
		Sessions []session.Entry `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Sessions, 2)
	assert.Equal(t, "alice", out.Sessions[0].Username)
	assert.Equal(t, "10.0.0.2", out.Sessions[0].Origin)
	assert.Equal(t, "bob", out.Sessions[1].Username)
}

func TestStats(t *testing.T) {
	srv := server.New(server.WithHubCapacity(8))
	sub := srv.Hub().Subscribe()
	defer sub.Close()
	srv.Hub().Publish(protocol.NewServerMessage("ping", time.Now()), nil)

	code, body := get(t, New(srv), "/stats")
	require.Equal(t, http.StatusOK, code)

	var stats server.HubStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, server.HubStats{Subscribers: 1, Capacity: 8, Published: 1}, stats)
}

func TestUnknownRoute(t *testing.T) {
	code, _ := get(t, New(server.New()), "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}
