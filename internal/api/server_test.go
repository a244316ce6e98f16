package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"activewatcher/internal/config"
	"activewatcher/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "events.sqlite3")
	return cfg
}

func TestServerServeAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, err := NewServer(testConfig(t), nil, "test")
	require.NoError(t, err)
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	base := fmt.Sprintf("http://%s", ln.Addr().String())
	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()

	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/health/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.Post(base+"/v1/state", "application/json", strings.NewReader(
		`{"bucket":"window","source":"test","ts":"2024-01-01T10:00:00Z","data":{"app":"a"}}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, err = client.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "activewatcher_store_rows 1")
	assert.Contains(t, string(body), "activewatcher_store_open_intervals 1")

	client.CloseIdleConnections()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerIsExclusive(t *testing.T) {
	cfg := testConfig(t)

	first, err := NewServer(cfg, nil, "test")
	require.NoError(t, err)
	defer first.Close()

	_, err = NewServer(cfg, nil, "test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrLocked))
}

func TestServerApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	srv, err := NewServer(cfg, nil, "test")
	require.NoError(t, err)
	defer srv.Close()

	next := cfg.Clone()
	next.Server.StaleAfterSeconds = 15
	srv.ApplyConfig(next)

	assert.Equal(t, 15*time.Second, srv.loader.StaleAfter())
}
