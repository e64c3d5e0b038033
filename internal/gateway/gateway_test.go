// ABOUTME: Tests for gateway construction, health endpoints, auth wiring, and shutdown
// ABOUTME: Uses MockBackend and httptest recorders with scaled-down session timings

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-broker/internal/auth"
	"github.com/2389/wa-broker/internal/backend"
	"github.com/2389/wa-broker/internal/config"
	"github.com/2389/wa-broker/internal/session"
	"github.com/2389/wa-broker/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testSecret = "gateway-test-secret-that-is-32b!"

func newTestGateway(t *testing.T, mutate func(*config.Config)) (*Gateway, *backend.MockBackend) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.WhatsApp.AuthDir = t.TempDir()
	cfg.Sessions.IdleTimeout = time.Minute
	cfg.Sessions.ReadyTimeout = 200 * time.Millisecond
	cfg.Sessions.PollInterval = 10 * time.Millisecond
	cfg.Sessions.StartGrace = 50 * time.Millisecond
	cfg.Media.FetchTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	mb := backend.NewMockBackend()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger, WithBackend(mb))
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.registry.Close()
		gw.replays.Close()
	})
	return gw, mb
}

// doJSON sends body (marshaled unless it is already a string) to the gateway.
func doJSON(t *testing.T, gw *Gateway, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeResponse[map[string]string](t, rec)["error"]
}

// markReady creates the user's session and drives it to Ready.
func markReady(t *testing.T, gw *Gateway, mb *backend.MockBackend, userID string) *backend.MockClient {
	t.Helper()
	_, _, err := gw.registry.Ensure(userID)
	require.NoError(t, err)
	mc := mb.Latest(userID)
	require.NotNil(t, mc)
	mc.Emit(backend.Event{Type: backend.EventReady})
	require.Eventually(t, func() bool {
		s, ok := gw.registry.Get(userID)
		return ok && s.State() == session.StateReady
	}, waitFor, tick)
	return mc
}

func writeCredentials(t *testing.T, gw *Gateway, userID string) {
	t.Helper()
	dir, err := gw.authStore.Dir(userID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, store.DBFileName), []byte("creds"), 0600))
	require.NoError(t, gw.authStore.MarkPaired(userID))
}

func TestNew_InvalidJWTSecret(t *testing.T) {
	cfg := config.Default()
	cfg.WhatsApp.AuthDir = t.TempDir()
	cfg.Auth.JWTSecret = "too-short"

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithBackend(backend.NewMockBackend()))
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestNew_LogsStoredCredentials(t *testing.T) {
	root := t.TempDir()
	authStore, err := store.NewAuthStore(root, nil)
	require.NoError(t, err)
	dir, err := authStore.Dir("alice")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, store.DBFileName), []byte("creds"), 0600))
	require.NoError(t, authStore.MarkPaired("alice"))

	cfg := config.Default()
	cfg.WhatsApp.AuthDir = root
	var buf bytes.Buffer
	gw, err := New(cfg, slog.New(slog.NewTextHandler(&buf, nil)), WithBackend(backend.NewMockBackend()))
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.registry.Close()
		gw.replays.Close()
	})

	assert.Contains(t, buf.String(), "found stored credentials")
	assert.Contains(t, buf.String(), "resumable=1")
	assert.Equal(t, 0, gw.registry.Len(), "credentials are resumed lazily")
}

func TestHealthEndpoints(t *testing.T) {
	gw, mb := newTestGateway(t, nil)

	rec := doJSON(t, gw, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	markReady(t, gw, mb, "alice")
	_, _, err := gw.registry.Ensure("bob")
	require.NoError(t, err)

	rec = doJSON(t, gw, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2 sessions, 1 authenticated")
}

func TestHTTPAuth(t *testing.T) {
	gw, _ := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testSecret
	})

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("ops-bot", time.Hour)
	require.NoError(t, err)

	t.Run("health is open", func(t *testing.T) {
		rec := doJSON(t, gw, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("api requires token", func(t *testing.T) {
		rec := doJSON(t, gw, http.MethodGet, "/sessions", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = doJSON(t, gw, http.MethodPost, "/send-message", map[string]string{"userId": "alice"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := doJSON(t, gw, http.MethodGet, "/sessions", nil, "Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestUnknownRouteAndMethod(t *testing.T) {
	gw, _ := newTestGateway(t, nil)

	rec := doJSON(t, gw, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, gw, http.MethodGet, "/send-message", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	gw, mb := newTestGateway(t, nil)
	_, _, err := gw.registry.Ensure("alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the listener a moment to come up before shutting down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 0, gw.registry.Len())
	assert.Equal(t, 1, mb.Latest("alice").CloseCount())
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/wa-broker/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wa-broker/ts", dir)

	t.Setenv("HOME", "/home/ops")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/ops", ".local", "share", "wa-broker", "tailscale"), dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}
