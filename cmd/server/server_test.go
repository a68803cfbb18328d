package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/roomkit/internal/config"
)

func testConfig(t *testing.T, origins ...string) *config.Config {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &config.Config{
		Port:                "0",
		DatabaseURL:         "file:" + t.Name() + "?mode=memory&cache=shared",
		RedisTimeout:        time.Second,
		JWTSecret:           "secret",
		AccessTokenExpires:  time.Hour,
		BackendBaseURL:      "http://localhost:8080",
		CORSOrigins:         origins,
		PresenceGracePeriod: time.Second,
		PongTimeout:         20 * time.Second,
		GinMode:             gin.TestMode,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Hub.Stop()
		_ = srv.Runner.Stop(context.Background())
		_ = srv.DB.Close()
	})
	return srv
}

func TestServerWithoutRedisOrGoogle(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	assert.Nil(t, srv.Redis)

	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google/start", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"google_oauth_not_configured"}`, w.Body.String())
}

func TestTimeThroughRouter(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/time?clientTimestamp=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clientTimestamp":1`)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, testConfig(t, "https://app.example.com"))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/room.create", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		w := httptest.NewRecorder()
		srv.Router.ServeHTTP(w, req)
		return w
	}

	ok := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, ok.Code)
	assert.Equal(t, "https://app.example.com", ok.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, denied.Code)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "redis://***@cache:6379/0", redactURL("redis://user:pw@cache:6379/0"))
	assert.Equal(t, "nats://localhost:4222", redactURL("nats://localhost:4222"))
}
