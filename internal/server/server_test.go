package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/leaderboard"
	"github.com/kayyshop/donorboard/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(cfg Config, latest *leaderboard.Latest, checks map[string]handler.Check) *Server {
	logger := discardLogger()
	return NewServer(cfg, Handlers{
		Health:      handler.NewHealthHandler(checks, logger),
		Leaderboard: handler.NewLeaderboardHandler(latest),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Identity:     "uid",
			Storage:      "file",
			PollInterval: time.Minute,
			StartedAt:    time.Now(),
		}),
	}, nil, logger)
}

func serve(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(Config{}, &leaderboard.Latest{}, map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	})

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok"}, body["dependencies"])
}

func TestHealthDegraded(t *testing.T) {
	s := newTestServer(Config{}, &leaderboard.Latest{}, map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
		"s3":    func(context.Context) error { return nil },
	})

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestLeaderboardBeforeFirstPublish(t *testing.T) {
	s := newTestServer(Config{}, &leaderboard.Latest{}, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	latest := &leaderboard.Latest{}
	latest.Set(leaderboard.Build(domain.NewLedger(map[string]decimal.Decimal{
		"111111111111111111": decimal.RequireFromString("10"),
		"222222222222222222": decimal.RequireFromString("25.5"),
		"333333333333333333": decimal.RequireFromString("3"),
	}), time.Unix(1700000000, 0)))
	s := newTestServer(Config{}, latest, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/leaderboard?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var snap leaderboard.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "222222222222222222", snap.Entries[0].DonorID)
	assert.Equal(t, "38.50", snap.Total.StringFixed(2))
}

func TestStatus(t *testing.T) {
	s := newTestServer(Config{}, &leaderboard.Latest{}, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"identity":"uid"`)
	assert.Contains(t, rec.Body.String(), `"poll_interval":"1m0s"`)
}

func TestAuth(t *testing.T) {
	s := newTestServer(Config{APIKey: "secret"}, &leaderboard.Latest{}, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(t, s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard?token=secret", nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, req).Code)

	// health stays public
	assert.Equal(t, http.StatusOK, serve(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(Config{CORSOrigins: []string{"https://kayyshop.example"}}, &leaderboard.Latest{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/leaderboard", nil)
	req.Header.Set("Origin", "https://kayyshop.example")
	rec := serve(t, s, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://kayyshop.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = serve(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(Config{}, &leaderboard.Latest{}, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodPost, "/api/leaderboard", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
