package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayyshop/donorboard/internal/bus"
	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/leaderboard"
)

func snapshotOf(totals map[string]string) leaderboard.Snapshot {
	m := make(map[string]decimal.Decimal, len(totals))
	for k, v := range totals {
		m[k] = decimal.RequireFromString(v)
	}
	return leaderboard.Build(domain.NewLedger(m), time.Unix(1700000000, 0))
}

func readFrame(t *testing.T, conn *websocket.Conn) leaderboard.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)

	var env struct {
		Type    string               `json:"type"`
		Payload leaderboard.Snapshot `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "leaderboard", env.Type)
	return env.Payload
}

func TestHubPushesSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewMemory()
	latest := &leaderboard.Latest{}
	latest.Set(snapshotOf(map[string]string{"111111111111111111": "5"}))

	hub := NewHub(b, latest, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	require.Len(t, first.Entries, 1)
	assert.Equal(t, "5.00", first.Total.StringFixed(2))

	next := snapshotOf(map[string]string{"111111111111111111": "5", "222222222222222222": "7.25"})
	payload, err := json.Marshal(next)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, leaderboard.Channel, payload))

	second := readFrame(t, conn)
	require.Len(t, second.Entries, 2)
	assert.Equal(t, "222222222222222222", second.Entries[0].DonorID)
	assert.Equal(t, "12.25", second.Total.StringFixed(2))
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(bus.NewMemory(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
