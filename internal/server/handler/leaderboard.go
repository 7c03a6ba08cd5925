package handler

import (
	"net/http"

	"github.com/kayyshop/donorboard/internal/leaderboard"
)

// SnapshotSource returns the most recently published leaderboard.
type SnapshotSource interface {
	Get() (leaderboard.Snapshot, bool)
}

// LeaderboardHandler serves the current leaderboard as JSON.
type LeaderboardHandler struct {
	source SnapshotSource
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(source SnapshotSource) *LeaderboardHandler {
	return &LeaderboardHandler{source: source}
}

// GetLeaderboard responds with the latest snapshot, trimmed to ?limit=N
// entries when given. The totals always cover every donor.
// GET /api/leaderboard
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.source.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "leaderboard not published yet")
		return
	}
	if n := queryLimit(r); n > 0 {
		snap.Entries = snap.Top(n)
	}
	writeJSON(w, http.StatusOK, snap)
}
