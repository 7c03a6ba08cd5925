package handler

import (
	"net/http"
	"time"
)

// StatusInfo describes the running instance.
type StatusInfo struct {
	Identity     string
	Storage      string
	PollInterval time.Duration
	StartedAt    time.Time
}

// StatusHandler serves static runtime information.
type StatusHandler struct {
	info StatusInfo
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(info StatusInfo) *StatusHandler {
	return &StatusHandler{info: info}
}

// GetStatus responds with the identity mode, storage backend, poll interval
// and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.info.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":       h.info.Identity,
		"storage":        h.info.Storage,
		"poll_interval":  h.info.PollInterval.String(),
		"started_at":     h.info.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": uptime,
	})
}
