package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/reportalin/reportalin-mcp/internal/mcp"
)

// handleHealth reports liveness. Always 200 once the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        mcp.ServerVersion,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleReady reports readiness: 200 only when a snapshot is loaded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.store.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "loading",
		})
		return
	}
	snap := s.store.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ready",
		"active_sessions": s.manager.Count(),
		"loaded_at":       snap.LoadedAt.UTC().Format(time.RFC3339),
		"cleaned_tables":  len(snap.Cleaned),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
