package httpapi

import "net/http"

// handlePerfLatency serves the recent cycle latency window. reset=1 clears
// it after the snapshot is taken.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.SnapshotLatency()
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetLatency()
	}
	respondJSON(w, http.StatusOK, snap)
}
