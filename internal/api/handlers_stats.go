package api

import (
	"net/http"

	"github.com/dgallion1/docoutline/internal/pipeline"
)

type statsResponse struct {
	QueueDepth   int                                         `json:"queue_depth"`
	Latency      map[pipeline.JobKind]pipeline.StatsSnapshot `json:"latency"`
	CacheEntries *int                                        `json:"cache_entries,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		QueueDepth: s.orchestrator.QueueDepth(),
		Latency:    s.orchestrator.Stats(),
	}
	if s.cache != nil {
		n, err := s.cache.Len(r.Context())
		if err != nil {
			s.log.Warn("cache count failed", "error", err)
		} else {
			resp.CacheEntries = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
