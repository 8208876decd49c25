package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/infra"
	"github.com/louiswin03/crypto-platform-sub003/upstream/cache"
)

type admissionStats struct {
	Total    infra.Counters            `json:"total"`
	ByPolicy map[string]infra.Counters `json:"by_policy"`
	ByRoute  map[string]infra.Counters `json:"by_route"`
	// Shared vem do destino externo (Redis), quando configurado.
	Shared      *infra.Counters `json:"shared,omitempty"`
	SharedError string          `json:"shared_error,omitempty"`
}

type statsResponse struct {
	Cache     cache.Stats    `json:"cache"`
	Admission admissionStats `json:"admission"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Cache: s.cache.Stats(),
		Admission: admissionStats{
			Total:    s.stats.Total(),
			ByPolicy: s.stats.ByPolicy(),
			ByRoute:  s.stats.ByRoute(),
		},
	}
	if s.totals != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		total, err := s.totals(ctx)
		cancel()
		if err != nil {
			resp.Admission.SharedError = err.Error()
		} else {
			resp.Admission.Shared = &total
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
