package api

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// HealthResponse is the JSON response for the /health endpoint
type HealthResponse struct {
	Status  string    `json:"status"`
	Uptime  string    `json:"uptime"`
	Block   uint64    `json:"block"`
	Time    time.Time `json:"time"`
	Worker  bool      `json:"worker"`
	Version string    `json:"version"`
	Reason  string    `json:"reason,omitempty"`
}

// handleHealthCheck handles GET /health for load balancer health checks. A node
// without a relay worker can still serve reads, so it reports degraded
// rather than unhealthy.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	state := s.backend.State()
	resp := HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Block:   state.BlockNumber(),
		Time:    state.Now(),
		Worker:  s.backend.Worker() != (common.Address{}),
		Version: Version,
	}

	var deprecated bool
	state.View(func() { deprecated = s.backend.Hub().IsDeprecated(resp.Time) })
	switch {
	case deprecated:
		resp.Status = "unhealthy"
		resp.Reason = "relay hub is deprecated"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	case !resp.Worker:
		resp.Status = "degraded"
		resp.Reason = "no relay worker configured"
	}
	s.writeJSON(w, http.StatusOK, resp)
}
