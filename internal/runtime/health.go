package runtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/iqrfgd2/daemon/internal/channel"
	"github.com/iqrfgd2/daemon/internal/cli/health"
)

// healthHandler serves GET /health on the metrics HTTP server. It reports
// unhealthy once the Channel drops out of Ready, which is the daemon's
// only externally-visible liveness signal (there is no control-plane
// registry/store the way the teacher's api/handlers.HealthHandler checks).
func (rt *Runtime) healthHandler(startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := time.Since(startedAt)
		resp := health.Response{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		resp.Data.Service = "iqrfgd2"
		resp.Data.StartedAt = startedAt.UTC().Format(time.RFC3339)
		resp.Data.Uptime = uptime.String()
		resp.Data.UptimeSec = int64(uptime.Seconds())

		status := http.StatusOK
		if rt.ch.State() != channel.Ready {
			status = http.StatusServiceUnavailable
			resp.Status = "unhealthy"
			resp.Error = "channel not ready"
		} else {
			resp.Status = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
