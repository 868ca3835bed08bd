package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
)

var startTime = time.Now()

// Version is reported by /healthz and overridden at build time.
var Version = "0.1.0"

// HealthHandler serves the /healthz endpoint.
type HealthHandler struct {
	cfgMgr   *config.Manager
	reporter Reporter
}

func NewHealthHandler(cfgMgr *config.Manager, reporter Reporter) *HealthHandler {
	return &HealthHandler{cfgMgr: cfgMgr, reporter: reporter}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgMgr.Get()
	resp := map[string]interface{}{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"endpoint_count": len(cfg.Endpoints),
	}
	if h.reporter != nil {
		if last := h.reporter.Latest(); last != nil {
			resp["last_pass"] = last.StartedAt.Unix()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
