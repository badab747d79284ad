package handler

import (
	"net/http"

	"menuboard/internal/config"
)

// Version is the service version reported by /api/v1/status.
const Version = "0.1.0"

// statusHandler reports service identity and environment.
func statusHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":     "menuboard",
			"version":     Version,
			"status":      "operational",
			"environment": cfg.Environment,
		})
	}
}
