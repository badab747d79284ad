package handler

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"menuboard/internal/config"
)

// Deps holds what the routes need.
type Deps struct {
	Config *config.Config
	// ClientContext attaches the caller's client context.
	ClientContext func(http.Handler) http.Handler
	Tenants       TenantStore
	Health        map[string]HealthFunc
	Logger        *slog.Logger
}

// RegisterRoutes registers all HTTP routes with the provided mux.
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Health, status and metrics (no client context)
	mux.HandleFunc("GET /health", healthHandler(deps.Health, logger))
	mux.HandleFunc("GET /api/v1/status", statusHandler(deps.Config))
	mux.Handle("GET /metrics", promhttp.Handler())

	tenants := NewTenantsHandler(deps.Tenants, logger)
	mux.HandleFunc("GET /api/v1/tenants/{handle}", tenants.GetByHandle)

	authH := NewAuthHandler(logger)
	withCtx := func(h http.HandlerFunc) http.Handler {
		return deps.ClientContext(h)
	}

	mux.Handle("POST /api/v1/auth/signup", withCtx(authH.SignUp))
	mux.Handle("POST /api/v1/auth/signin", withCtx(authH.SignIn))
	mux.Handle("POST /api/v1/auth/signout", withCtx(authH.SignOut))
	mux.Handle("POST /api/v1/auth/resend", withCtx(authH.Resend))
	mux.Handle("POST /api/v1/auth/recover", withCtx(authH.Recover))
	mux.Handle("POST /api/v1/auth/recover/complete", withCtx(authH.RecoverComplete))
	mux.Handle("POST /api/v1/auth/bootstrap", withCtx(authH.Bootstrap))
	mux.Handle("GET /api/v1/auth/session", withCtx(authH.Session))

	mux.Handle("POST /api/v1/availability/{kind}", withCtx(UpdateAvailability))
	mux.Handle("GET /api/v1/availability/{kind}", withCtx(GetAvailability))

	mux.Handle("GET /api/v1/tenant", withCtx(tenants.Mine))
	mux.Handle("PUT /api/v1/tenant", withCtx(tenants.UpdateMine))
}
