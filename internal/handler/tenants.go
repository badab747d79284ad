package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"menuboard/internal/auth"
	"menuboard/internal/autherr"
	"menuboard/internal/tenant"
	"menuboard/internal/validate"
)

// TenantStore is the tenant directory as used by the HTTP layer.
type TenantStore interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*tenant.Tenant, error)
	GetByHandle(ctx context.Context, handle string) (*tenant.Tenant, error)
	UpdateProfile(ctx context.Context, ownerID uuid.UUID, displayName, description string) (*tenant.Tenant, error)
}

// TenantsHandler serves tenant lookups and the owner's profile.
type TenantsHandler struct {
	tenants   TenantStore
	validator *validate.Validator
	logger    *slog.Logger
}

// NewTenantsHandler creates a new tenants handler.
func NewTenantsHandler(tenants TenantStore, logger *slog.Logger) *TenantsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantsHandler{
		tenants:   tenants,
		validator: validate.New(),
		logger:    logger.With("component", "handler"),
	}
}

// tenantResponse is the public JSON view of a tenant. The owner is never
// exposed.
type tenantResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type updateTenantRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func toTenantResponse(t *tenant.Tenant) tenantResponse {
	return tenantResponse{
		ID:          t.ID.String(),
		Handle:      t.Handle,
		DisplayName: t.DisplayName,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:   t.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func writeTenantNotFound(w http.ResponseWriter) {
	auth.WriteJSONError(w, http.StatusNotFound, "restaurant not found", "not_found", "tenant_not_found")
}

// GetByHandle handles GET /api/v1/tenants/{handle}
func (h *TenantsHandler) GetByHandle(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenants.GetByHandle(r.Context(), r.PathValue("handle"))
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeTenantNotFound(w)
			return
		}
		h.logger.Error("failed to get tenant by handle", "error", err)
		auth.WriteJSONError(w, http.StatusInternalServerError, "failed to get restaurant", "server_error", "")
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *TenantsHandler) owner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	c, ok := clientContext(w, r)
	if !ok {
		return uuid.Nil, false
	}
	ident := c.Session.Identity()
	if ident == nil {
		auth.WriteUnauthorized(w)
		return uuid.Nil, false
	}
	return ident.ID, true
}

// Mine handles GET /api/v1/tenant
func (h *TenantsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	t, err := h.tenants.GetByOwner(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeTenantNotFound(w)
			return
		}
		h.logger.Error("failed to get tenant", "owner_id", ownerID, "error", err)
		auth.WriteJSONError(w, http.StatusInternalServerError, "failed to get restaurant", "server_error", "")
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// UpdateMine handles PUT /api/v1/tenant
func (h *TenantsHandler) UpdateMine(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req updateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		var errs validate.Errors
		message := "invalid request"
		if errors.As(err, &errs) {
			message = errs.First().Message
		}
		auth.WriteJSONError(w, http.StatusBadRequest, message, string(autherr.KindValidation), autherr.CodeInvalidInput)
		return
	}

	t, err := h.tenants.UpdateProfile(r.Context(), ownerID, req.DisplayName, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			writeTenantNotFound(w)
		case errors.Is(err, tenant.ErrInvalidDisplayName):
			auth.WriteJSONError(w, http.StatusBadRequest, err.Error(), string(autherr.KindValidation), autherr.CodeDisplayNameRequired)
		default:
			h.logger.Error("failed to update tenant", "owner_id", ownerID, "error", err)
			auth.WriteJSONError(w, http.StatusInternalServerError, "failed to update restaurant", "server_error", "")
		}
		return
	}

	h.logger.Info("tenant profile updated", "tenant_id", t.ID, "owner_id", ownerID)
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}
