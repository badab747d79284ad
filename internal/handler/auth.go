package handler

import (
	"log/slog"
	"net/http"

	"menuboard/internal/auth"
	"menuboard/internal/authflow"
	"menuboard/internal/autherr"
	"menuboard/internal/session"
)

// AuthHandler serves the bootstrap flow of the caller's client context.
type AuthHandler struct {
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{logger: logger.With("component", "handler")}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

type recoverCompleteRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type identityResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Confirmed bool   `json:"confirmed"`
}

type sessionResponse struct {
	SignedIn       bool              `json:"signed_in"`
	Loading        bool              `json:"loading"`
	Identity       *identityResponse `json:"identity"`
	ExpiresAt      string            `json:"expires_at,omitempty"`
	TenantHandle   string            `json:"tenant_handle,omitempty"`
	Flow           authflow.Snapshot `json:"flow"`
	BootstrapError *auth.ErrorDetail `json:"bootstrap_error,omitempty"`
}

func toSessionResponse(st session.State, snap authflow.Snapshot) sessionResponse {
	resp := sessionResponse{
		SignedIn:     st.SignedIn(),
		Loading:      st.Loading,
		TenantHandle: st.TenantHandle,
		Flow:         snap,
	}
	if st.Identity != nil {
		resp.Identity = &identityResponse{
			ID:        st.Identity.ID.String(),
			Email:     st.Identity.Email,
			Confirmed: st.Identity.Confirmed,
		}
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		resp.ExpiresAt = st.Session.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if b := snap.Bootstrap; b != nil && b.Err != nil && b.Err.Kind != autherr.KindNoPendingData {
		resp.BootstrapError = &auth.ErrorDetail{
			Message: b.Err.Message,
			Type:    string(b.Err.Kind),
			Code:    b.Err.Code,
		}
	}
	return resp
}

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	var req authflow.SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := c.Flow.SignUp(r.Context(), req)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.NeedsConfirmation {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := c.Flow.SignIn(r.Context(), req.Email, req.Password); err != nil {
		if autherr.CodeOf(err) == autherr.CodeEmailNotConfirmed {
			e := autherr.As(err)
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": auth.ErrorDetail{
					Message: e.Message,
					Type:    string(e.Kind),
					Code:    e.Code,
				},
				"resend_available": true,
			})
			return
		}
		auth.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(c.Session.State(), c.Flow.Snapshot()))
}

// SignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	if err := c.Flow.SignOut(r.Context()); err != nil {
		// The local session is gone either way.
		h.logger.Warn("sign-out revoke failed", "context_id", c.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resend handles POST /api/v1/auth/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	if err := c.Flow.ResendConfirmation(r.Context()); err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Flow.Snapshot())
}

// Recover handles POST /api/v1/auth/recover
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	var req recoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := c.Flow.RequestPasswordReset(r.Context(), req.Email); err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c.Flow.Snapshot())
}

// RecoverComplete handles POST /api/v1/auth/recover/complete
func (h *AuthHandler) RecoverComplete(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	var req recoverCompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := c.Flow.CompletePasswordReset(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(c.Session.State(), c.Flow.Snapshot()))
}

// Session handles GET /api/v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(c.Session.State(), c.Flow.Snapshot()))
}

// Bootstrap handles POST /api/v1/auth/bootstrap, retrying provisioning.
func (h *AuthHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	b, err := c.Flow.Bootstrap(r.Context())
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	if b != nil && b.Err != nil {
		auth.WriteError(w, b.Err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(c.Session.State(), c.Flow.Snapshot()))
}
