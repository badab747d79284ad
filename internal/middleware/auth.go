// Package middleware provides HTTP middleware for menuboard.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"menuboard/internal/auth"
	"menuboard/internal/clientctx"
	"menuboard/internal/jwtauth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ClientContextKey is the context key for the resolved client context.
const ClientContextKey contextKey = "client_context"

// TokenHeader returns a freshly issued context token to non-browser clients.
const TokenHeader = "X-Context-Token"

// GetClientContext retrieves the client context from the request context.
func GetClientContext(ctx context.Context) (*clientctx.Context, bool) {
	c, ok := ctx.Value(ClientContextKey).(*clientctx.Context)
	return c, ok
}

// WithClientContext returns ctx carrying c.
func WithClientContext(ctx context.Context, c *clientctx.Context) context.Context {
	return context.WithValue(ctx, ClientContextKey, c)
}

// Resolver finds or creates client contexts.
type Resolver interface {
	Get(ctx context.Context, id string) (*clientctx.Context, error)
	New(ctx context.Context) (*clientctx.Context, error)
}

// ClientContext returns middleware that attaches the caller's client context.
//
// Resolution:
//  1. Read the context token from the cookie or the Authorization header
//  2. Verify it and resolve the named context
//  3. Without a valid token, create a context and issue a token for it
//
// A bad or expired token is not an error; the caller simply starts over with
// a new context, the way a browser with cleared storage would.
func ClientContext(reg Resolver, signer *jwtauth.Signer, secureCookie bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c := resolve(r, reg, signer, logger); c != nil {
				next.ServeHTTP(w, r.WithContext(WithClientContext(r.Context(), c)))
				return
			}

			c, err := reg.New(r.Context())
			if err != nil {
				logger.Error("failed to create client context", "error", err)
				auth.WriteJSONError(w, http.StatusInternalServerError, "internal error", "server_error", "")
				return
			}
			token, err := signer.Issue(c.ID)
			if err != nil {
				logger.Error("failed to issue context token", "error", err)
				auth.WriteJSONError(w, http.StatusInternalServerError, "internal error", "server_error", "")
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     auth.CookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   int(signer.TTL().Seconds()),
				HttpOnly: true,
				Secure:   secureCookie,
				SameSite: http.SameSiteLaxMode,
			})
			w.Header().Set(TokenHeader, token)

			next.ServeHTTP(w, r.WithContext(WithClientContext(r.Context(), c)))
		})
	}
}

func resolve(r *http.Request, reg Resolver, signer *jwtauth.Signer, logger *slog.Logger) *clientctx.Context {
	token, err := auth.ExtractContextToken(r)
	if err != nil {
		return nil
	}
	claims, err := signer.Verify(token)
	if err != nil {
		logger.Debug("discarding context token", "error", err)
		return nil
	}
	c, err := reg.Get(r.Context(), claims.ContextID())
	if err != nil {
		logger.Warn("failed to resolve client context", "context_id", claims.ContextID(), "error", err)
		return nil
	}
	return c
}
