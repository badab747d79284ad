// Package auth provides HTTP authentication helpers for menuboard.
package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"menuboard/internal/autherr"
)

// CookieName is the cookie carrying the client context token.
const CookieName = "menuboard_ctx"

// Sentinel errors for token extraction failures.
// These can be used for debugging/logging but should NOT be exposed in responses.
var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthScheme = errors.New("invalid authorization scheme: expected Bearer")
	ErrEmptyToken        = errors.New("empty bearer token")
	ErrNoContextToken    = errors.New("no client context token")
)

// ExtractBearerToken extracts the token from an "Authorization: Bearer <token>" header.
// Returns an error if the header is missing, uses wrong scheme, or token is empty.
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	// Must start with "Bearer "
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", ErrInvalidAuthScheme
	}

	token := strings.TrimPrefix(authHeader, prefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// ExtractContextToken returns the client context token from the context
// cookie, falling back to a bearer token for non-browser clients.
func ExtractContextToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if token, err := ExtractBearerToken(r); err == nil {
		return token, nil
	}
	return "", ErrNoContextToken
}

// APIError is the JSON error envelope.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error message, type and code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// WriteJSONError writes a JSON error response.
// Response format: {"error": {"message": "<message>", "type": "<errorType>", "code": "<code>"}}
func WriteJSONError(w http.ResponseWriter, status int, message, errorType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Code:    code,
		},
	}); err != nil {
		slog.Error("failed to write JSON error response", "error", err)
	}
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if autherr.CodeOf(err) == autherr.CodeRateLimited {
		return http.StatusTooManyRequests
	}
	switch autherr.KindOf(err) {
	case autherr.KindValidation:
		return http.StatusBadRequest
	case autherr.KindConflict:
		return http.StatusConflict
	case autherr.KindNotAuthenticated:
		return http.StatusUnauthorized
	case autherr.KindNoPendingData:
		return http.StatusNotFound
	case autherr.KindProvider:
		var e *autherr.Error
		if !errors.As(err, &e) {
			return http.StatusInternalServerError
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err using its kind, code and user-facing message.
// Errors outside the taxonomy become a generic server error.
func WriteError(w http.ResponseWriter, err error) {
	var e *autherr.Error
	if !errors.As(err, &e) {
		WriteJSONError(w, http.StatusInternalServerError, "internal error", "server_error", "")
		return
	}
	WriteJSONError(w, StatusFor(err), e.Message, string(e.Kind), e.Code)
}

// WriteUnauthorized writes a 401 Unauthorized JSON response.
func WriteUnauthorized(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusUnauthorized, "unauthorized", string(autherr.KindNotAuthenticated), autherr.CodeSessionRequired)
}
