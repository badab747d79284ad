package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"menuboard/internal/auth"
	"menuboard/internal/autherr"
	"menuboard/internal/clientctx"
	"menuboard/internal/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// decodeJSON reads a JSON body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		message := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			message = "request body is required"
		}
		auth.WriteJSONError(w, http.StatusBadRequest, message, string(autherr.KindValidation), autherr.CodeInvalidInput)
		return false
	}
	return true
}

// clientContext returns the request's client context or writes a 500.
func clientContext(w http.ResponseWriter, r *http.Request) (*clientctx.Context, bool) {
	c, ok := middleware.GetClientContext(r.Context())
	if !ok {
		auth.WriteJSONError(w, http.StatusInternalServerError, "internal error", "server_error", "")
		return nil, false
	}
	return c, true
}
