package handler

import (
	"net/http"

	"menuboard/internal/auth"
	"menuboard/internal/autherr"
	"menuboard/internal/availability"
)

type availabilityRequest struct {
	Value string `json:"value"`
}

func checkerKind(w http.ResponseWriter, r *http.Request) (availability.Kind, bool) {
	kind, ok := availability.ParseKind(r.PathValue("kind"))
	if !ok {
		auth.WriteJSONError(w, http.StatusNotFound, "unknown availability check", string(autherr.KindValidation), autherr.CodeInvalidInput)
		return "", false
	}
	return kind, true
}

// UpdateAvailability handles POST /api/v1/availability/{kind}
// It feeds the latest input to the context's checker and returns the
// immediate result; the settled result is read with GET.
func UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	kind, ok := checkerKind(w, r)
	if !ok {
		return
	}
	c, ok := clientContext(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, c.Checker(kind).Update(req.Value))
}

// GetAvailability handles GET /api/v1/availability/{kind}
func GetAvailability(w http.ResponseWriter, r *http.Request) {
	kind, ok := checkerKind(w, r)
	if !ok {
		return
	}
	c, ok := clientContext(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, c.Checker(kind).Result())
}
