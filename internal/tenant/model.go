package tenant

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinHandleLength is the shortest handle a tenant may claim.
const MinHandleLength = 3

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Handle validation errors. Their messages are shown to end users.
var (
	ErrHandleRequired = errors.New("restaurant handle is required")
	ErrHandleChars    = errors.New("handle can only contain letters, numbers, hyphens, and underscores")
	ErrHandleTooShort = errors.New("handle must be at least 3 characters")
)

// Tenant is a restaurant. Each owner has at most one, and its handle routes
// the public menu.
type Tenant struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	DisplayName string
	Handle      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeHandle trims and lower-cases a handle. Handles are compared and
// stored in this form.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// ValidateHandle checks the syntax of a candidate handle. Surrounding
// whitespace is not stripped.
func ValidateHandle(handle string) error {
	switch {
	case strings.TrimSpace(handle) == "":
		return ErrHandleRequired
	case !handlePattern.MatchString(handle):
		return ErrHandleChars
	case len(handle) < MinHandleLength:
		return ErrHandleTooShort
	}
	return nil
}

// DefaultDescription is the description a freshly provisioned tenant starts with.
func DefaultDescription(displayName string) string {
	return strings.TrimSpace(displayName) + " restaurant - serving the finest dishes"
}
