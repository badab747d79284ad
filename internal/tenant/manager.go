package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"menuboard/internal/database"
)

// Constraint names from migrations/000001_create_tenants.up.sql.
const (
	constraintOwnerUnique  = "tenants_owner_id_key"
	constraintHandleUnique = "tenants_handle_lower_idx"
	constraintHandleFormat = "tenants_handle_format"
)

// Domain errors returned by the Manager.
var (
	ErrNotFound           = errors.New("tenant not found")
	ErrInvalidDisplayName = errors.New("restaurant name is required")
	ErrOwnerExists        = errors.New("owner already has a tenant")
	ErrHandleTaken        = errors.New("this handle is already taken")
)

// Manager handles business logic for tenants.
// It coordinates operations and translates datastore errors to domain errors.
type Manager struct {
	ds *Datastore
}

// NewManager creates a new tenant manager.
func NewManager(ds *Datastore) *Manager {
	return &Manager{ds: ds}
}

// Create provisions a tenant for ownerID. The handle is stored lower-cased.
// Returns ErrOwnerExists or ErrHandleTaken when the corresponding unique
// constraint rejects the insert.
func (m *Manager) Create(ctx context.Context, ownerID uuid.UUID, handle, displayName string) (*Tenant, error) {
	if err := ValidateHandle(handle); err != nil {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidDisplayName
	}

	t, err := m.ds.Create(ctx, ownerID, NormalizeHandle(handle), displayName, DefaultDescription(displayName))
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case constraintOwnerUnique:
				return nil, ErrOwnerExists
			case constraintHandleUnique:
				return nil, ErrHandleTaken
			}
		}
		if constraint, ok := database.CheckViolation(err); ok && constraint == constraintHandleFormat {
			return nil, ErrHandleChars
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	return t, nil
}

// GetByOwner retrieves the tenant owned by ownerID.
func (m *Manager) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*Tenant, error) {
	t, err := m.ds.GetByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetByHandle retrieves a tenant by handle, ignoring case.
func (m *Manager) GetByHandle(ctx context.Context, handle string) (*Tenant, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return nil, ErrNotFound
	}

	t, err := m.ds.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// HandleExists reports whether the handle is already claimed.
func (m *Manager) HandleExists(ctx context.Context, handle string) (bool, error) {
	exists, err := m.ds.HandleExists(ctx, NormalizeHandle(handle))
	if err != nil {
		return false, fmt.Errorf("failed to check handle: %w", err)
	}
	return exists, nil
}

// UpdateProfile changes the display name and description of an owner's tenant.
func (m *Manager) UpdateProfile(ctx context.Context, ownerID uuid.UUID, displayName, description string) (*Tenant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidDisplayName
	}

	rowsAffected, err := m.ds.UpdateProfile(ctx, ownerID, displayName, strings.TrimSpace(description))
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return m.GetByOwner(ctx, ownerID)
}
