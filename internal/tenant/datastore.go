package tenant

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Datastore handles persistence operations for tenants.
// It performs only database operations and returns raw errors.
// Business logic and error translation belong in the Manager.
type Datastore struct {
	db *sql.DB
}

// NewDatastore creates a new tenant datastore.
func NewDatastore(db *sql.DB) *Datastore {
	return &Datastore{db: db}
}

const tenantColumns = `id, owner_id, display_name, handle, description, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	t := &Tenant{}
	if err := row.Scan(
		&t.ID, &t.OwnerID, &t.DisplayName, &t.Handle, &t.Description, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return t, nil
}

// Create inserts a new tenant. Uniqueness of owner and handle is enforced by
// the database; violations are returned as raw driver errors.
func (ds *Datastore) Create(ctx context.Context, ownerID uuid.UUID, handle, displayName, description string) (*Tenant, error) {
	now := time.Now()
	t := &Tenant{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		DisplayName: displayName,
		Handle:      handle,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO tenants (id, owner_id, display_name, handle, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := ds.db.QueryRowContext(ctx, query,
		t.ID, t.OwnerID, t.DisplayName, t.Handle, t.Description, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// GetByOwner retrieves the tenant owned by an identity.
// Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE owner_id = $1`

	return scanTenant(ds.db.QueryRowContext(ctx, query, ownerID))
}

// GetByHandle retrieves a tenant by handle, ignoring case.
// Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetByHandle(ctx context.Context, handle string) (*Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE lower(handle) = lower($1)`

	return scanTenant(ds.db.QueryRowContext(ctx, query, handle))
}

// HandleExists reports whether any tenant holds the handle, ignoring case.
func (ds *Datastore) HandleExists(ctx context.Context, handle string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM tenants WHERE lower(handle) = lower($1))`

	var exists bool
	if err := ds.db.QueryRowContext(ctx, query, handle).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpdateProfile modifies the display name and description of an owner's tenant.
// Returns rows affected count for caller to interpret.
func (ds *Datastore) UpdateProfile(ctx context.Context, ownerID uuid.UUID, displayName, description string) (int64, error) {
	query := `
		UPDATE tenants
		SET display_name = $2, description = $3, updated_at = NOW()
		WHERE owner_id = $1`

	result, err := ds.db.ExecContext(ctx, query, ownerID, displayName, description)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
