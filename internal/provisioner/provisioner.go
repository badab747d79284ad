// Package provisioner makes sure the signed-in owner has a tenant.
package provisioner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"menuboard/internal/autherr"
	"menuboard/internal/identity"
	"menuboard/internal/metrics"
	"menuboard/internal/pending"
	"menuboard/internal/tenant"
)

var tracer = otel.Tracer("menuboard/provisioner")

// Directory is the tenant directory.
type Directory interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*tenant.Tenant, error)
	Create(ctx context.Context, ownerID uuid.UUID, handle, displayName string) (*tenant.Tenant, error)
}

// Session exposes the signed-in identity and receives the tenant handle.
type Session interface {
	Identity() *identity.Identity
	SetTenantHandle(handle string)
}

// PendingStore is the staged sign-up data of the client context.
type PendingStore interface {
	Read(ctx context.Context) (pending.Record, bool, error)
	Clear(ctx context.Context) error
}

// Result is the outcome of EnsureTenantExists. Created is true only for the
// call that inserted the tenant record.
type Result struct {
	Created bool
	Err     *autherr.Error
}

// Provisioner creates the owner's tenant from staged sign-up data.
type Provisioner struct {
	session Session
	dir     Directory
	pending PendingStore
	logger  *slog.Logger
}

// New creates a Provisioner.
func New(session Session, dir Directory, pending PendingStore, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		session: session,
		dir:     dir,
		pending: pending,
		logger:  logger.With("component", "provisioner"),
	}
}

// EnsureTenantExists reuses the owner's tenant or creates it from the staged
// record. It is safe to call repeatedly and concurrently; the directory's
// unique constraint on the owner decides concurrent creations.
func (p *Provisioner) EnsureTenantExists(ctx context.Context) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "EnsureTenantExists")
	defer span.End()

	res, outcome := p.ensure(ctx, span)

	span.SetAttributes(
		attribute.String("provision.outcome", outcome),
		attribute.Bool("provision.created", res.Created),
	)
	if res.Err != nil && res.Err.Kind != autherr.KindNoPendingData {
		span.SetStatus(codes.Error, string(res.Err.Kind))
	}
	metrics.RecordProvision(outcome, time.Since(start).Seconds())

	return res
}

func (p *Provisioner) ensure(ctx context.Context, span trace.Span) (Result, string) {
	ident := p.session.Identity()
	if ident == nil {
		return Result{Err: autherr.New(autherr.KindNotAuthenticated, autherr.CodeSessionRequired,
			"you need to be signed in to do that")}, "not_authenticated"
	}
	span.SetAttributes(attribute.String("owner.id", ident.ID.String()))
	logger := p.logger.With("owner_id", ident.ID)

	existing, err := p.dir.GetByOwner(ctx, ident.ID)
	if err == nil {
		p.session.SetTenantHandle(existing.Handle)
		return Result{}, "existing"
	}
	if !errors.Is(err, tenant.ErrNotFound) {
		logger.Error("tenant lookup failed", "error", err)
		span.RecordError(err)
		return Result{Err: providerError(err)}, "lookup_failed"
	}

	rec, ok, err := p.pending.Read(ctx)
	if err != nil {
		logger.Error("pending tenant unreadable", "error", err)
		span.RecordError(err)
		return Result{Err: providerError(err)}, "pending_unavailable"
	}
	if !ok {
		return Result{Err: autherr.New(autherr.KindNoPendingData, autherr.CodeNoPendingData,
			"no restaurant details are waiting to be set up")}, "no_pending_data"
	}

	created, err := p.dir.Create(ctx, ident.ID, rec.Handle, rec.DisplayName)
	switch {
	case err == nil:
		p.clearPending(ctx, logger)
		p.session.SetTenantHandle(created.Handle)
		logger.Info("tenant provisioned", "tenant_id", created.ID, "handle", created.Handle)
		return Result{Created: true}, "created"

	case errors.Is(err, tenant.ErrOwnerExists):
		// Another caller won the race for this owner.
		p.clearPending(ctx, logger)
		winner, lookupErr := p.dir.GetByOwner(ctx, ident.ID)
		if lookupErr != nil {
			logger.Error("tenant re-fetch after race failed", "error", lookupErr)
			span.RecordError(lookupErr)
			return Result{Err: providerError(lookupErr)}, "lookup_failed"
		}
		p.session.SetTenantHandle(winner.Handle)
		return Result{}, "raced"

	case errors.Is(err, tenant.ErrHandleRequired),
		errors.Is(err, tenant.ErrHandleChars),
		errors.Is(err, tenant.ErrHandleTooShort),
		errors.Is(err, tenant.ErrInvalidDisplayName):
		// The staged record can never succeed; drop it.
		logger.Warn("discarding unusable pending tenant", "handle", rec.Handle, "error", err)
		p.clearPending(ctx, logger)
		code := autherr.CodeHandleInvalid
		if errors.Is(err, tenant.ErrInvalidDisplayName) {
			code = autherr.CodeDisplayNameRequired
		}
		return Result{Err: autherr.Wrap(autherr.KindValidation, code, err.Error(), err)}, "invalid_pending_data"

	case errors.Is(err, tenant.ErrHandleTaken):
		logger.Info("staged handle already taken", "handle", rec.Handle)
		return Result{Err: autherr.Wrap(autherr.KindConflict, autherr.CodeHandleTaken, err.Error(), err)}, "handle_taken"

	default:
		logger.Error("tenant creation failed", "error", err)
		span.RecordError(err)
		return Result{Err: providerError(err)}, "create_failed"
	}
}

func (p *Provisioner) clearPending(ctx context.Context, logger *slog.Logger) {
	if err := p.pending.Clear(ctx); err != nil {
		logger.Warn("failed to clear pending tenant", "error", err)
	}
}

func providerError(err error) *autherr.Error {
	return autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
		"something went wrong, please try again later", err)
}
