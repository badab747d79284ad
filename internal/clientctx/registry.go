// Package clientctx keeps the per-browser state of the bootstrap protocol.
//
// A client context bundles everything one browser owns: its identity
// client, session store, pending-tenant cache, availability checkers and
// auth flow. Contexts live in a bounded, expiring in-memory cache; their
// durable parts (session token, pending tenant) are in the key/value store,
// so an evicted context is rebuilt on its next request.
package clientctx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"menuboard/internal/authflow"
	"menuboard/internal/availability"
	"menuboard/internal/identity"
	"menuboard/internal/kvstore"
	"menuboard/internal/metrics"
	"menuboard/internal/pending"
	"menuboard/internal/provisioner"
	"menuboard/internal/session"
	"menuboard/internal/tenant"
)

// DefaultSize is the number of contexts held in memory.
const DefaultSize = 10000

// ErrInvalidID is returned for a context ID that is not a UUID.
var ErrInvalidID = errors.New("invalid client context id")

// Scoper hands out key/value stores confined to a prefix.
type Scoper interface {
	Scope(prefix string) kvstore.Store
}

// Directory is the tenant directory as used by a context.
type Directory interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*tenant.Tenant, error)
	Create(ctx context.Context, ownerID uuid.UUID, handle, displayName string) (*tenant.Tenant, error)
	HandleExists(ctx context.Context, handle string) (bool, error)
}

// Config wires a Registry.
type Config struct {
	Backend   identity.Backend
	Store     Scoper
	Directory Directory
	Flow      authflow.Config
	// Debounce is the availability checker delay.
	Debounce time.Duration
	// EmailLookup reports registered emails. Nil leaves email checks at
	// syntax only.
	EmailLookup availability.LookupFunc
	Size        int
	TTL         time.Duration
	// Sealer encrypts stored values when set.
	Sealer *kvstore.Sealer
}

// Context is the state of one client.
type Context struct {
	ID          string
	Identity    *identity.Client
	Session     *session.Store
	Pending     *pending.Cache
	Provisioner *provisioner.Provisioner
	Flow        *authflow.Flow
	Handle      *availability.Checker
	Email       *availability.Checker
}

// Checker returns the availability checker for kind.
func (c *Context) Checker(kind availability.Kind) *availability.Checker {
	if kind == availability.KindEmail {
		return c.Email
	}
	return c.Handle
}

func (c *Context) close() {
	c.Flow.Close()
	c.Session.Stop()
	c.Handle.Close()
	c.Email.Close()
}

// Registry creates and caches client contexts.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	cache *lru.LRU[string, *Context]
	group singleflight.Group
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = availability.DefaultDelay
	}

	r := &Registry{
		cfg:    cfg,
		logger: logger.With("component", "clientctx"),
	}
	r.cache = lru.NewLRU[string, *Context](cfg.Size, r.onEvict, cfg.TTL)
	return r
}

// New creates a context with a fresh ID.
func (r *Registry) New(ctx context.Context) (*Context, error) {
	return r.Get(ctx, uuid.NewString())
}

// Get returns the context for id, rebuilding it from the key/value store
// when it is not in memory. A cached context whose session restore failed
// retries the restore first.
func (r *Registry) Get(ctx context.Context, id string) (*Context, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	if c, ok := r.cache.Get(id); ok {
		if err := c.Session.Restore(ctx); err != nil {
			r.logger.Debug("session restore retry failed", "context_id", id, "error", err)
		}
		return c, nil
	}

	// Concurrent first requests for one id share a single build.
	v, _, _ := r.group.Do(id, func() (any, error) {
		if c, ok := r.cache.Get(id); ok {
			return c, nil
		}
		c := r.build(ctx, id)
		r.cache.Add(id, c)
		metrics.ActiveContexts.Inc()
		return c, nil
	})
	return v.(*Context), nil
}

// Len returns the number of contexts in memory.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close stops every context.
func (r *Registry) Close() {
	r.cache.Purge()
}

func (r *Registry) build(ctx context.Context, id string) *Context {
	logger := r.logger.With("context_id", id)
	prefix := kvstore.ContextPrefix(id)
	kv := r.cfg.Store.Scope(prefix)
	if r.cfg.Sealer != nil {
		kv = r.cfg.Sealer.Wrap(kv, prefix)
	}

	client := identity.NewClient(r.cfg.Backend, kv, logger)
	store := session.NewStore(client, r.cfg.Directory, logger)
	if err := store.Start(ctx); err != nil {
		// The store reports signed out until Get retries the restore.
		logger.Warn("session restore failed", "error", err)
	}

	cache := pending.NewCache(kv, logger)
	prov := provisioner.New(store, r.cfg.Directory, cache, logger)
	handle := availability.New(availability.KindHandle, r.cfg.Directory.HandleExists, r.cfg.Debounce, logger)
	email := availability.New(availability.KindEmail, r.cfg.EmailLookup, r.cfg.Debounce, logger)

	flow := authflow.New(client, store, cache, prov, handle, r.cfg.Flow, logger)
	flow.Start()

	return &Context{
		ID:          id,
		Identity:    client,
		Session:     store,
		Pending:     cache,
		Provisioner: prov,
		Flow:        flow,
		Handle:      handle,
		Email:       email,
	}
}

func (r *Registry) onEvict(id string, c *Context) {
	c.close()
	metrics.ActiveContexts.Dec()
	r.logger.Debug("client context evicted", "context_id", id)
}
