// Package session holds the authentication state of one client context.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"menuboard/internal/identity"
	"menuboard/internal/tenant"
)

const taskQueueSize = 32

// ErrStopped is returned when work is posted to a stopped store.
var ErrStopped = errors.New("session store stopped")

// State is a snapshot of the store.
type State struct {
	Identity     *identity.Identity
	Session      *identity.Session
	Loading      bool
	TenantHandle string
	// Version increases with every change. Subscribers may see snapshots
	// out of order and should drop one older than the last they handled.
	Version uint64
}

// SignedIn reports whether the state carries an identity.
func (s State) SignedIn() bool {
	return s.Identity != nil
}

// TenantLookup finds the tenant owned by an identity.
type TenantLookup interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*tenant.Tenant, error)
}

// Task is deferred work run on the store's worker goroutine.
type Task func(ctx context.Context)

// Store tracks identity, session and tenant handle for a client context.
//
// Provider notifications update the state synchronously. Anything that needs
// the provider or the directory runs later on a single worker goroutine, so
// deferred tasks execute one at a time in posting order.
type Store struct {
	provider identity.Provider
	tenants  TenantLookup
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	nextSub int
	subs    map[int]func(State)
	started bool
	stopped bool
	// restoreFailed is set while the last session load failed and no
	// provider notification has replaced its result.
	restoreFailed bool

	unsubscribeProvider func()
	tasks               chan Task
	ctx                 context.Context
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
}

// NewStore creates a store. Call Start before use.
func NewStore(provider identity.Provider, tenants TenantLookup, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		provider: provider,
		tenants:  tenants,
		logger:   logger.With("component", "session"),
		subs:     make(map[int]func(State)),
		tasks:    make(chan Task, taskQueueSize),
	}
}

// Start subscribes to provider notifications and loads the current session.
// The store stays usable when loading fails; it then reports signed out.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.state.Loading = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	unsubscribe := s.provider.OnAuthStateChange(s.handleAuthChange)
	s.mu.Lock()
	s.unsubscribeProvider = unsubscribe
	s.mu.Unlock()

	current, err := s.provider.GetSession(ctx)
	if err != nil {
		s.logger.Warn("failed to load session", "error", err)
		s.mu.Lock()
		s.restoreFailed = true
		s.mu.Unlock()
		s.apply(nil)
		return err
	}
	s.apply(current)
	return nil
}

// Restore loads the session again when the last load failed. It does
// nothing once a load succeeded or a provider notification arrived.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	retry := s.started && !s.stopped && s.restoreFailed
	s.mu.Unlock()
	if !retry {
		return nil
	}

	current, err := s.provider.GetSession(ctx)
	if err != nil {
		s.logger.Warn("failed to reload session", "error", err)
		return err
	}

	s.mu.Lock()
	if !s.restoreFailed {
		s.mu.Unlock()
		return nil
	}
	s.restoreFailed = false
	s.mu.Unlock()

	s.apply(current)
	return nil
}

// RestoreFailed reports whether the last session load failed.
func (s *Store) RestoreFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreFailed
}

// Stop unsubscribes from the provider and stops the worker. Tasks still
// queued are dropped.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	unsubscribe := s.unsubscribeProvider
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the signed-in identity, or nil.
func (s *Store) Identity() *identity.Identity {
	return s.State().Identity
}

// Subscribe registers fn to receive every state change. fn runs without the
// store lock held, on the goroutine that caused the change; it must not block.
// Changes racing on different goroutines can arrive out of order, see
// State.Version.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SetTenantHandle records the handle of the signed-in owner's tenant.
func (s *Store) SetTenantHandle(handle string) {
	s.mu.Lock()
	if s.state.Identity == nil || s.state.TenantHandle == handle {
		s.mu.Unlock()
		return
	}
	s.state.TenantHandle = handle
	s.state.Version++
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)
}

// Defer queues task on the worker goroutine.
func (s *Store) Defer(task Task) error {
	s.mu.Lock()
	stopped := s.stopped || !s.started
	ctx := s.ctx
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	select {
	case s.tasks <- task:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Sync waits until every task queued before the call has run.
func (s *Store) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.Defer(func(context.Context) { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			task(s.ctx)
		}
	}
}

func (s *Store) handleAuthChange(event identity.Event, session *identity.Session) {
	s.logger.Debug("auth state changed", "event", string(event), "signed_in", session != nil)
	s.mu.Lock()
	s.restoreFailed = false
	s.mu.Unlock()
	s.apply(session)
}

// apply replaces identity and session. The tenant handle is cleared at once
// on sign-out and re-fetched on the worker otherwise.
func (s *Store) apply(session *identity.Session) {
	s.mu.Lock()
	previous := s.state.Identity
	s.state.Loading = false
	s.state.Session = session
	if session == nil {
		s.state.Identity = nil
		s.state.TenantHandle = ""
	} else {
		ident := session.Identity
		s.state.Identity = &ident
		if previous == nil || previous.ID != ident.ID {
			s.state.TenantHandle = ""
		}
	}
	s.state.Version++
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)

	if snapshot.Identity != nil {
		ownerID := snapshot.Identity.ID
		if err := s.Defer(func(ctx context.Context) { s.fetchTenantHandle(ctx, ownerID) }); err != nil {
			s.logger.Debug("tenant handle fetch not scheduled", "error", err)
		}
	}
}

func (s *Store) fetchTenantHandle(ctx context.Context, ownerID uuid.UUID) {
	t, err := s.tenants.GetByOwner(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			s.logger.Warn("failed to fetch tenant handle", "owner_id", ownerID, "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.state.Identity == nil || s.state.Identity.ID != ownerID || s.state.TenantHandle == t.Handle {
		s.mu.Unlock()
		return
	}
	s.state.TenantHandle = t.Handle
	s.state.Version++
	snapshot := s.state
	s.mu.Unlock()

	s.publish(snapshot)
}

func (s *Store) publish(state State) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
