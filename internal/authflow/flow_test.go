package authflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menuboard/internal/autherr"
	"menuboard/internal/availability"
	"menuboard/internal/identity"
	"menuboard/internal/identity/identitytest"
	"menuboard/internal/kvstore/kvstoretest"
	"menuboard/internal/logger"
	"menuboard/internal/pending"
	"menuboard/internal/provisioner"
	"menuboard/internal/session"
	"menuboard/internal/tenant"
)

// memDirectory applies the uniqueness and format rules of the tenants table.
type memDirectory struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*tenant.Tenant
	creates int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{tenants: make(map[uuid.UUID]*tenant.Tenant)}
}

func (d *memDirectory) GetByOwner(_ context.Context, ownerID uuid.UUID) (*tenant.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[ownerID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (d *memDirectory) Create(_ context.Context, ownerID uuid.UUID, handle, displayName string) (*tenant.Tenant, error) {
	if err := tenant.ValidateHandle(handle); err != nil {
		return nil, err
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, tenant.ErrInvalidDisplayName
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	if _, ok := d.tenants[ownerID]; ok {
		return nil, tenant.ErrOwnerExists
	}
	for _, t := range d.tenants {
		if strings.EqualFold(t.Handle, handle) {
			return nil, tenant.ErrHandleTaken
		}
	}
	t := &tenant.Tenant{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Handle:      strings.ToLower(handle),
		DisplayName: displayName,
		Description: tenant.DefaultDescription(displayName),
	}
	d.tenants[ownerID] = t
	cp := *t
	return &cp, nil
}

func (d *memDirectory) all() []tenant.Tenant {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, *t)
	}
	return out
}

type countingProvisioner struct {
	inner *provisioner.Provisioner
	mu    sync.Mutex
	calls int
}

func (c *countingProvisioner) EnsureTenantExists(ctx context.Context) provisioner.Result {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.EnsureTenantExists(ctx)
}

func (c *countingProvisioner) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixedHandleStatus struct {
	status availability.Status
}

func (f fixedHandleStatus) Result() availability.Result {
	return availability.Result{Status: f.status}
}

type harness struct {
	backend *identitytest.Backend
	dir     *memDirectory
	store   *session.Store
	cache   *pending.Cache
	prov    *countingProvisioner
	clock   *fakeClock
	flow    *Flow
}

func newHarness(t *testing.T, requireConfirmation bool, handles HandleStatus) *harness {
	t.Helper()

	log := logger.Discard()
	backend := identitytest.New()
	backend.RequireConfirmation = requireConfirmation

	kv, _ := kvstoretest.Scoped(t, "flow")
	client := identity.NewClient(backend, kv, log)
	dir := newMemDirectory()
	store := session.NewStore(client, dir, log)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(store.Stop)

	cache := pending.NewCache(kv, log)
	prov := &countingProvisioner{inner: provisioner.New(store, dir, cache, log)}
	clock := newFakeClock()

	flow := New(client, store, cache, prov, handles, Config{
		SiteURL:        "https://menu.example.com",
		ResendCooldown: time.Minute,
		Now:            clock.Now,
	}, log)
	flow.Start()
	t.Cleanup(flow.Close)

	return &harness{
		backend: backend,
		dir:     dir,
		store:   store,
		cache:   cache,
		prov:    prov,
		clock:   clock,
		flow:    flow,
	}
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.flow.Sync(ctx))
}

func validSignUp() SignUpRequest {
	return SignUpRequest{
		Email:           "joe@example.com",
		Password:        "grill123",
		ConfirmPassword: "grill123",
		Handle:          "joes-grill",
		DisplayName:     "Joe's Grill",
	}
}

func requireCode(t *testing.T, err error, kind autherr.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, autherr.KindOf(err), "kind of %v", err)
	assert.Equal(t, code, autherr.CodeOf(err), "code of %v", err)
}

func TestSignUp_ConfirmationThenSignIn(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	res, err := h.flow.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)
	assert.Equal(t, StateAwaitingConfirmation, res.State)

	snap := h.flow.Snapshot()
	assert.Equal(t, StateAwaitingConfirmation, snap.State)
	assert.Equal(t, "joe@example.com", snap.PendingEmail)
	assert.Equal(t, 60, snap.ResendCooldown)

	rec, ok, err := h.cache.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pending.Record{Handle: "joes-grill", DisplayName: "Joe's Grill"}, rec)
	assert.Empty(t, h.dir.all())

	h.backend.Confirm("joe@example.com")
	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)

	tenants := h.dir.all()
	require.Len(t, tenants, 1)
	assert.Equal(t, "joes-grill", tenants[0].Handle)
	assert.Equal(t, "Joe's Grill", tenants[0].DisplayName)

	_, ok, err = h.cache.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap = h.flow.Snapshot()
	assert.Equal(t, StateSignedIn, snap.State)
	require.NotNil(t, snap.Bootstrap)
	assert.True(t, snap.Bootstrap.Done)
	assert.True(t, snap.Bootstrap.Created)
	assert.NotEmpty(t, snap.Bootstrap.Notice)
	assert.Equal(t, LandingRoute, snap.Bootstrap.RedirectTo)
	assert.Equal(t, "joes-grill", h.store.State().TenantHandle)
	assert.Equal(t, 1, h.prov.Calls())
}

func TestSignUp_ImmediateSession(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	res, err := h.flow.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	assert.False(t, res.NeedsConfirmation)
	assert.Equal(t, StateSignedIn, res.State)

	h.sync(t)

	tenants := h.dir.all()
	require.Len(t, tenants, 1)
	assert.Equal(t, "joes-grill", tenants[0].Handle)

	snap := h.flow.Snapshot()
	require.NotNil(t, snap.Bootstrap)
	assert.True(t, snap.Bootstrap.Created)
	assert.Nil(t, snap.Bootstrap.Err)
	assert.Equal(t, 1, h.prov.Calls())
}

func TestSignUp_NormalizesHandleAndName(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	req := validSignUp()
	req.Handle = "Joes-Grill"
	req.DisplayName = "  Joe's Grill  "
	_, err := h.flow.SignUp(ctx, req)
	require.NoError(t, err)

	rec, ok, err := h.cache.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "joes-grill", rec.Handle)
	assert.Equal(t, "Joe's Grill", rec.DisplayName)
}

func TestSignUp_ValidationOrder(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SignUpRequest)
		handles HandleStatus
		kind    autherr.Kind
		code    string
	}{
		{
			name:   "missing handle",
			mutate: func(r *SignUpRequest) { r.Handle = ""; r.DisplayName = "" },
			kind:   autherr.KindValidation,
			code:   autherr.CodeHandleRequired,
		},
		{
			name:   "blank handle",
			mutate: func(r *SignUpRequest) { r.Handle = "   " },
			kind:   autherr.KindValidation,
			code:   autherr.CodeHandleRequired,
		},
		{
			name:   "handle with spaces",
			mutate: func(r *SignUpRequest) { r.Handle = "joes grill" },
			kind:   autherr.KindValidation,
			code:   autherr.CodeHandleInvalid,
		},
		{
			name:   "two character handle",
			mutate: func(r *SignUpRequest) { r.Handle = "ab" },
			kind:   autherr.KindValidation,
			code:   autherr.CodeHandleInvalid,
		},
		{
			name:    "handle taken",
			mutate:  func(r *SignUpRequest) { r.DisplayName = "" },
			handles: fixedHandleStatus{status: availability.StatusTaken},
			kind:    autherr.KindConflict,
			code:    autherr.CodeHandleTaken,
		},
		{
			name:   "missing display name",
			mutate: func(r *SignUpRequest) { r.DisplayName = "  "; r.ConfirmPassword = "other" },
			kind:   autherr.KindValidation,
			code:   autherr.CodeDisplayNameRequired,
		},
		{
			name:   "passwords differ",
			mutate: func(r *SignUpRequest) { r.Password = "abc"; r.ConfirmPassword = "abd" },
			kind:   autherr.KindValidation,
			code:   autherr.CodePasswordMismatch,
		},
		{
			name:   "password too short",
			mutate: func(r *SignUpRequest) { r.Password = "12345"; r.ConfirmPassword = "12345" },
			kind:   autherr.KindValidation,
			code:   autherr.CodePasswordTooShort,
		},
		{
			name:   "invalid email",
			mutate: func(r *SignUpRequest) { r.Email = "joe" },
			kind:   autherr.KindValidation,
			code:   autherr.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true, tt.handles)
			req := validSignUp()
			tt.mutate(&req)

			_, err := h.flow.SignUp(context.Background(), req)
			requireCode(t, err, tt.kind, tt.code)

			assert.Zero(t, h.backend.Calls(identitytest.OpRegister))
			assert.Equal(t, StateSignedOut, h.flow.Snapshot().State)
			_, ok, err := h.cache.Read(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSignUp_AvailableHandlePasses(t *testing.T) {
	h := newHarness(t, true, fixedHandleStatus{status: availability.StatusAvailable})

	_, err := h.flow.SignUp(context.Background(), validSignUp())
	assert.NoError(t, err)
}

func TestSignUp_AlreadyRegistered(t *testing.T) {
	for _, hide := range []bool{false, true} {
		name := "error"
		if hide {
			name = "hidden duplicate"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, true, nil)
			h.backend.HideDuplicates = hide
			h.backend.AddUser("joe@example.com", "original", true)

			_, err := h.flow.SignUp(context.Background(), validSignUp())
			requireCode(t, err, autherr.KindConflict, autherr.CodeAlreadyRegistered)
			assert.Equal(t, "this email is already registered", autherr.As(err).Message)

			_, ok, err := h.cache.Read(context.Background())
			require.NoError(t, err)
			assert.False(t, ok, "nothing is staged for a duplicate account")
			assert.Equal(t, StateSignedOut, h.flow.Snapshot().State)
		})
	}
}

func TestSignUp_ProviderFailureIsGeneric(t *testing.T) {
	h := newHarness(t, true, nil)
	h.backend.Fail(identitytest.OpRegister, autherr.New(autherr.KindProvider, autherr.CodeUnavailable, "kratos: upstream exploded"))

	_, err := h.flow.SignUp(context.Background(), validSignUp())
	requireCode(t, err, autherr.KindProvider, autherr.CodeUnavailable)
	assert.NotContains(t, autherr.As(err).Message, "kratos")
}

func TestSignUp_OverwritesEarlierStaging(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	require.NoError(t, h.cache.Stage(ctx, pending.Record{Handle: "old-place", DisplayName: "Old Place"}))
	_, err := h.flow.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	rec, ok, err := h.cache.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "joes-grill", rec.Handle)
}

func TestSignIn_EmailNotConfirmed(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.backend.AddUser("joe@example.com", "grill123", false)

	err := h.flow.SignIn(ctx, "joe@example.com", "grill123")
	requireCode(t, err, autherr.KindNotAuthenticated, autherr.CodeEmailNotConfirmed)

	snap := h.flow.Snapshot()
	assert.Equal(t, StateSignedOut, snap.State)
	assert.True(t, snap.ResendAvailable)
	assert.Equal(t, "joe@example.com", snap.PendingEmail)
	assert.Zero(t, snap.ResendCooldown)

	require.NoError(t, h.flow.ResendConfirmation(ctx))
	assert.Equal(t, 1, h.backend.VerificationsSent("joe@example.com"))
	assert.Equal(t, 60, h.flow.Snapshot().ResendCooldown)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	h := newHarness(t, false, nil)
	h.backend.AddUser("joe@example.com", "grill123", true)

	err := h.flow.SignIn(context.Background(), "joe@example.com", "wrong-password")
	requireCode(t, err, autherr.KindNotAuthenticated, autherr.CodeInvalidCredentials)
	assert.Equal(t, "invalid login credentials", autherr.As(err).Message)

	snap := h.flow.Snapshot()
	assert.Equal(t, StateSignedOut, snap.State)
	assert.False(t, snap.ResendAvailable)
}

func TestSignIn_OtherFailure(t *testing.T) {
	h := newHarness(t, false, nil)
	h.backend.Fail(identitytest.OpLogin, autherr.New(autherr.KindProvider, autherr.CodeUnavailable, "boom"))

	err := h.flow.SignIn(context.Background(), "joe@example.com", "grill123")
	requireCode(t, err, autherr.KindProvider, autherr.CodeUnavailable)
	assert.Equal(t, "something went wrong while signing in", autherr.As(err).Message)
}

func TestSignIn_NoPendingDataStillRedirects(t *testing.T) {
	h := newHarness(t, false, nil)
	h.backend.AddUser("joe@example.com", "grill123", true)

	require.NoError(t, h.flow.SignIn(context.Background(), "joe@example.com", "grill123"))
	h.sync(t)

	snap := h.flow.Snapshot()
	require.NotNil(t, snap.Bootstrap)
	assert.True(t, snap.Bootstrap.Done)
	assert.False(t, snap.Bootstrap.Created)
	require.NotNil(t, snap.Bootstrap.Err)
	assert.Equal(t, autherr.KindNoPendingData, snap.Bootstrap.Err.Kind)
	assert.Equal(t, LandingRoute, snap.Bootstrap.RedirectTo)
	assert.Empty(t, h.dir.all())
}

func TestSignIn_ExistingTenant(t *testing.T) {
	h := newHarness(t, false, nil)
	ident := h.backend.AddUser("joe@example.com", "grill123", true)
	_, err := h.dir.Create(context.Background(), ident.ID, "joes-grill", "Joe's Grill")
	require.NoError(t, err)

	require.NoError(t, h.flow.SignIn(context.Background(), "joe@example.com", "grill123"))
	h.sync(t)

	snap := h.flow.Snapshot()
	require.NotNil(t, snap.Bootstrap)
	assert.False(t, snap.Bootstrap.Created)
	assert.Nil(t, snap.Bootstrap.Err)
	assert.Empty(t, snap.Bootstrap.Notice)
	assert.Equal(t, "joes-grill", h.store.State().TenantHandle)
}

func TestBootstrap_OncePerTransition(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.backend.AddUser("joe@example.com", "grill123", true)

	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)
	assert.Equal(t, 1, h.prov.Calls())

	// Signing in again with the same identity is not a new transition.
	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)
	assert.Equal(t, 1, h.prov.Calls())
	assert.Equal(t, StateSignedIn, h.flow.Snapshot().State)

	require.NoError(t, h.flow.SignOut(ctx))
	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)
	assert.Equal(t, 2, h.prov.Calls())
}

func TestBootstrap_IgnoresStaleSignInSnapshot(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.backend.AddUser("joe@example.com", "grill123", true)

	var mu sync.Mutex
	var signedIn session.State
	h.store.Subscribe(func(st session.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.SignedIn() && signedIn.Identity == nil {
			signedIn = st
		}
	})

	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)
	require.NoError(t, h.flow.SignOut(ctx))
	require.Equal(t, 1, h.prov.Calls())

	mu.Lock()
	stale := signedIn
	mu.Unlock()
	require.NotNil(t, stale.Identity)

	// The sign-in snapshot reaches the flow after the sign-out one.
	h.flow.onSessionChange(stale)
	h.sync(t)
	assert.Equal(t, StateSignedOut, h.flow.Snapshot().State)
	assert.Nil(t, h.flow.Snapshot().Bootstrap)
	assert.Equal(t, 1, h.prov.Calls())

	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)
	assert.Equal(t, StateSignedIn, h.flow.Snapshot().State)
	assert.Equal(t, 2, h.prov.Calls(), "signing back in provisions again")
}

func TestBootstrap_Retry(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	_, err := h.flow.Bootstrap(ctx)
	requireCode(t, err, autherr.KindNotAuthenticated, autherr.CodeSessionRequired)

	h.backend.AddUser("joe@example.com", "grill123", true)
	require.NoError(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"))
	h.sync(t)

	require.NoError(t, h.cache.Stage(ctx, pending.Record{Handle: "joes-grill", DisplayName: "Joe's Grill"}))
	b, err := h.flow.Bootstrap(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Created)
	assert.Len(t, h.dir.all(), 1)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	_, err := h.flow.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	h.sync(t)
	require.Equal(t, "joes-grill", h.store.State().TenantHandle)

	require.NoError(t, h.flow.SignOut(ctx))

	snap := h.flow.Snapshot()
	assert.Equal(t, StateSignedOut, snap.State)
	assert.Nil(t, snap.Bootstrap)
	st := h.store.State()
	assert.Nil(t, st.Identity)
	assert.Empty(t, st.TenantHandle)
}

func TestResendConfirmation(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	err := h.flow.ResendConfirmation(ctx)
	requireCode(t, err, autherr.KindValidation, autherr.CodeNoTarget)

	_, err = h.flow.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	assert.Equal(t, 1, h.backend.VerificationsSent("joe@example.com"))

	err = h.flow.ResendConfirmation(ctx)
	requireCode(t, err, autherr.KindValidation, autherr.CodeCooldown)
	assert.Contains(t, autherr.As(err).Message, "60 seconds")

	h.clock.Advance(45 * time.Second)
	err = h.flow.ResendConfirmation(ctx)
	requireCode(t, err, autherr.KindValidation, autherr.CodeCooldown)
	assert.Contains(t, autherr.As(err).Message, "15 seconds")

	h.clock.Advance(15 * time.Second)
	require.NoError(t, h.flow.ResendConfirmation(ctx))
	assert.Equal(t, 2, h.backend.VerificationsSent("joe@example.com"))
	assert.Equal(t, 60, h.flow.Snapshot().ResendCooldown)
}

func TestResendConfirmation_FailureKeepsCooldownOpen(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.backend.AddUser("joe@example.com", "grill123", false)
	requireCode(t, h.flow.SignIn(ctx, "joe@example.com", "grill123"),
		autherr.KindNotAuthenticated, autherr.CodeEmailNotConfirmed)

	h.backend.Fail(identitytest.OpSendVerification, autherr.New(autherr.KindProvider, autherr.CodeUnavailable, "smtp down"))
	err := h.flow.ResendConfirmation(ctx)
	requireCode(t, err, autherr.KindProvider, autherr.CodeUnavailable)
	assert.Zero(t, h.flow.Snapshot().ResendCooldown)

	require.NoError(t, h.flow.ResendConfirmation(ctx))
}

func TestRequestPasswordReset(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	err := h.flow.RequestPasswordReset(ctx, "  ")
	requireCode(t, err, autherr.KindValidation, autherr.CodeInvalidInput)
	assert.Equal(t, "please enter your email address", autherr.As(err).Message)

	require.NoError(t, h.flow.RequestPasswordReset(ctx, "joe@example.com"))
	snap := h.flow.Snapshot()
	assert.Equal(t, StateResettingPassword, snap.State)
	assert.Equal(t, 60, snap.ResetCooldown)

	err = h.flow.RequestPasswordReset(ctx, "joe@example.com")
	requireCode(t, err, autherr.KindValidation, autherr.CodeCooldown)
	assert.Equal(t, 1, h.backend.Calls(identitytest.OpStartRecovery))
}

func TestRequestPasswordReset_RateLimited(t *testing.T) {
	h := newHarness(t, false, nil)
	h.backend.Fail(identitytest.OpStartRecovery,
		autherr.New(autherr.KindProvider, autherr.CodeRateLimited, "too many requests, please wait a moment and try again"))

	err := h.flow.RequestPasswordReset(context.Background(), "joe@example.com")
	requireCode(t, err, autherr.KindProvider, autherr.CodeRateLimited)
	assert.Equal(t, "too many requests, please try again later", autherr.As(err).Message)
	assert.Zero(t, h.flow.Snapshot().ResetCooldown)
}

func TestCompletePasswordReset(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.backend.AddUser("joe@example.com", "grill123", true)

	requireCode(t, h.flow.CompletePasswordReset(ctx, "code", "12345", "12345"),
		autherr.KindValidation, autherr.CodePasswordTooShort)
	requireCode(t, h.flow.CompletePasswordReset(ctx, "code", "newpass1", "newpass2"),
		autherr.KindValidation, autherr.CodePasswordMismatch)
	requireCode(t, h.flow.CompletePasswordReset(ctx, "code", "newpass1", "newpass1"),
		autherr.KindValidation, autherr.CodeRecoveryInvalid)

	require.NoError(t, h.flow.RequestPasswordReset(ctx, "joe@example.com"))
	code := h.backend.RecoveryCode("joe@example.com")
	require.NotEmpty(t, code)

	require.NoError(t, h.flow.CompletePasswordReset(ctx, code, "newpass1", "newpass1"))
	assert.Equal(t, "newpass1", h.backend.Password("joe@example.com"))

	h.sync(t)
	assert.Equal(t, StateSignedIn, h.flow.Snapshot().State)
}

func TestCompletePasswordReset_SamePassword(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.backend.AddUser("joe@example.com", "grill123", true)

	require.NoError(t, h.flow.RequestPasswordReset(ctx, "joe@example.com"))
	code := h.backend.RecoveryCode("joe@example.com")

	err := h.flow.CompletePasswordReset(ctx, code, "grill123", "grill123")
	requireCode(t, err, autherr.KindValidation, autherr.CodeSamePassword)
	assert.Equal(t, "grill123", h.backend.Password("joe@example.com"))
}
