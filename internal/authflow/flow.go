// Package authflow drives sign-up, sign-in and password recovery for one
// client context and provisions the owner's tenant once a session exists.
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"menuboard/internal/autherr"
	"menuboard/internal/availability"
	"menuboard/internal/identity"
	"menuboard/internal/metrics"
	"menuboard/internal/pending"
	"menuboard/internal/provisioner"
	"menuboard/internal/session"
	"menuboard/internal/tenant"
	"menuboard/internal/validate"
)

// State is the position of the client context in the bootstrap flow.
type State string

const (
	StateSignedOut            State = "signed_out"
	StateRegistering          State = "registering"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSigningIn            State = "signing_in"
	StateSignedIn             State = "signed_in"
	StateResettingPassword    State = "resetting_password"
)

// LandingRoute is where the client goes once its tenant is settled.
const LandingRoute = "/"

// SessionStore is the part of session.Store the flow depends on.
type SessionStore interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
	Defer(task session.Task) error
	Sync(ctx context.Context) error
}

// Stager stages tenant parameters until the first session.
type Stager interface {
	Stage(ctx context.Context, rec pending.Record) error
}

// Provisioner creates the owner's tenant.
type Provisioner interface {
	EnsureTenantExists(ctx context.Context) provisioner.Result
}

// HandleStatus reports the latest handle availability result.
type HandleStatus interface {
	Result() availability.Result
}

// Config holds the per-deployment settings of a Flow.
type Config struct {
	// SiteURL is the public origin without a trailing slash.
	SiteURL string
	// ResendCooldown is the lockout after each confirmation or recovery send.
	ResendCooldown time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// SignUpRequest carries the sign-up form.
type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"eqfield=Password"`
	Handle          string `json:"handle" validate:"required,handle"`
	DisplayName     string `json:"display_name" validate:"required"`
}

// SignUpResult reports where a successful sign-up left the flow.
type SignUpResult struct {
	State             State `json:"state"`
	NeedsConfirmation bool  `json:"needs_confirmation"`
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type newPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"eqfield=Password"`
}

// Bootstrap is the outcome of provisioning after entering SignedIn.
type Bootstrap struct {
	Done       bool           `json:"done"`
	Created    bool           `json:"created"`
	Notice     string         `json:"notice,omitempty"`
	RedirectTo string         `json:"redirect_to,omitempty"`
	Err        *autherr.Error `json:"-"`
}

// Snapshot is the flow state exposed to clients.
type Snapshot struct {
	State           State      `json:"state"`
	PendingEmail    string     `json:"pending_email,omitempty"`
	ResendAvailable bool       `json:"resend_available"`
	ResendCooldown  int        `json:"resend_cooldown_seconds"`
	ResetCooldown   int        `json:"reset_cooldown_seconds"`
	Bootstrap       *Bootstrap `json:"bootstrap,omitempty"`
}

// Flow is the auth bootstrap state machine of one client context.
type Flow struct {
	provider    identity.Provider
	store       SessionStore
	stager      Stager
	provisioner Provisioner
	handles     HandleStatus
	validator   *validate.Validator
	logger      *slog.Logger

	siteURL        string
	resendCooldown *Cooldown
	resetCooldown  *Cooldown

	mu              sync.Mutex
	state           State
	pendingEmail    string
	resendAvailable bool
	owner           uuid.UUID
	generation      uint64
	seenVersion     uint64
	bootstrap       *Bootstrap
	unsubscribe     func()

	// While a sign-up is registering, provisioning waits until the tenant
	// parameters are staged.
	holding bool
	heldGen uint64
}

// New creates a Flow. handles may be nil when no handle checker is attached.
func New(provider identity.Provider, store SessionStore, stager Stager, prov Provisioner,
	handles HandleStatus, cfg Config, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		provider:       provider,
		store:          store,
		stager:         stager,
		provisioner:    prov,
		handles:        handles,
		validator:      validate.New(),
		logger:         logger.With("component", "authflow"),
		siteURL:        strings.TrimSuffix(cfg.SiteURL, "/"),
		resendCooldown: NewCooldown(cfg.ResendCooldown, cfg.Now),
		resetCooldown:  NewCooldown(cfg.ResendCooldown, cfg.Now),
		state:          StateSignedOut,
	}
}

// Start observes the session store. A session that already exists counts as
// entering SignedIn.
func (f *Flow) Start() {
	unsubscribe := f.store.Subscribe(f.onSessionChange)
	f.mu.Lock()
	f.unsubscribe = unsubscribe
	f.mu.Unlock()

	f.onSessionChange(f.store.State())
}

// Close stops observing the session store.
func (f *Flow) Close() {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Snapshot returns the current flow state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := Snapshot{
		State:           f.state,
		PendingEmail:    f.pendingEmail,
		ResendAvailable: f.resendAvailable,
		ResendCooldown:  f.resendCooldown.RemainingSeconds(),
		ResetCooldown:   f.resetCooldown.RemainingSeconds(),
	}
	if f.bootstrap != nil {
		b := *f.bootstrap
		snap.Bootstrap = &b
	}
	return snap
}

// Sync waits for provisioning triggered so far to finish.
func (f *Flow) Sync(ctx context.Context) error {
	return f.store.Sync(ctx)
}

// SignUp validates the form, registers the identity and stages the tenant.
func (f *Flow) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Email = strings.TrimSpace(req.Email)

	if err := f.validateSignUp(req); err != nil {
		metrics.RecordAuth("signup", "invalid")
		return SignUpResult{}, err
	}

	f.mu.Lock()
	f.state = StateRegistering
	f.holding = true
	f.mu.Unlock()
	defer f.release()

	reg, err := f.provider.SignUp(ctx, identity.SignUpParams{
		Email:      req.Email,
		Password:   req.Password,
		RedirectTo: f.siteURL + "/",
	})
	if err != nil {
		f.leave(StateRegistering)
		metrics.RecordAuth("signup", outcome(err))
		return SignUpResult{}, signUpError(err)
	}
	if len(reg.Identity.Credentials) == 0 {
		// Providers hide duplicate registrations behind an identity with no
		// linked credentials.
		f.leave(StateRegistering)
		metrics.RecordAuth("signup", "conflict")
		return SignUpResult{}, alreadyRegistered()
	}

	rec := pending.Record{
		Handle:      tenant.NormalizeHandle(req.Handle),
		DisplayName: req.DisplayName,
	}
	if err := f.stager.Stage(ctx, rec); err != nil {
		f.logger.Error("failed to stage tenant", "identity_id", reg.Identity.ID, "error", err)
		f.leave(StateRegistering)
		metrics.RecordAuth("signup", "error")
		return SignUpResult{}, autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
			"your account was created but the restaurant details could not be saved, please sign up again", err)
	}

	if reg.Session == nil {
		f.mu.Lock()
		f.state = StateAwaitingConfirmation
		f.pendingEmail = req.Email
		f.resendAvailable = true
		f.mu.Unlock()
		f.resendCooldown.Start()

		f.logger.Info("sign-up awaiting confirmation", "identity_id", reg.Identity.ID, "handle", rec.Handle)
		metrics.RecordAuth("signup", "awaiting_confirmation")
		return SignUpResult{State: StateAwaitingConfirmation, NeedsConfirmation: true}, nil
	}

	f.logger.Info("sign-up completed with session", "identity_id", reg.Identity.ID, "handle", rec.Handle)
	metrics.RecordAuth("signup", "success")
	return SignUpResult{State: f.Snapshot().State}, nil
}

// validateSignUp reports the first failing rule in form order.
func (f *Flow) validateSignUp(req SignUpRequest) error {
	err := f.validator.Struct(req)
	var errs validate.Errors
	if err != nil && !errors.As(err, &errs) {
		return autherr.Wrap(autherr.KindValidation, autherr.CodeInvalidInput, "the form could not be checked", err)
	}

	if _, ok := errs.Field("handle"); ok {
		herr := tenant.ValidateHandle(req.Handle)
		code := autherr.CodeHandleInvalid
		if herr == nil || errors.Is(herr, tenant.ErrHandleRequired) {
			herr = tenant.ErrHandleRequired
			code = autherr.CodeHandleRequired
		}
		return autherr.New(autherr.KindValidation, code, herr.Error())
	}

	if f.handles != nil && f.handles.Result().Status == availability.StatusTaken {
		return autherr.New(autherr.KindConflict, autherr.CodeHandleTaken,
			"this handle is already taken, please choose another one")
	}

	checks := []struct {
		field   string
		code    string
		message string
	}{
		{"display_name", autherr.CodeDisplayNameRequired, "restaurant name is required"},
		{"confirm_password", autherr.CodePasswordMismatch, "passwords do not match"},
		{"password", autherr.CodePasswordTooShort, "password must be at least 6 characters"},
		{"email", autherr.CodeInvalidInput, "please enter a valid email address"},
	}
	for _, c := range checks {
		if _, ok := errs.Field(c.field); ok {
			return autherr.New(autherr.KindValidation, c.code, c.message)
		}
	}
	return nil
}

// SignIn authenticates with email and password. Entering SignedIn is reported
// through the session store, not the return value.
func (f *Flow) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	f.mu.Lock()
	f.state = StateSigningIn
	f.resendAvailable = false
	f.mu.Unlock()

	_, err := f.provider.SignInWithPassword(ctx, email, password)
	if err == nil {
		f.settle(StateSigningIn)
		metrics.RecordAuth("signin", "success")
		return nil
	}

	f.leave(StateSigningIn)
	metrics.RecordAuth("signin", outcome(err))

	switch autherr.CodeOf(err) {
	case autherr.CodeEmailNotConfirmed:
		f.mu.Lock()
		f.pendingEmail = email
		f.resendAvailable = true
		f.mu.Unlock()
		f.resendCooldown.Reset()
		return autherr.Wrap(autherr.KindNotAuthenticated, autherr.CodeEmailNotConfirmed,
			"please confirm your email address first", err)
	case autherr.CodeInvalidCredentials:
		return autherr.Wrap(autherr.KindNotAuthenticated, autherr.CodeInvalidCredentials,
			"invalid login credentials", err)
	case autherr.CodeRateLimited:
		return autherr.As(err)
	default:
		f.logger.Warn("sign-in failed", "error", err)
		return autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
			"something went wrong while signing in", err)
	}
}

// SignOut ends the session. The session store clears identity and handle.
func (f *Flow) SignOut(ctx context.Context) error {
	err := f.provider.SignOut(ctx)
	f.mu.Lock()
	f.state = StateSignedOut
	f.owner = uuid.Nil
	f.generation++
	f.bootstrap = nil
	f.mu.Unlock()

	if err != nil {
		metrics.RecordAuth("signout", outcome(err))
		return autherr.As(err)
	}
	metrics.RecordAuth("signout", "success")
	return nil
}

// ResendConfirmation sends the confirmation email again to the remembered
// address.
func (f *Flow) ResendConfirmation(ctx context.Context) error {
	f.mu.Lock()
	target := f.pendingEmail
	f.mu.Unlock()

	if target == "" {
		return autherr.New(autherr.KindValidation, autherr.CodeNoTarget,
			"there is no email address to send the confirmation to")
	}
	if err := cooldownError(f.resendCooldown); err != nil {
		return err
	}

	if err := f.provider.Resend(ctx, target, f.siteURL+"/"); err != nil {
		f.logger.Warn("resend confirmation failed", "error", err)
		metrics.RecordAuth("resend", outcome(err))
		if autherr.CodeOf(err) == autherr.CodeRateLimited {
			return autherr.As(err)
		}
		return autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
			"failed to resend the link, please try again later", err)
	}

	f.resendCooldown.Start()
	metrics.RecordAuth("resend", "success")
	return nil
}

// RequestPasswordReset sends a recovery email.
func (f *Flow) RequestPasswordReset(ctx context.Context, email string) error {
	req := passwordResetRequest{Email: strings.TrimSpace(email)}
	if err := f.validator.Struct(req); err != nil {
		message := "please enter a valid email address"
		if req.Email == "" {
			message = "please enter your email address"
		}
		return autherr.Wrap(autherr.KindValidation, autherr.CodeInvalidInput, message, err)
	}
	if err := cooldownError(f.resetCooldown); err != nil {
		return err
	}

	f.setState(StateResettingPassword)

	if err := f.provider.ResetPasswordForEmail(ctx, req.Email, f.siteURL+"/auth"); err != nil {
		metrics.RecordAuth("recover", outcome(err))
		if autherr.CodeOf(err) == autherr.CodeRateLimited {
			return autherr.Wrap(autherr.KindProvider, autherr.CodeRateLimited,
				"too many requests, please try again later", err)
		}
		f.logger.Warn("password reset request failed", "error", err)
		return autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
			"something went wrong while sending the link, please try again", err)
	}

	f.resetCooldown.Start()
	metrics.RecordAuth("recover", "success")
	return nil
}

// CompletePasswordReset exchanges the emailed token for a session and sets
// the new password.
func (f *Flow) CompletePasswordReset(ctx context.Context, token, password, confirm string) error {
	req := newPasswordRequest{Token: strings.TrimSpace(token), Password: password, ConfirmPassword: confirm}
	err := f.validator.Struct(req)
	var errs validate.Errors
	if err != nil && !errors.As(err, &errs) {
		return autherr.Wrap(autherr.KindValidation, autherr.CodeInvalidInput, "the form could not be checked", err)
	}
	if _, ok := errs.Field("password"); ok {
		return autherr.New(autherr.KindValidation, autherr.CodePasswordTooShort,
			"password must be at least 6 characters")
	}
	if _, ok := errs.Field("confirm_password"); ok {
		return autherr.New(autherr.KindValidation, autherr.CodePasswordMismatch, "passwords do not match")
	}
	if _, ok := errs.Field("token"); ok {
		return autherr.New(autherr.KindValidation, autherr.CodeRecoveryInvalid,
			"the recovery link is invalid or has expired")
	}

	f.setState(StateResettingPassword)

	if _, err := f.provider.VerifyRecovery(ctx, req.Token); err != nil {
		metrics.RecordAuth("recover_complete", outcome(err))
		return autherr.As(err)
	}
	if _, err := f.provider.UpdateUser(ctx, identity.UserAttributes{Password: req.Password}); err != nil {
		metrics.RecordAuth("recover_complete", outcome(err))
		return autherr.As(err)
	}

	f.settle(StateResettingPassword)
	metrics.RecordAuth("recover_complete", "success")
	return nil
}

// onSessionChange runs on every session store change. Entering SignedIn,
// or switching identity, schedules provisioning exactly once. Snapshots
// older than one already handled are dropped.
func (f *Flow) onSessionChange(st session.State) {
	f.mu.Lock()
	if st.Version < f.seenVersion {
		f.mu.Unlock()
		return
	}
	f.seenVersion = st.Version
	if st.Identity == nil {
		if st.Loading || f.owner == uuid.Nil {
			f.mu.Unlock()
			return
		}
		f.owner = uuid.Nil
		f.generation++
		f.bootstrap = nil
		f.state = StateSignedOut
		f.mu.Unlock()
		return
	}
	if st.Identity.ID == f.owner {
		f.mu.Unlock()
		return
	}

	f.owner = st.Identity.ID
	f.generation++
	gen := f.generation
	f.state = StateSignedIn
	f.pendingEmail = ""
	f.resendAvailable = false
	f.bootstrap = &Bootstrap{}
	if f.holding {
		f.heldGen = gen
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.scheduleBootstrap(gen)
}

func (f *Flow) scheduleBootstrap(gen uint64) {
	err := f.store.Defer(func(ctx context.Context) {
		f.bootstrapTenant(ctx, gen)
	})
	if err != nil {
		f.logger.Warn("tenant bootstrap not scheduled", "error", err)
	}
}

// release schedules provisioning held back during a sign-up.
func (f *Flow) release() {
	f.mu.Lock()
	gen := f.heldGen
	f.holding = false
	f.heldGen = 0
	current := f.generation
	f.mu.Unlock()

	if gen != 0 && gen == current {
		f.scheduleBootstrap(gen)
	}
}

func (f *Flow) bootstrapTenant(ctx context.Context, gen uint64) {
	res := f.provisioner.EnsureTenantExists(ctx)

	b := &Bootstrap{Done: true, Created: res.Created, Err: res.Err}
	if res.Created {
		b.Notice = "your restaurant is set up, welcome aboard"
	}
	if res.Err == nil || res.Err.Kind == autherr.KindNoPendingData {
		b.RedirectTo = LandingRoute
	} else {
		f.logger.Warn("tenant bootstrap failed", "kind", res.Err.Kind, "code", res.Err.Code)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != gen {
		return
	}
	f.bootstrap = b
}

// Bootstrap runs provisioning again for the signed-in owner, for retries
// after a transient failure.
func (f *Flow) Bootstrap(ctx context.Context) (*Bootstrap, error) {
	f.mu.Lock()
	if f.owner == uuid.Nil {
		f.mu.Unlock()
		return nil, autherr.New(autherr.KindNotAuthenticated, autherr.CodeSessionRequired,
			"you need to be signed in to do that")
	}
	f.generation++
	gen := f.generation
	f.mu.Unlock()

	done := make(chan struct{})
	err := f.store.Defer(func(ctx context.Context) {
		defer close(done)
		f.bootstrapTenant(ctx, gen)
	})
	if err != nil {
		return nil, autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
			"something went wrong, please try again later", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.Snapshot().Bootstrap, nil
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// leave returns to SignedOut unless the session store moved the flow on.
func (f *Flow) leave(from State) {
	f.mu.Lock()
	if f.state == from {
		f.state = StateSignedOut
	}
	f.mu.Unlock()
}

// settle moves from a transient state to SignedIn when the session store
// already reports an identity that did not change.
func (f *Flow) settle(from State) {
	f.mu.Lock()
	if f.state == from && f.owner != uuid.Nil {
		f.state = StateSignedIn
	}
	f.mu.Unlock()
}

func cooldownError(c *Cooldown) error {
	if secs := c.RemainingSeconds(); secs > 0 {
		return autherr.New(autherr.KindValidation, autherr.CodeCooldown,
			"you can resend in "+strconv.Itoa(secs)+" seconds")
	}
	return nil
}

func signUpError(err error) error {
	switch autherr.CodeOf(err) {
	case autherr.CodeAlreadyRegistered:
		return alreadyRegistered()
	case autherr.CodePasswordPolicy, autherr.CodeRateLimited:
		return autherr.As(err)
	default:
		return autherr.Wrap(autherr.KindProvider, autherr.CodeUnavailable,
			"something went wrong while creating the account", err)
	}
}

func alreadyRegistered() error {
	return autherr.New(autherr.KindConflict, autherr.CodeAlreadyRegistered, "this email is already registered")
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(autherr.KindOf(err))
}
