// Package identitytest provides an in-memory identity.Backend for tests.
package identitytest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"menuboard/internal/autherr"
	"menuboard/internal/identity"
)

// Operation names accepted by Fail and Calls.
const (
	OpRegister         = "register"
	OpLogin            = "login"
	OpLogout           = "logout"
	OpWhoami           = "whoami"
	OpSendVerification = "send_verification"
	OpStartRecovery    = "start_recovery"
	OpCompleteRecovery = "complete_recovery"
	OpUpdatePassword   = "update_password"
)

type user struct {
	identity identity.Identity
	password string
}

type recovery struct {
	email string
	code  string
}

// Backend is an in-memory identity.Backend. The zero value is not usable;
// create one with New.
type Backend struct {
	// RequireConfirmation withholds the session at sign-up and rejects
	// sign-in until Confirm is called.
	RequireConfirmation bool
	// HideDuplicates answers a duplicate sign-up with an identity that has
	// no linked credentials instead of an error.
	HideDuplicates bool
	// SessionTTL is the lifetime of issued sessions.
	SessionTTL time.Duration

	mu            sync.Mutex
	users         map[string]*user
	sessions      map[string]string
	recoveries    map[string]recovery
	verifications map[string]int
	failures      map[string]error
	calls         map[string]int
}

var _ identity.Backend = (*Backend)(nil)

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		SessionTTL:    time.Hour,
		users:         make(map[string]*user),
		sessions:      make(map[string]string),
		recoveries:    make(map[string]recovery),
		verifications: make(map[string]int),
		failures:      make(map[string]error),
		calls:         make(map[string]int),
	}
}

// Fail makes the next call to op return err.
func (b *Backend) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// AddUser registers a user directly.
func (b *Backend) AddUser(email, password string, confirmed bool) identity.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := &user{
		identity: identity.Identity{
			ID:          uuid.New(),
			Email:       email,
			Confirmed:   confirmed,
			Credentials: []string{"password"},
		},
		password: password,
	}
	b.users[strings.ToLower(email)] = u
	return u.identity
}

// Confirm marks the user's email as verified.
func (b *Backend) Confirm(email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[strings.ToLower(email)]; ok {
		u.identity.Confirmed = true
	}
}

// Password returns the user's current password.
func (b *Backend) Password(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[strings.ToLower(email)]; ok {
		return u.password
	}
	return ""
}

// VerificationsSent returns how many confirmation emails went to email.
func (b *Backend) VerificationsSent(email string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verifications[strings.ToLower(email)]
}

// RecoveryCode returns the code most recently mailed to email.
func (b *Backend) RecoveryCode(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.recoveries {
		if r.email == strings.ToLower(email) {
			return r.code
		}
	}
	return ""
}

// RevokeAll invalidates every issued session.
func (b *Backend) RevokeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]string)
}

func (b *Backend) begin(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return err
	}
	return nil
}

func (b *Backend) issue(u *user) *identity.Session {
	token := "ory_st_" + uuid.NewString()
	b.sessions[token] = strings.ToLower(u.identity.Email)
	return &identity.Session{
		Token:     token,
		ExpiresAt: time.Now().Add(b.SessionTTL),
		Identity:  u.identity,
	}
}

func (b *Backend) Register(_ context.Context, params identity.SignUpParams) (*identity.Registration, error) {
	if err := b.begin(OpRegister); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := strings.ToLower(params.Email)
	if existing, ok := b.users[key]; ok {
		if b.HideDuplicates {
			ghost := existing.identity
			ghost.Credentials = nil
			return &identity.Registration{Identity: ghost}, nil
		}
		return nil, autherr.New(autherr.KindConflict, autherr.CodeAlreadyRegistered, "this email is already registered")
	}

	u := &user{
		identity: identity.Identity{
			ID:          uuid.New(),
			Email:       params.Email,
			Confirmed:   !b.RequireConfirmation,
			Credentials: []string{"password"},
		},
		password: params.Password,
	}
	b.users[key] = u

	reg := &identity.Registration{Identity: u.identity}
	if !b.RequireConfirmation {
		reg.Session = b.issue(u)
	} else {
		b.verifications[key]++
	}
	return reg, nil
}

func (b *Backend) Login(_ context.Context, email, password string) (*identity.Session, error) {
	if err := b.begin(OpLogin); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.users[strings.ToLower(email)]
	if !ok || u.password != password {
		return nil, autherr.New(autherr.KindProvider, autherr.CodeInvalidCredentials, "invalid email or password")
	}
	if b.RequireConfirmation && !u.identity.Confirmed {
		return nil, autherr.New(autherr.KindProvider, autherr.CodeEmailNotConfirmed, "please confirm your email address before signing in")
	}
	return b.issue(u), nil
}

func (b *Backend) Logout(_ context.Context, token string) error {
	if err := b.begin(OpLogout); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[token]; !ok {
		return autherr.New(autherr.KindNotAuthenticated, autherr.CodeSessionRequired, "you need to be signed in to do that")
	}
	delete(b.sessions, token)
	return nil
}

func (b *Backend) Whoami(_ context.Context, token string) (*identity.Session, error) {
	if err := b.begin(OpWhoami); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	email, ok := b.sessions[token]
	if !ok {
		return nil, autherr.New(autherr.KindNotAuthenticated, autherr.CodeSessionRequired, "you need to be signed in to do that")
	}
	u := b.users[email]
	return &identity.Session{
		Token:     token,
		ExpiresAt: time.Now().Add(b.SessionTTL),
		Identity:  u.identity,
	}, nil
}

func (b *Backend) SendVerification(_ context.Context, email, _ string) error {
	if err := b.begin(OpSendVerification); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifications[strings.ToLower(email)]++
	return nil
}

// StartRecovery issues a code even for unknown addresses, so callers cannot
// probe for accounts.
func (b *Backend) StartRecovery(_ context.Context, email, _ string) (string, error) {
	if err := b.begin(OpStartRecovery); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	flowID := uuid.NewString()
	b.recoveries[flowID] = recovery{
		email: strings.ToLower(email),
		code:  uuid.NewString()[:6],
	}
	return flowID, nil
}

func (b *Backend) CompleteRecovery(_ context.Context, flowID, code string) (*identity.Session, error) {
	if err := b.begin(OpCompleteRecovery); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.recoveries[flowID]
	if !ok || r.code != code {
		return nil, autherr.New(autherr.KindValidation, autherr.CodeRecoveryInvalid, "the recovery code is invalid or has expired")
	}
	u, ok := b.users[r.email]
	if !ok {
		return nil, autherr.New(autherr.KindValidation, autherr.CodeRecoveryInvalid, "the recovery code is invalid or has expired")
	}
	delete(b.recoveries, flowID)
	return b.issue(u), nil
}

func (b *Backend) UpdatePassword(_ context.Context, token, password string) (*identity.Identity, error) {
	if err := b.begin(OpUpdatePassword); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	email, ok := b.sessions[token]
	if !ok {
		return nil, autherr.New(autherr.KindNotAuthenticated, autherr.CodeSessionRequired, "you need to be signed in to do that")
	}
	u := b.users[email]
	if u.password == password {
		return nil, autherr.New(autherr.KindValidation, autherr.CodeSamePassword, "new password should be different from the old password")
	}
	u.password = password
	ident := u.identity
	return &ident, nil
}
