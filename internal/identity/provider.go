// Package identity talks to the identity provider on behalf of one client
// context.
//
// A Backend is the stateless provider API (Ory Kratos in production). A
// Client wraps a Backend for a single client context: it persists the
// session token in that context's key/value scope and broadcasts auth-state
// changes to in-process listeners.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity is the provider's account record.
type Identity struct {
	ID        uuid.UUID
	Email     string
	Confirmed bool
	// Credentials lists the credential types linked to the identity. The
	// provider returns an empty list for a sign-up that collided with an
	// existing account when it hides account existence.
	Credentials []string
}

// Session is an authenticated session.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  Identity
}

// Registration is the outcome of a sign-up. Session is nil when the
// provider requires email confirmation before the first sign-in.
type Registration struct {
	Identity Identity
	Session  *Session
}

// SignUpParams carries a registration request.
type SignUpParams struct {
	Email    string
	Password string
	// RedirectTo is where the confirmation email should send the user.
	RedirectTo string
}

// UserAttributes are the identity fields a signed-in user may change.
type UserAttributes struct {
	Password string
}

// Event names an auth-state transition.
type Event string

const (
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// Listener receives auth-state changes. session is nil after sign-out.
// Listeners run on the goroutine that caused the change and must not call
// back into the Provider.
type Listener func(event Event, session *Session)

// Provider is the per-context identity surface used by the bootstrap flow.
type Provider interface {
	SignUp(ctx context.Context, params SignUpParams) (*Registration, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// Resend re-sends the sign-up confirmation email.
	Resend(ctx context.Context, email, redirectTo string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// VerifyRecovery exchanges the code from a recovery email for a session.
	VerifyRecovery(ctx context.Context, code string) (*Session, error)
	UpdateUser(ctx context.Context, attrs UserAttributes) (*Identity, error)
	OnAuthStateChange(fn Listener) (unsubscribe func())
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
}

// Backend is the stateless provider API a Client is built on.
type Backend interface {
	Register(ctx context.Context, params SignUpParams) (*Registration, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	Logout(ctx context.Context, token string) error
	Whoami(ctx context.Context, token string) (*Session, error)
	SendVerification(ctx context.Context, email, redirectTo string) error
	// StartRecovery sends a recovery code and returns the id of the
	// recovery flow the code belongs to.
	StartRecovery(ctx context.Context, email, redirectTo string) (flowID string, err error)
	CompleteRecovery(ctx context.Context, flowID, code string) (*Session, error)
	UpdatePassword(ctx context.Context, token, password string) (*Identity, error)
}
