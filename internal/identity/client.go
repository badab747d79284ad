package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"menuboard/internal/autherr"
	"menuboard/internal/kvstore"
)

// Keys persisted in the client context's key/value scope.
const (
	SessionKey  = "auth_session"
	RecoveryKey = "auth_recovery"
)

// Client is the Provider of one client context.
type Client struct {
	backend  Backend
	store    kvstore.Store
	notifier *notifier
	logger   *slog.Logger

	mu      sync.Mutex
	session *Session
}

var _ Provider = (*Client)(nil)

// NewClient creates a Client for a single client context.
func NewClient(backend Backend, store kvstore.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:  backend,
		store:    store,
		notifier: newNotifier(),
		logger:   logger.With("component", "identity"),
	}
}

func (c *Client) SignUp(ctx context.Context, params SignUpParams) (*Registration, error) {
	reg, err := c.backend.Register(ctx, params)
	if err != nil {
		return nil, err
	}

	if reg.Session != nil {
		if err := c.setSession(ctx, reg.Session); err != nil {
			return nil, err
		}
		c.notifier.emit(EventSignedIn, reg.Session)
	}

	return reg, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := c.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := c.setSession(ctx, session); err != nil {
		return nil, err
	}
	c.notifier.emit(EventSignedIn, session)

	return session, nil
}

// SignOut revokes the session at the provider and forgets it locally. The
// local session is dropped even when revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	token := ""
	if session != nil {
		token = session.Token
	} else if stored, ok, err := c.store.GetItem(ctx, SessionKey); err == nil && ok {
		token = stored
	}

	var revokeErr error
	if token != "" {
		if err := c.backend.Logout(ctx, token); err != nil && !errors.Is(err, autherr.ErrNotAuthenticated) {
			c.logger.Warn("failed to revoke session at provider", "error", err)
			revokeErr = err
		}
	}

	if err := c.store.RemoveItem(ctx, SessionKey); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}

	c.notifier.emit(EventSignedOut, nil)
	return revokeErr
}

func (c *Client) Resend(ctx context.Context, email, redirectTo string) error {
	return c.backend.SendVerification(ctx, email, redirectTo)
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	flowID, err := c.backend.StartRecovery(ctx, email, redirectTo)
	if err != nil {
		return err
	}
	if err := c.store.SetItem(ctx, RecoveryKey, flowID); err != nil {
		return fmt.Errorf("remember recovery flow: %w", err)
	}
	return nil
}

func (c *Client) VerifyRecovery(ctx context.Context, code string) (*Session, error) {
	flowID, ok, err := c.store.GetItem(ctx, RecoveryKey)
	if errors.Is(err, kvstore.ErrUnsealable) {
		c.discard(ctx, RecoveryKey, err)
		ok, err = false, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recovery flow: %w", err)
	}
	if !ok {
		return nil, autherr.New(autherr.KindValidation, autherr.CodeRecoveryInvalid,
			"the recovery link is invalid or has expired")
	}

	session, err := c.backend.CompleteRecovery(ctx, flowID, code)
	if err != nil {
		return nil, err
	}

	if err := c.store.RemoveItem(ctx, RecoveryKey); err != nil {
		c.logger.Warn("failed to forget recovery flow", "error", err)
	}
	if err := c.setSession(ctx, session); err != nil {
		return nil, err
	}
	c.notifier.emit(EventPasswordRecovery, session)

	return session, nil
}

func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (*Identity, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, autherr.New(autherr.KindNotAuthenticated, autherr.CodeSessionRequired,
			"you need to be signed in to do that")
	}

	updated, err := c.backend.UpdatePassword(ctx, session.Token, attrs.Password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	var next *Session
	if c.session != nil && c.session.Token == session.Token {
		s := *c.session
		s.Identity = *updated
		c.session = &s
		next = &s
	}
	c.mu.Unlock()

	if next != nil {
		c.notifier.emit(EventUserUpdated, next)
	}
	return updated, nil
}

func (c *Client) OnAuthStateChange(fn Listener) func() {
	return c.notifier.subscribe(fn)
}

// GetSession returns the cached session, restoring it from the persisted
// token when needed. A token the provider no longer accepts is discarded.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session != nil {
		s := *c.session
		c.mu.Unlock()
		return &s, nil
	}
	c.mu.Unlock()

	token, ok, err := c.store.GetItem(ctx, SessionKey)
	if errors.Is(err, kvstore.ErrUnsealable) {
		c.discard(ctx, SessionKey, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok || token == "" {
		return nil, nil
	}

	session, err := c.backend.Whoami(ctx, token)
	if err != nil {
		if errors.Is(err, autherr.ErrNotAuthenticated) {
			if rmErr := c.store.RemoveItem(ctx, SessionKey); rmErr != nil {
				c.logger.Warn("failed to discard stale session", "error", rmErr)
			}
			return nil, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	s := *session
	return &s, nil
}

// discard removes a stored value that can no longer be decrypted.
func (c *Client) discard(ctx context.Context, key string, cause error) {
	c.logger.Warn("discarding unreadable stored value", "key", key, "error", cause)
	if err := c.store.RemoveItem(ctx, key); err != nil {
		c.logger.Error("failed to remove unreadable stored value", "key", key, "error", err)
	}
}

func (c *Client) setSession(ctx context.Context, session *Session) error {
	if err := c.store.SetItem(ctx, SessionKey, session.Token); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}
