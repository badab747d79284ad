// Package autherr defines the error taxonomy used at the bootstrap flow boundary.
//
// Every provider, directory or local failure is mapped to one Kind before it
// reaches an HTTP response. Codes refine a Kind for callers that need to react
// to a specific condition (for example offering a "resend confirmation" link).
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the user can recover from it.
type Kind string

const (
	// KindValidation is a local, pre-network failure such as a malformed handle.
	KindValidation Kind = "validation_error"
	// KindConflict means a handle, email or unique key is already taken.
	KindConflict Kind = "conflict_error"
	// KindNotAuthenticated is recoverable by signing in.
	KindNotAuthenticated Kind = "not_authenticated"
	// KindNoPendingData is a terminal provisioning state, not a user-facing failure.
	KindNoPendingData Kind = "no_pending_data"
	// KindProvider covers rate limits and transient backend failures.
	KindProvider Kind = "provider_error"
	// KindCorruptLocalState is self-healed and never surfaced.
	KindCorruptLocalState Kind = "corrupt_local_state"
)

// Codes refining a Kind.
const (
	CodeInvalidInput        = "invalid_input"
	CodeHandleRequired      = "handle_required"
	CodeHandleInvalid       = "handle_invalid"
	CodeHandleTaken         = "handle_taken"
	CodeDisplayNameRequired = "display_name_required"
	CodePasswordMismatch    = "password_mismatch"
	CodePasswordTooShort    = "password_too_short"
	CodePasswordPolicy      = "password_policy"
	CodeSamePassword        = "same_password"
	CodeAlreadyRegistered   = "already_registered"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailNotConfirmed   = "email_not_confirmed"
	CodeSessionRequired     = "session_required"
	CodeRecoveryInvalid     = "recovery_token_invalid"
	CodeNoTarget            = "no_target_email"
	CodeCooldown            = "cooldown_active"
	CodeRateLimited         = "rate_limited"
	CodeUnavailable         = "unavailable"
	CodeOwnerExists         = "owner_exists"
	CodeNoPendingData       = "no_pending_data"
	CodeUnknown             = "unknown"
)

// Error is an error carrying a Kind, a refining Code and a user-facing message.
// Message never contains raw provider text.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind and, when the target sets one, by Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New creates an Error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error around a cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is matching on kind only.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotAuthenticated  = &Error{Kind: KindNotAuthenticated}
	ErrNoPendingData     = &Error{Kind: KindNoPendingData}
	ErrProvider          = &Error{Kind: KindProvider}
	ErrCorruptLocalState = &Error{Kind: KindCorruptLocalState}
)

// KindOf returns the Kind of err, or KindProvider for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProvider
}

// CodeOf returns the Code of err, or CodeUnknown.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeUnknown
}

// As converts any error to an *Error, wrapping foreign errors as a generic
// provider failure.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindProvider, CodeUnknown, "something went wrong, please try again later", err)
}
