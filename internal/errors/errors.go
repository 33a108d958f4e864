package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session core
var (
	// Validation errors
	ErrInvalidEmail      = errors.New("invalid email")
	ErrPasswordTooShort  = errors.New("password too short")
	ErrPasswordsMismatch = errors.New("passwords do not match")
	ErrInvalidField      = errors.New("invalid field")

	// Credential errors
	ErrNoCredentials   = errors.New("no stored credentials")
	ErrUnknownKey      = errors.New("unknown credential key")
	ErrInvalidToken    = errors.New("invalid token")
	ErrNoRefreshToken  = errors.New("no refresh token")
	ErrRefreshRejected = errors.New("refresh rejected")

	// Session errors
	ErrSessionExpired       = errors.New("session expired")
	ErrNotAwaitingConfirm   = errors.New("not awaiting email confirmation")
	ErrBusy                 = errors.New("operation already in flight")
	ErrClosed               = errors.New("closed")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Kind is the closed set of failure classes surfaced to the UI layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindSessionExpired
	KindNetwork
	KindPersistence
	KindHTTP
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindSessionExpired:
		return "session_expired"
	case KindNetwork:
		return "network"
	case KindPersistence:
		return "persistence"
	case KindHTTP:
		return "http"
	case KindBusy:
		return "busy"
	}
	return "unknown"
}

// Error carries a Kind alongside the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. A nil cause is allowed for kinds that need no detail.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrBusy) {
		return KindBusy
	}
	return KindUnknown
}

// UserMessage renders err as the message shown to the user. Persistence failures
// read like network failures since the user can do nothing different about them.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		return "Please check the highlighted fields"
	case KindAuthorization:
		return "Invalid email or password"
	case KindSessionExpired:
		return "Your session has expired, please sign in again"
	case KindNetwork, KindPersistence:
		return "Something went wrong, please try again"
	case KindBusy:
		return "Please wait for the current request to finish"
	case KindHTTP:
		return "The server could not process the request"
	}
	return err.Error()
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
