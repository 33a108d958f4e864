package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Status is the position of the session in its lifecycle.
type Status string

const (
	StatusUnauthenticated      Status = "unauthenticated"
	StatusAuthenticating       Status = "authenticating"
	StatusAuthenticated        Status = "authenticated"
	StatusAwaitingConfirmation Status = "awaiting-email-confirmation"
)

// Form is the auth form the user is filling in. Error fields hold the
// message for the matching input, or "" when it passed validation.
type Form struct {
	Email                string
	Password             string
	ConfirmPassword      string
	EmailError           string
	PasswordError        string
	ConfirmPasswordError string
}

// HasErrors reports whether any field failed its last validation.
func (f Form) HasErrors() bool {
	return f.EmailError != "" || f.PasswordError != "" || f.ConfirmPasswordError != ""
}

// State is a snapshot of the session. IsAuthenticated is the only field the
// UI may use to decide whether the user is signed in; a resident token may be
// stale.
type State struct {
	Status          Status
	IsAuthenticated bool
	IsLoading       bool

	AccessToken       string
	RefreshToken      string
	SessionID         string
	AccessTokenExpiry time.Time // zero when the access token carries no exp claim

	// PendingEmail is the address awaiting a confirmation code.
	PendingEmail string
	Form         Form

	// Message is the last user-visible outcome (success or failure).
	Message string
}

// Token returns the credentials as an oauth2 token, or nil without an access token.
func (s State) Token() *oauth2.Token {
	if s.AccessToken == "" {
		return nil
	}
	t := &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.AccessTokenExpiry,
	}
	if s.SessionID != "" {
		t = t.WithExtra(map[string]any{"session_id": s.SessionID})
	}
	return t
}

func newState() State {
	return State{Status: StatusUnauthenticated}
}

// tokenResponse is the body of login, register, confirm and refresh responses.
type tokenResponse struct {
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	SessionID            string `json:"session_id,omitempty"`
	ConfirmationRequired bool   `json:"confirmation_required,omitempty"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type validateRequest struct {
	AccessToken string `json:"access_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// accessTokenExpiry reads the exp claim of a JWT access token without
// verifying it; the backend remains the authority on validity. Opaque tokens
// yield the zero time.
func accessTokenExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
