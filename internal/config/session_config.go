package config

import "strings"

const (
	credentialSchemeVar       = "CREDENTIAL_SCHEME"
	passwordMinLengthVar      = "PASSWORD_MIN_LENGTH"
	logoutOnGatewayTimeoutVar = "LOGOUT_ON_GATEWAY_TIMEOUT"
	notifyLogoutVar           = "NOTIFY_BACKEND_ON_LOGOUT"
)

type SessionConfig interface {
	GetCredentialScheme() string
	GetPasswordMinLength() int
	GetLogoutOnGatewayTimeout() bool
	GetNotifyBackendOnLogout() bool
}

type Session struct {
	src source
}

var _ SessionConfig = Session{}

// GetCredentialScheme returns "session" (X-Session-ID header) or "bearer".
func (s Session) GetCredentialScheme() string {
	switch scheme := strings.ToLower(s.src.get(credentialSchemeVar, "session")); scheme {
	case "bearer":
		return scheme
	default:
		return "session"
	}
}

func (s Session) GetPasswordMinLength() int {
	return parseInt(s.src.get(passwordMinLengthVar, ""), 6)
}

// GetLogoutOnGatewayTimeout controls whether a 504 from /users/me ends the session.
func (s Session) GetLogoutOnGatewayTimeout() bool {
	return parseBool(s.src.get(logoutOnGatewayTimeoutVar, ""), true)
}

func (s Session) GetNotifyBackendOnLogout() bool {
	return parseBool(s.src.get(notifyLogoutVar, ""), false)
}
