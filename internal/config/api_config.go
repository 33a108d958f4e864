package config

import (
	"strings"
	"time"
)

const (
	baseURLVar     = "API_BASE_URL"
	publicPathVar  = "API_PUBLIC_PATH"
	privatePathVar = "API_PRIVATE_PATH"
	timeoutVar     = "API_TIMEOUT"
)

type APIConfig interface {
	GetBaseURL() string
	GetPublicBaseURL() string
	GetPrivateBaseURL() string
	GetRequestTimeout() time.Duration
}

type API struct {
	src source
}

var _ APIConfig = API{}

// GetBaseURL returns the backend origin, e.g. "http://localhost:8080".
func (a API) GetBaseURL() string {
	return strings.TrimRight(a.src.get(baseURLVar, "http://localhost:8080"), "/")
}

// GetPublicBaseURL returns the base for calls that carry no credential.
func (a API) GetPublicBaseURL() string {
	return a.GetBaseURL() + a.src.get(publicPathVar, "/api/public")
}

// GetPrivateBaseURL returns the base for calls that carry the session credential.
func (a API) GetPrivateBaseURL() string {
	return a.GetBaseURL() + a.src.get(privatePathVar, "/api/private")
}

func (a API) GetRequestTimeout() time.Duration {
	return parseDuration(a.src.get(timeoutVar, ""), 15*time.Second)
}
