package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config interface {
	EnvConfig
	APIConfig
	SessionConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	API
	Session
	Storage
}

// New returns a Config read from environment variables only.
func New() Config {
	return newMainConfig(source{})
}

// Load returns a Config whose values come from environment variables first and
// then from the YAML file at path. Keys in the file are the environment variable
// names in lower case, e.g. `api_base_url: http://localhost:8080`.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config.Load] read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("[config.Load] parse %s: %w", path, err)
	}
	values := make(source, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return newMainConfig(values), nil
}

func newMainConfig(s source) mainConfig {
	return mainConfig{
		EnvVars: EnvVars{src: s},
		API:     API{src: s},
		Session: Session{src: s},
		Storage: Storage{src: s},
	}
}

// source holds file-provided values keyed by environment variable name.
type source map[string]string

func (s source) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := s[envVar]; ok && value != "" {
		return value
	}
	return defaultValue
}
