package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TABVAULT"
	defaultHTTPAddress    = "127.0.0.1:8931"
	defaultDatabasePath   = "tabvault.db"
	defaultLogLevel       = "info"
	defaultRemoteTimeout  = 30
	defaultAllowedOrigins = "chrome-extension://*"
)

// AppConfig captures runtime configuration for the tabvault daemon and CLI.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	RemoteBaseURL  string
	SigningSecret  string
	RemoteTimeout  time.Duration
	AllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		RemoteBaseURL:  configViper.GetString("remote.base_url"),
		SigningSecret:  configViper.GetString("remote.signing_secret"),
		RemoteTimeout:  time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		AllowedOrigins: splitOrigins(configViper.GetString("http.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.RemoteTimeout < 0 {
		return fmt.Errorf("remote.timeout_seconds must not be negative")
	}
	return nil
}

// RequireRemote validates the fields needed to reach the remote service. The
// daemon can run fully offline; auth commands cannot.
func (c AppConfig) RequireRemote() error {
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("remote.signing_secret is required")
	}
	return nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
