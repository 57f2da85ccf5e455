package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PARLEY"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "parley.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "parley_session"
	defaultSessionTTLMinutes = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderTenantID     string
	ProviderRedirectURL  string
	SessionCookieName    string
	SessionTTL           time.Duration
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		ProviderClientID:     configViper.GetString("provider.client_id"),
		ProviderClientSecret: configViper.GetString("provider.client_secret"),
		ProviderTenantID:     configViper.GetString("provider.tenant_id"),
		ProviderRedirectURL:  configViper.GetString("provider.redirect_url"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
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
	if strings.TrimSpace(c.ProviderClientID) == "" {
		return fmt.Errorf("provider.client_id is required")
	}
	if strings.TrimSpace(c.ProviderClientSecret) == "" {
		return fmt.Errorf("provider.client_secret is required")
	}
	if strings.TrimSpace(c.ProviderTenantID) == "" {
		return fmt.Errorf("provider.tenant_id is required")
	}
	if strings.TrimSpace(c.ProviderRedirectURL) == "" {
		return fmt.Errorf("provider.redirect_url is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	return nil
}
