package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "CASEUS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "caseus.db"
	defaultLogLevel       = "info"
	defaultTokenIssuer    = "caseus-auth"
	defaultTokenAudience  = "caseus-api"
	defaultTokenTTL       = 30 * time.Minute
	defaultStorageBackend = "local"
	defaultStorageDir     = "caseus-photos"
	defaultMessageWindow  = 50
	defaultHistoryLimit   = 100
	defaultAuthRateRPM    = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string

	DatabasePath string
	LogLevel     string

	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	TokenTTL         time.Duration
	ProviderJWKSURL  string
	ProviderAudience string
	ProviderIssuers  []string

	StorageBackend  string
	StorageLocalDir string
	GCSBucket       string
	GCSCredentials  string

	ChatMessageWindow int
	ChatHistoryLimit  int

	AuthRateLimitPerMinute int
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
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("auth.rate_limit_per_minute", defaultAuthRateRPM)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.local_dir", defaultStorageDir)
	configViper.SetDefault("chat.message_window", defaultMessageWindow)
	configViper.SetDefault("chat.history_limit", defaultHistoryLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		DatabasePath:           configViper.GetString("database.path"),
		LogLevel:               configViper.GetString("log.level"),
		SigningSecret:          configViper.GetString("auth.signing_secret"),
		TokenIssuer:            configViper.GetString("auth.token_issuer"),
		TokenAudience:          configViper.GetString("auth.token_audience"),
		TokenTTL:               configViper.GetDuration("auth.token_ttl"),
		ProviderJWKSURL:        configViper.GetString("auth.provider_jwks_url"),
		ProviderAudience:       configViper.GetString("auth.provider_audience"),
		ProviderIssuers:        splitList(configViper.GetString("auth.provider_issuers")),
		StorageBackend:         configViper.GetString("storage.backend"),
		StorageLocalDir:        configViper.GetString("storage.local_dir"),
		GCSBucket:              configViper.GetString("storage.gcs_bucket"),
		GCSCredentials:         configViper.GetString("storage.gcs_credentials"),
		ChatMessageWindow:      configViper.GetInt("chat.message_window"),
		ChatHistoryLimit:       configViper.GetInt("chat.history_limit"),
		AuthRateLimitPerMinute: configViper.GetInt("auth.rate_limit_per_minute"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ProviderJWKSURL) == "" {
		return fmt.Errorf("auth.provider_jwks_url is required")
	}
	if strings.TrimSpace(c.ProviderAudience) == "" {
		return fmt.Errorf("auth.provider_audience is required")
	}
	if len(c.ProviderIssuers) == 0 {
		return fmt.Errorf("auth.provider_issuers is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	switch c.StorageBackend {
	case "local":
		if strings.TrimSpace(c.StorageLocalDir) == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or gcs, got %q", c.StorageBackend)
	}
	if c.ChatMessageWindow <= 0 {
		return fmt.Errorf("chat.message_window must be positive")
	}
	if c.ChatHistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive")
	}
	if c.AuthRateLimitPerMinute <= 0 {
		return fmt.Errorf("auth.rate_limit_per_minute must be positive")
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	var cleaned []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
