package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "LINKHUB"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabasePath        = "linkhub.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultSessionIssuer       = "linkhub-auth"
	defaultCookieName          = "app_session"
	defaultSinkTimeoutSeconds  = 10
	defaultStorageRegion       = "auto"
	defaultStorageURLTTL       = 60
	defaultCacheTTLSeconds     = 300
	defaultTrackingRatePerSec  = 5.0
	defaultTrackingBurst       = 20
	DatabaseDriverSQLite       = "sqlite"
	DatabaseDriverPostgres     = "postgres"
	legacySinkHostEnvironment  = "TINYBIRD_HOST"
	legacySinkTokenEnvironment = "TINYBIRD_TOKEN"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	Database       DatabaseSettings
	LogLevel       string
	LogFormat      string
	Session        SessionSettings
	AnalyticsSink  SinkSettings
	Storage        StorageSettings
	Cache          CacheSettings
	Tracking       TrackingSettings
}

// DatabaseSettings selects the gorm dialect and its connection target.
type DatabaseSettings struct {
	Driver string
	Path   string
	DSN    string
}

// SessionSettings describes how session cookies issued by the identity provider are verified.
type SessionSettings struct {
	SigningSecret string
	Issuer        string
	CookieName    string
}

// SinkSettings locates the external analytics sink. A sink without host or token is disabled.
type SinkSettings struct {
	Host    string
	Token   string
	Timeout time.Duration
}

// Enabled reports whether click forwarding and analytics queries are active.
func (s SinkSettings) Enabled() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.Token) != ""
}

// StorageSettings locates the S3-compatible bucket that holds profile images.
type StorageSettings struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	URLTTL          time.Duration
}

// Enabled reports whether profile image storage is configured.
func (s StorageSettings) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// CacheSettings locates the optional redis instance used for slug lookups.
type CacheSettings struct {
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Enabled reports whether slug lookups are cached.
func (s CacheSettings) Enabled() bool {
	return strings.TrimSpace(s.RedisAddress) != ""
}

// TrackingSettings bounds the public click endpoint per client address.
type TrackingSettings struct {
	RatePerSecond float64
	Burst         int
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

	_ = configViper.BindEnv("analytics.host", envPrefix+"_ANALYTICS_HOST", legacySinkHostEnvironment)
	_ = configViper.BindEnv("analytics.token", envPrefix+"_ANALYTICS_TOKEN", legacySinkTokenEnvironment)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("analytics.timeout_seconds", defaultSinkTimeoutSeconds)
	configViper.SetDefault("storage.region", defaultStorageRegion)
	configViper.SetDefault("storage.url_ttl_minutes", defaultStorageURLTTL)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("tracking.rate_per_second", defaultTrackingRatePerSec)
	configViper.SetDefault("tracking.burst", defaultTrackingBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		Database: DatabaseSettings{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		LogLevel:  configViper.GetString("log.level"),
		LogFormat: configViper.GetString("log.format"),
		Session: SessionSettings{
			SigningSecret: configViper.GetString("session.signing_secret"),
			Issuer:        configViper.GetString("session.issuer"),
			CookieName:    configViper.GetString("session.cookie_name"),
		},
		AnalyticsSink: SinkSettings{
			Host:    strings.TrimRight(strings.TrimSpace(configViper.GetString("analytics.host")), "/"),
			Token:   strings.TrimSpace(configViper.GetString("analytics.token")),
			Timeout: time.Duration(configViper.GetInt("analytics.timeout_seconds")) * time.Second,
		},
		Storage: StorageSettings{
			Bucket:          strings.TrimSpace(configViper.GetString("storage.bucket")),
			Endpoint:        strings.TrimSpace(configViper.GetString("storage.endpoint")),
			Region:          configViper.GetString("storage.region"),
			AccessKeyID:     configViper.GetString("storage.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.secret_access_key"),
			URLTTL:          time.Duration(configViper.GetInt("storage.url_ttl_minutes")) * time.Minute,
		},
		Cache: CacheSettings{
			RedisAddress:  strings.TrimSpace(configViper.GetString("cache.redis_address")),
			RedisPassword: configViper.GetString("cache.redis_password"),
			RedisDB:       configViper.GetInt("cache.redis_db"),
			TTL:           time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		},
		Tracking: TrackingSettings{
			RatePerSecond: configViper.GetFloat64("tracking.rate_per_second"),
			Burst:         configViper.GetInt("tracking.burst"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Session.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.Session.Issuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.AnalyticsSink.Timeout <= 0 {
		return fmt.Errorf("analytics.timeout_seconds must be positive")
	}
	if c.Storage.Enabled() && c.Storage.URLTTL <= 0 {
		return fmt.Errorf("storage.url_ttl_minutes must be positive")
	}
	if c.Tracking.RatePerSecond <= 0 || c.Tracking.Burst <= 0 {
		return fmt.Errorf("tracking.rate_per_second and tracking.burst must be positive")
	}
	return nil
}
