package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPortalRootID is the collection every portal hangs below.
const DefaultPortalRootID = "5e40e372-735c-4b17-bbf7-e827a5702b57"

// Config holds all configuration for the statistics service.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// MigrationsPath is the directory holding the SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Auth          AuthConfig          `yaml:"auth"`
	Database      DatabaseConfig      `yaml:"database"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	Stats         StatsConfig         `yaml:"stats"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// Audience must be listed in a token's aud claim; empty disables the check.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"metaqs"`

	// RequiredRole additionally guards the maintenance endpoints; empty
	// admits any authenticated caller.
	RequiredRole string `yaml:"required_role" env:"AUTH_REQUIRED_ROLE" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"metaqs"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"metaqs"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ElasticsearchConfig holds the search index connection settings.
type ElasticsearchConfig struct {
	URL      string        `yaml:"url" env:"ELASTICSEARCH_URL" env-default:"http://localhost:9200"`
	Index    string        `yaml:"index" env:"ELASTICSEARCH_INDEX" env-default:"workspace"`
	Username string        `yaml:"username" env:"ELASTICSEARCH_USERNAME" env-default:""`
	Password string        `yaml:"-" env:"ELASTICSEARCH_PASSWORD"` // Secret - not in YAML
	Timeout  time.Duration `yaml:"timeout" env:"ELASTICSEARCH_TIMEOUT" env-default:"20s"`
	// MaxSize caps the number of documents fetched by listings.
	MaxSize int `yaml:"max_size" env:"ELASTIC_MAX_SIZE" env-default:"5000"`
	// PageSize is the composite aggregation page size.
	PageSize int `yaml:"page_size" env:"ELASTIC_PAGE_SIZE" env-default:"1000"`
}

// RedisConfig holds the optional score cache connection.
// An empty Host disables the cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// StatsConfig tunes statistics runs.
type StatsConfig struct {
	PortalRootIDStr string `yaml:"portal_root_id" env:"PORTAL_ROOT_ID" env-default:"5e40e372-735c-4b17-bbf7-e827a5702b57"`
	// PortalRootID is parsed from PortalRootIDStr.
	PortalRootID uuid.UUID `yaml:"-"`

	// TransactionalWrites wraps the rows of one run in a single transaction.
	// Off by default: a partially failed run stays visible.
	TransactionalWrites bool `yaml:"transactional_writes" env:"STATS_TRANSACTIONAL_WRITES" env-default:"false"`

	SeedDays          int           `yaml:"seed_days" env:"STATS_SEED_DAYS" env-default:"10"`
	MaxConcurrentRuns int64         `yaml:"max_concurrent_runs" env:"STATS_MAX_CONCURRENT_RUNS" env-default:"4"`
	RunTimeout        time.Duration `yaml:"run_timeout" env:"STATS_RUN_TIMEOUT" env-default:"10m"`
	ScoreCacheTTL     time.Duration `yaml:"score_cache_ttl" env:"STATS_SCORE_CACHE_TTL" env-default:"5m"`
	// ScheduleInterval triggers a run for the portal root periodically; 0 disables it.
	ScheduleInterval time.Duration `yaml:"schedule_interval" env:"STATS_SCHEDULE_INTERVAL" env-default:"0s"`

	// LicensePlaceholder is the license key treated like a missing license.
	LicensePlaceholder string `yaml:"license_placeholder" env:"STATS_LICENSE_PLACEHOLDER" env-default:"UNTERRICHTS_UND_LEHRMEDIEN"`
	// ScoreModulator names the default score modulator (linear, sqrt, square).
	ScoreModulator string `yaml:"score_modulator" env:"STATS_SCORE_MODULATOR" env-default:"linear"`
}

// Load reads configuration with environment variable overrides. The YAML
// file is CONFIG_PATH, or config.yaml; when it does not exist only the
// environment is used. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) && os.Getenv("CONFIG_PATH") == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)
	cfg.Elasticsearch.URL = ResolveURLForDocker(cfg.Elasticsearch.URL)

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)

	id, err := uuid.Parse(c.Stats.PortalRootIDStr)
	if err != nil {
		return fmt.Errorf("invalid portal_root_id %q: %w", c.Stats.PortalRootIDStr, err)
	}
	c.Stats.PortalRootID = id

	if c.Stats.SeedDays < 0 {
		return fmt.Errorf("seed_days must not be negative")
	}
	if c.Stats.MaxConcurrentRuns <= 0 {
		c.Stats.MaxConcurrentRuns = 1
	}

	if _, err := url.Parse(c.Elasticsearch.URL); err != nil {
		return fmt.Errorf("invalid elasticsearch url: %w", err)
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// URL returns a PostgreSQL connection URL.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}
