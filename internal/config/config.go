// Package config loads runtime configuration from configs/.env and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"helpdesk/internal/rbac"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv  string `envconfig:"APP_ENV" default:"development"`
	AppAddr string `envconfig:"APP_ADDR" default:":8080"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DBDSN             string        `envconfig:"DB_DSN"`
	DBHost            string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort            string        `envconfig:"DB_PORT" default:"5432"`
	DBUser            string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword        string        `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName            string        `envconfig:"DB_NAME" default:"helpdesk"`
	DBSSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	// RedisAddr empty selects the in-process permission cache.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RBACCacheTTL  time.Duration `envconfig:"RBAC_CACHE_TTL" default:"5m"`

	RBACRoleNameCase  string `envconfig:"RBAC_ROLE_NAME_CASE" default:"fold"`
	RBACSuperuserRole string `envconfig:"RBAC_SUPERUSER_ROLE" default:"SuperAdmin"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://127.0.0.1:5173"`

	SeedOnStartup     bool   `envconfig:"SEED_ON_STARTUP" default:"true"`
	SeedAdminUsername string `envconfig:"SEED_ADMIN_USERNAME" default:"admin"`
	SeedAdminPassword string `envconfig:"SEED_ADMIN_PASSWORD" default:"Admin123*"`
	SeedAdminEmail    string `envconfig:"SEED_ADMIN_EMAIL" default:"admin@soporte.local"`
}

// Load reads path (when it exists) into the environment and parses it.
func Load(path string) (*Config, error) {
	if path != "" {
		// a missing file is fine; the environment alone may be enough
		_ = godotenv.Load(path)
	}
	return FromEnv()
}

// FromEnv parses the process environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return errors.New("config: JWT_SECRET must be provided in production")
		}
		c.JWTSecret = "dev-secret-change-me"
	}
	if _, err := rbac.ParseNamePolicy(c.RBACRoleNameCase); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(c.RBACSuperuserRole) == "" {
		return errors.New("config: RBAC_SUPERUSER_ROLE must not be empty")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// DSN returns DB_DSN, or a postgres URL assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// NamePolicy returns the parsed role name policy.
func (c *Config) NamePolicy() rbac.NamePolicy {
	p, _ := rbac.ParseNamePolicy(c.RBACRoleNameCase)
	return p
}
