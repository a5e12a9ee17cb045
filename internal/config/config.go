// Package config provides configuration loading for the DXCP API server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide immutable snapshot loaded at startup.
// The kill switch and the CI publisher list are the only runtime-
// mutable settings; they live in the store and are re-read per request
// (see service.SystemService).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Identity IdentityConfig `mapstructure:"identity"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestDeadline time.Duration `mapstructure:"request_deadline"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	Environment     string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IdentityConfig holds bearer-token verification settings.
type IdentityConfig struct {
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	JWKSURL      string        `mapstructure:"jwks_url"`
	RolesClaim   string        `mapstructure:"roles_claim"`
	JWKSRefresh  time.Duration `mapstructure:"jwks_refresh"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// LimitsConfig holds rate and quota settings.
type LimitsConfig struct {
	ReadRPM   int `mapstructure:"read_rpm"`
	MutateRPM int `mapstructure:"mutate_rpm"`

	DailyQuotaDeploy           int `mapstructure:"daily_quota_deploy"`
	DailyQuotaRollback         int `mapstructure:"daily_quota_rollback"`
	DailyQuotaBuildRegister    int `mapstructure:"daily_quota_build_register"`
	DailyQuotaUploadCapability int `mapstructure:"daily_quota_upload_capability"`
}

// EngineConfig holds execution-engine adapter wiring.
type EngineConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	HeaderName  string        `mapstructure:"header_name"`
	HeaderValue string        `mapstructure:"header_value"`
	PollEvery   time.Duration `mapstructure:"poll_every"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// ArtifactConfig holds artifact reference validation settings.
type ArtifactConfig struct {
	Bucket       string   `mapstructure:"bucket"`
	SchemeAllow  []string `mapstructure:"scheme_allow"`
	MaxSizeBytes int64    `mapstructure:"max_size_bytes"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/dxcp")

	v.SetEnvPrefix("DXCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Nested keys need explicit binding for env-only deployments.
	v.BindEnv("identity.issuer", "DXCP_IDENTITY_ISSUER")
	v.BindEnv("identity.audience", "DXCP_IDENTITY_AUDIENCE")
	v.BindEnv("identity.jwks_url", "DXCP_IDENTITY_JWKS_URL")
	v.BindEnv("identity.roles_claim", "DXCP_IDENTITY_ROLES_CLAIM")
	v.BindEnv("engine.endpoint", "DXCP_ENGINE_ENDPOINT")
	v.BindEnv("engine.header_name", "DXCP_ENGINE_HEADER_NAME")
	v.BindEnv("engine.header_value", "DXCP_ENGINE_HEADER_VALUE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Sanity reports boolean readiness flags for /config/sanity.
func (c *Config) Sanity() map[string]bool {
	return map[string]bool{
		"identity_issuer_set":  c.Identity.Issuer != "",
		"identity_jwks_set":    c.Identity.JWKSURL != "",
		"identity_audience_set": c.Identity.Audience != "",
		"engine_endpoint_set":  c.Engine.Endpoint != "",
		"artifact_bucket_set":  c.Artifact.Bucket != "",
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_deadline", "30s")
	v.SetDefault("server.cors_origins", []string{"http://localhost:*"})
	v.SetDefault("server.environment", "dev")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dxcp")
	v.SetDefault("database.password", "dxcp")
	v.SetDefault("database.database", "dxcp")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("identity.roles_claim", "https://dxcp.dev/roles")
	v.SetDefault("identity.jwks_refresh", "15m")
	v.SetDefault("identity.fetch_timeout", "10s")

	v.SetDefault("limits.read_rpm", 300)
	v.SetDefault("limits.mutate_rpm", 60)
	v.SetDefault("limits.daily_quota_deploy", 50)
	v.SetDefault("limits.daily_quota_rollback", 20)
	v.SetDefault("limits.daily_quota_build_register", 200)
	v.SetDefault("limits.daily_quota_upload_capability", 200)

	v.SetDefault("engine.header_name", "X-Engine-Token")
	v.SetDefault("engine.poll_every", "5s")
	v.SetDefault("engine.poll_timeout", "5m")

	v.SetDefault("artifact.scheme_allow", []string{"s3"})
	v.SetDefault("artifact.max_size_bytes", int64(200*1024*1024))
}
