// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"colloquy/internal/featureflags"

	"github.com/spf13/viper"
)

// Change feed backends selectable with CHANGE_FEED.
const (
	FeedRedis    = "redis"
	FeedPostgres = "postgres"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port               string  `mapstructure:"PORT"`
	Env                string  `mapstructure:"APP_ENV"`
	DBHost             string  `mapstructure:"DB_HOST"`
	DBPort             string  `mapstructure:"DB_PORT"`
	DBUser             string  `mapstructure:"DB_USER"`
	DBPassword         string  `mapstructure:"DB_PASSWORD"`
	DBName             string  `mapstructure:"DB_NAME"`
	DBSSLMode          string  `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns     int     `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns     int     `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime  int     `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	RedisURL           string  `mapstructure:"REDIS_URL"`
	JWTSecret          string  `mapstructure:"JWT_SECRET"`
	AllowedOrigins     string  `mapstructure:"ALLOWED_ORIGINS"`
	ChangeFeed         string  `mapstructure:"CHANGE_FEED"`
	ReloadCoalesceMS   int     `mapstructure:"RELOAD_COALESCE_MS"`
	ThreadPageSize     int     `mapstructure:"THREAD_PAGE_SIZE"`
	MutationRateLimit  int     `mapstructure:"MUTATION_RATE_LIMIT"`
	FeatureFlags       string  `mapstructure:"FEATURE_FLAGS"`
	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base config file is optional.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "colloquy")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("CHANGE_FEED", FeedRedis)
	v.SetDefault("RELOAD_COALESCE_MS", 50)
	v.SetDefault("THREAD_PAGE_SIZE", 0)
	v.SetDefault("MUTATION_RATE_LIMIT", 30)
	v.SetDefault("FEATURE_FLAGS", "")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.ChangeFeed = strings.ToLower(strings.TrimSpace(c.ChangeFeed))
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ReloadCoalesceWindow is the window in which bursts of change events collapse
// into a single thread reload.
func (c *Config) ReloadCoalesceWindow() time.Duration {
	return time.Duration(c.ReloadCoalesceMS) * time.Millisecond
}

// DSN builds the PostgreSQL connection string.
func (c *Config) DSN() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode,
	)
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.ChangeFeed {
	case FeedRedis, FeedPostgres:
	default:
		return fmt.Errorf("CHANGE_FEED must be %q or %q, got %q", FeedRedis, FeedPostgres, c.ChangeFeed)
	}
	if c.ReloadCoalesceMS < 0 {
		return errors.New("RELOAD_COALESCE_MS must be >= 0")
	}
	if c.ThreadPageSize < 0 {
		return errors.New("THREAD_PAGE_SIZE must be >= 0")
	}
	if c.MutationRateLimit <= 0 {
		return errors.New("MUTATION_RATE_LIMIT must be > 0")
	}
	if _, err := featureflags.Parse(c.FeatureFlags); err != nil {
		return fmt.Errorf("FEATURE_FLAGS: %w", err)
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return errors.New("TRACING_SAMPLE_RATIO must be within [0, 1]")
	}

	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
