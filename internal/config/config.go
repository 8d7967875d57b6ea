// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTIssuer      string `mapstructure:"JWT_ISSUER"`
	Port           string `mapstructure:"PORT"`
	DBDriver       string `mapstructure:"DB_DRIVER"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DBSQLitePath   string `mapstructure:"DB_SQLITE_PATH"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	UploadDir      string `mapstructure:"UPLOAD_DIR"`
	UploadMaxBytes int64  `mapstructure:"UPLOAD_MAX_BYTES"`

	WSMaxConnsPerUser int `mapstructure:"WS_MAX_CONNS_PER_USER"`
	WSMaxTotalConns   int `mapstructure:"WS_MAX_TOTAL_CONNS"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// a local .env seeds the process environment; real env vars win
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment overrides from .env")
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// the base file is optional
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(viper.GetViper())

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "lingochat")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_SQLITE_PATH", "lingochat.db")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	v.SetDefault("FEATURE_FLAGS", "typing_indicators=on,presence_mirror=on")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("UPLOAD_MAX_BYTES", 20*1024*1024)
	v.SetDefault("WS_MAX_CONNS_PER_USER", 12)
	v.SetDefault("WS_MAX_TOTAL_CONNS", 10000)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the config targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// SoftAuth reports whether tokens are accepted without signature verification.
// Only possible outside production, when no secret is configured.
func (c *Config) SoftAuth() bool {
	return c.JWTSecret == "" && !c.IsProduction()
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}

	switch strings.ToLower(c.DBDriver) {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	if c.UploadMaxBytes < 0 {
		return errors.New("UPLOAD_MAX_BYTES must not be negative")
	}

	if c.IsProduction() {
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if strings.EqualFold(c.DBDriver, "sqlite") {
			return errors.New("DB_DRIVER=sqlite is not supported in production")
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
		return nil
	}

	if c.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is empty. Tokens are decoded WITHOUT signature verification (development only).")
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
