package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roomly/roomly/backend/storage"
	"github.com/roomly/roomly/backend/streamchat"

	"github.com/spf13/viper"
)

const devJWTSecret = "your_secret_key_please_change_in_production"

type Config struct {
	Env         string   `mapstructure:"env"`
	Port        int      `mapstructure:"port"`
	DatabaseURL string   `mapstructure:"database-url"`
	AutoMigrate bool     `mapstructure:"auto-migrate"`
	JWTSecret   string   `mapstructure:"jwt-secret"`
	CORSOrigins []string `mapstructure:"cors-origins"`
	AvatarDir   string   `mapstructure:"avatar-dir"`
	RedisAddr   string   `mapstructure:"redis-addr"`
	// Absolute base for links handed to third parties, e.g. avatar images.
	PublicURL string `mapstructure:"public-url"`

	Stream streamchat.Config `mapstructure:"stream"`
	Gemini GeminiConfig      `mapstructure:"gemini"`
	Maps   MapsConfig        `mapstructure:"maps"`
	S3     storage.S3Config  `mapstructure:"s3"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api-key"`
	Model  string `mapstructure:"model"`
}

type MapsConfig struct {
	APIKey   string        `mapstructure:"api-key"`
	BaseURL  string        `mapstructure:"base-url"`
	CacheTTL time.Duration `mapstructure:"cache-ttl"`
	// Delay between two geocoding calls in a bulk run.
	Throttle time.Duration `mapstructure:"throttle"`
}

func (c Config) Production() bool {
	return c.Env == "production"
}

var envBindings = map[string]string{
	"env":               "GO_ENV",
	"port":              "PORT",
	"database-url":      "DATABASE_URL",
	"auto-migrate":      "AUTO_MIGRATE",
	"jwt-secret":        "JWT_SECRET",
	"cors-origins":      "CORS_ORIGINS",
	"avatar-dir":        "AVATAR_DIR",
	"redis-addr":        "REDIS_ADDR",
	"public-url":        "PUBLIC_URL",
	"stream.api-key":    "STREAM_API_KEY",
	"stream.api-secret": "STREAM_API_SECRET",
	"stream.base-url":   "STREAM_BASE_URL",
	"gemini.api-key":    "GEMINI_API_KEY",
	"gemini.model":      "GEMINI_MODEL",
	"maps.api-key":      "GOOGLE_MAPS_API_KEY",
	"s3.bucket":         "S3_BUCKET",
	"s3.region":         "S3_REGION",
	"s3.endpoint":       "S3_ENDPOINT",
	"s3.access-key":     "S3_ACCESS_KEY",
	"s3.secret-key":     "S3_SECRET_KEY",
	"s3.use-path-style": "S3_USE_PATH_STYLE",
}

// configure sets defaults and binds the environment variables on v.
func configure(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("auto-migrate", true)
	v.SetDefault("avatar-dir", "./uploads")
	v.SetDefault("cors-origins", []string{
		"http://localhost:5173", "http://127.0.0.1:5173",
		"http://localhost:3001", "http://127.0.0.1:3001",
	})
	v.SetDefault("maps.cache-ttl", 30*24*time.Hour)
	v.SetDefault("maps.throttle", 200*time.Millisecond)
	v.SetDefault("stream.timeout", 10*time.Second)

	for key, env := range envBindings {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, env)
	}
}

// loadConfig reads the optional config file and decodes everything into a Config.
// A missing default config file is fine; a missing explicit one is not.
func loadConfig(v *viper.Viper, file string) (Config, []string, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(app)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("decode config: %w", err)
	}

	warnings, err := cfg.finish()
	return cfg, warnings, err
}

// finish fills development fallbacks and returns what it had to fall back on.
func (c *Config) finish() ([]string, error) {
	var warnings []string

	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = "development"
	}

	if c.DatabaseURL == "" {
		if c.Production() {
			return nil, errors.New("DATABASE_URL is required in production")
		}
		c.DatabaseURL = "user=admin password=password dbname=roomly sslmode=disable"
		warnings = append(warnings, "DATABASE_URL not set, using default connection string")
	}

	if c.JWTSecret == "" {
		if c.Production() {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		c.JWTSecret = devJWTSecret
		warnings = append(warnings, "JWT_SECRET not set, using development secret")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", c.Port)
	}

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
	c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")

	return warnings, nil
}
