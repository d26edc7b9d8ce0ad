package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const envPrefix = "GATEHOUSE_"

// DefaultFile is probed in the working directory when GATEHOUSE_CONFIG is unset.
const DefaultFile = "gatehouse.toml"

// Config holds all runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	GRPC     GRPCConfig     `toml:"grpc"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Upload   UploadConfig   `toml:"upload"`
	Redis    RedisConfig    `toml:"redis"`
	LogLevel string         `toml:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `toml:"addr"`
	CORSOrigins     []string      `toml:"cors_origins"`
	RateBurst       int           `toml:"rate_burst"`
	RatePerSecond   int           `toml:"rate_per_second"`
	MaxBodyBytes    int64         `toml:"max_body_bytes"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// GRPCConfig configures the ops gRPC listener; an empty Addr disables it.
type GRPCConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// AuthConfig controls session tokens and the session cookie.
type AuthConfig struct {
	JWTSecret    string        `toml:"jwt_secret"`
	JWTExpiresIn time.Duration `toml:"jwt_expires_in"`
	JWTMaxTokens int           `toml:"jwt_max_tokens"`
	CookieName   string        `toml:"cookie_name"`
	CookieSecure bool          `toml:"cookie_secure"`
}

type UploadConfig struct {
	Dir      string `toml:"dir"`
	MaxBytes int64  `toml:"max_bytes"`
}

// RedisConfig enables cross-instance notification fan-out when URL is set.
type RedisConfig struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"http://localhost:3000"},
			RateBurst:       50,
			RatePerSecond:   20,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			JWTExpiresIn: 24 * time.Hour,
			JWTMaxTokens: 5,
			CookieName:   "access-token",
		},
		Upload: UploadConfig{
			Dir:      "./uploads",
			MaxBytes: 32 << 20,
		},
		Redis:    RedisConfig{Channel: "gatehouse:notifications"},
		LogLevel: "info",
	}
}

// Load layers defaults, the optional TOML file and GATEHOUSE_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()
	path, explicit := os.LookupEnv(envPrefix + "CONFIG")
	if !explicit {
		path = DefaultFile
	}
	if err := LoadFile(cfg, path, explicit); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file over cfg. A missing file is an error only when required.
func LoadFile(cfg *Config, path string, required bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.CORSOrigins = getEnvSlice("CORS_ORIGINS", cfg.HTTP.CORSOrigins)
	cfg.HTTP.RateBurst = getEnvInt("RATE_BURST", cfg.HTTP.RateBurst)
	cfg.HTTP.RatePerSecond = getEnvInt("RATE_PER_SECOND", cfg.HTTP.RatePerSecond)
	cfg.HTTP.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(cfg.HTTP.MaxBodyBytes)))
	cfg.HTTP.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)

	cfg.GRPC.Addr = getEnv("GRPC_ADDR", cfg.GRPC.Addr)

	cfg.Database.DSN = getEnv("PG_DSN", cfg.Database.DSN)
	cfg.Database.MaxOpenConns = getEnvInt("PG_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("PG_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("PG_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTExpiresIn = getEnvDuration("JWT_EXPIRES_IN", cfg.Auth.JWTExpiresIn)
	cfg.Auth.JWTMaxTokens = getEnvInt("JWT_MAX_TOKENS", cfg.Auth.JWTMaxTokens)
	cfg.Auth.CookieName = getEnv("COOKIE_NAME", cfg.Auth.CookieName)
	cfg.Auth.CookieSecure = getEnvBool("COOKIE_SECURE", cfg.Auth.CookieSecure)

	cfg.Upload.Dir = getEnv("UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Upload.MaxBytes = int64(getEnvInt("UPLOAD_MAX_BYTES", int(cfg.Upload.MaxBytes)))

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", cfg.Redis.Channel)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret is required (GATEHOUSE_JWT_SECRET)")
	}
	if c.Auth.JWTExpiresIn <= 0 {
		return errors.New("config: jwt expiry must be positive")
	}
	if c.Auth.JWTMaxTokens < 1 {
		return errors.New("config: jwt max tokens must be at least 1")
	}
	if c.Auth.CookieName == "" {
		return errors.New("config: cookie name is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("24h") and bare integers as seconds ("86400").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return defaultValue
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
