// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PAGEWATCH_"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Log      LogConfig      `koanf:"log"`
	CORS     CORSConfig     `koanf:"cors"`
	Auth     AuthConfig     `koanf:"auth"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Incident IncidentConfig `koanf:"incident"`
	Notify   NotifyConfig   `koanf:"notify"`
	Game     GameConfig     `koanf:"game"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// NATSConfig holds the optional alarm-stream transport settings.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	SecretKey string `koanf:"secret_key"`
	Issuer    string `koanf:"issuer"`
}

// IngestConfig holds alarm webhook settings.
type IngestConfig struct {
	WebhookSecret string `koanf:"webhook_secret"`
}

// IncidentConfig holds incident lifecycle settings.
type IncidentConfig struct {
	Retention     time.Duration `koanf:"retention"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// NotifyConfig holds notification pipeline settings.
type NotifyConfig struct {
	Enabled bool                `koanf:"enabled"`
	Worker  WorkerConfig        `koanf:"worker"`
	Retry   RetryConfig         `koanf:"retry"`
	APNs    APNsSenderConfig    `koanf:"apns"`
	FCM     FCMSenderConfig     `koanf:"fcm"`
	WebPush WebPushSenderConfig `koanf:"webpush"`
}

// WorkerConfig holds notification worker settings.
type WorkerConfig struct {
	BatchSize     int           `koanf:"batch_size"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	NumDeliverers int           `koanf:"num_deliverers"`
}

// RetryConfig holds delivery retry settings.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// APNsSenderConfig holds iOS push settings.
type APNsSenderConfig struct {
	Enabled   bool    `koanf:"enabled"`
	KeyID     string  `koanf:"key_id"`
	TeamID    string  `koanf:"team_id"`
	BundleID  string  `koanf:"bundle_id"`
	RateLimit float64 `koanf:"rate_limit"`
}

// FCMSenderConfig holds Android push settings.
type FCMSenderConfig struct {
	Enabled         bool    `koanf:"enabled"`
	ProjectID       string  `koanf:"project_id"`
	CredentialsFile string  `koanf:"credentials_file"`
	RateLimit       float64 `koanf:"rate_limit"`
}

// WebPushSenderConfig holds browser push settings.
type WebPushSenderConfig struct {
	Enabled         bool    `koanf:"enabled"`
	VAPIDPublicKey  string  `koanf:"vapid_public_key"`
	VAPIDPrivateKey string  `koanf:"vapid_private_key"`
	Subscriber      string  `koanf:"subscriber"`
	RateLimit       float64 `koanf:"rate_limit"`
}

// GameConfig holds game-mode settings.
type GameConfig struct {
	Enabled         bool          `koanf:"enabled"`
	SessionDuration time.Duration `koanf:"session_duration"`
}

// Load reads configuration from the given YAML file (optional) and
// applies PAGEWATCH_* environment overrides (PAGEWATCH_SERVER_PORT
// overrides server.port).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Incident: IncidentConfig{
			Retention:     7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Worker: WorkerConfig{
				BatchSize:     100,
				PollInterval:  2 * time.Second,
				NumDeliverers: 5,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        2 * time.Minute,
				BackoffMultiplier: 2.0,
			},
		},
		Game: GameConfig{
			SessionDuration: 60 * time.Second,
		},
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required")
	}
	if c.Ingest.WebhookSecret == "" {
		return fmt.Errorf("ingest.webhook_secret is required")
	}
	return nil
}
