// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every service component.
//
// Configuration layout:
// - Grouped by component (server, storage, rate limiting, OTP, notification, auth)
// - Defaults that run out of the box with in-memory storage and log-only mail
// - Validation rejects misconfiguration before any component starts
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeRedis    = "redis"
)

// Notification sender constants
const (
	SenderLog   = "log"
	SenderBrevo = "brevo"
	SenderKafka = "kafka"
)

// MinJWTSecretLength is the shortest accepted HS256 signing secret.
const MinJWTSecretLength = 32

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: user record persistence
// - RateLimit: per-class token bucket throttling
// - OTP: one-time password lifetimes and delivery policy
// - Notification: outbound mail dispatching
// - Auth: credential hashing and session tokens
// - Logging, Metrics, Observability: operational output
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	OTP           OTPConfig           `yaml:"otp" json:"otp"`
	Notification  NotificationConfig  `yaml:"notification" json:"notification"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RateLimitConfig holds the three bucket profiles applied by the throttling
// middleware. Each class is independent; a client exhausting its login bucket
// can still use the OTP endpoints.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	Login             BucketConfig  `yaml:"login" json:"login"`
	OTP               BucketConfig  `yaml:"otp" json:"otp"`
	General           BucketConfig  `yaml:"general" json:"general"`
}

// BucketConfig describes one token bucket profile. Refill is discrete:
// RefillTokens are added once per elapsed interval.
type BucketConfig struct {
	Capacity              int `yaml:"capacity" json:"capacity"`
	RefillTokens          int `yaml:"refill_tokens" json:"refill_tokens"`
	RefillIntervalMinutes int `yaml:"refill_interval_minutes" json:"refill_interval_minutes"`
}

// RefillInterval returns the configured interval as a duration.
func (b BucketConfig) RefillInterval() time.Duration {
	return time.Duration(b.RefillIntervalMinutes) * time.Minute
}

type OTPConfig struct {
	ResetTTLMinutes  int  `yaml:"reset_ttl_minutes" json:"reset_ttl_minutes"`
	VerifyTTLMinutes int  `yaml:"verify_ttl_minutes" json:"verify_ttl_minutes"`
	RequireDelivery  bool `yaml:"require_delivery" json:"require_delivery"`
}

// ResetTTL returns the lifetime of a password-reset code.
func (o OTPConfig) ResetTTL() time.Duration {
	return time.Duration(o.ResetTTLMinutes) * time.Minute
}

// VerifyTTL returns the lifetime of an account-verification code.
func (o OTPConfig) VerifyTTL() time.Duration {
	return time.Duration(o.VerifyTTLMinutes) * time.Minute
}

type NotificationConfig struct {
	Sender       string        `yaml:"sender" json:"sender"`
	Workers      int           `yaml:"workers" json:"workers"`
	QueueSize    int           `yaml:"queue_size" json:"queue_size"`
	SendTimeout  time.Duration `yaml:"send_timeout" json:"send_timeout"`
	MaxPerSecond float64       `yaml:"max_per_second" json:"max_per_second"`
	FromEmail    string        `yaml:"from_email" json:"from_email"`
	FromName     string        `yaml:"from_name" json:"from_name"`
	Brevo        BrevoConfig   `yaml:"brevo" json:"brevo"`
	Kafka        KafkaConfig   `yaml:"kafka" json:"kafka"`
}

type BrevoConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" json:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl" json:"token_ttl"`
	Issuer     string        `yaml:"issuer" json:"issuer"`
	BcryptCost int           `yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with defaults matching the
// documented behavior of the service.
//
// Default Values Rationale:
// - login 5/15min, otp 3/10min, general 100/1min buckets
// - reset codes live 15 minutes, verification codes 24 hours
// - memory storage and log-only mail so a bare binary starts without dependencies
// - proxy headers trusted, for deployment behind a reverse proxy
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/users.json",
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "authify",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			TrustProxyHeaders: true,
			CleanupInterval:   10 * time.Minute,
			Login:             BucketConfig{Capacity: 5, RefillTokens: 5, RefillIntervalMinutes: 15},
			OTP:               BucketConfig{Capacity: 3, RefillTokens: 3, RefillIntervalMinutes: 10},
			General:           BucketConfig{Capacity: 100, RefillTokens: 100, RefillIntervalMinutes: 1},
		},
		OTP: OTPConfig{
			ResetTTLMinutes:  15,
			VerifyTTLMinutes: 24 * 60,
			RequireDelivery:  false,
		},
		Notification: NotificationConfig{
			Sender:       SenderLog,
			Workers:      2,
			QueueSize:    256,
			SendTimeout:  5 * time.Second,
			MaxPerSecond: 10,
			FromName:     "Authify",
			Brevo: BrevoConfig{
				BaseURL: "https://api.brevo.com/v3/smtp/email",
			},
			Kafka: KafkaConfig{
				Topic: "authify.notifications",
			},
		},
		Auth: AuthConfig{
			TokenTTL:   10 * time.Hour,
			Issuer:     "authify",
			BcryptCost: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "authify",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.OTP.Validate(); err != nil {
		return fmt.Errorf("invalid otp config: %w", err)
	}

	if err := c.Notification.Validate(); err != nil {
		return fmt.Errorf("invalid notification config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	for name, b := range map[string]BucketConfig{"login": rc.Login, "otp": rc.OTP, "general": rc.General} {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s bucket: %w", name, err)
		}
	}
	return nil
}

func (b BucketConfig) Validate() error {
	if b.Capacity < 1 {
		return errors.New("capacity must be at least 1")
	}
	if b.RefillTokens < 1 {
		return errors.New("refill tokens must be at least 1")
	}
	if b.RefillIntervalMinutes < 1 {
		return errors.New("refill interval must be at least 1 minute")
	}
	return nil
}

func (o *OTPConfig) Validate() error {
	if o.ResetTTLMinutes < 1 {
		return errors.New("reset TTL must be at least 1 minute")
	}
	if o.VerifyTTLMinutes < 1 {
		return errors.New("verify TTL must be at least 1 minute")
	}
	return nil
}

func (nc *NotificationConfig) Validate() error {
	if nc.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if nc.QueueSize < 1 {
		return errors.New("queue size must be at least 1")
	}
	if nc.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	if nc.MaxPerSecond < 0 {
		return errors.New("max per second cannot be negative")
	}

	switch nc.Sender {
	case SenderLog:
	case SenderBrevo:
		if nc.Brevo.APIKey == "" {
			return errors.New("brevo API key is required for brevo sender")
		}
		if nc.FromEmail == "" {
			return errors.New("from email is required for brevo sender")
		}
	case SenderKafka:
		if len(nc.Kafka.Brokers) == 0 {
			return errors.New("at least one kafka broker is required for kafka sender")
		}
		if nc.Kafka.Topic == "" {
			return errors.New("kafka topic is required for kafka sender")
		}
	default:
		return fmt.Errorf("invalid notification sender: %s", nc.Sender)
	}
	return nil
}

func (ac *AuthConfig) Validate() error {
	if ac.JWTSecret == "" {
		return errors.New("JWT secret is required")
	}
	if len(ac.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT secret must be at least %d bytes", MinJWTSecretLength)
	}
	if ac.TokenTTL <= 0 {
		return errors.New("token TTL must be positive")
	}
	if ac.BcryptCost < 4 || ac.BcryptCost > 31 {
		return errors.New("bcrypt cost must be between 4 and 31")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}
