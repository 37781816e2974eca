package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"authify/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix  = "AUTHIFY_"
	envFileVar = "AUTHIFY_ENV_FILE"
	defaultEnv = ".env"
)

// Load builds the configuration in layers: defaults, the YAML file at
// configPath (if given), a dotenv file, then AUTHIFY_* environment variables.
// The result is validated before it is returned.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// unsupportedConfig mirrors keys from continuous-rate limiter setups that
// operators sometimes carry over. They are ignored by the main decoder.
type unsupportedConfig struct {
	RateLimit struct {
		RequestsPerMinute *int `yaml:"requests_per_minute"`
		BurstSize         *int `yaml:"burst_size"`
	} `yaml:"rate_limit"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

func warnUnsupportedKeys(data []byte) {
	var u unsupportedConfig
	if err := yaml.Unmarshal(data, &u); err != nil {
		return
	}
	if u.RateLimit.RequestsPerMinute != nil || u.RateLimit.BurstSize != nil {
		slog.Warn("Config keys are not supported; set capacity, refill_tokens and refill_interval_minutes per class instead.",
			"config_key", "rate_limit.requests_per_minute/burst_size")
	}
	if u.Auth.JWTSecret != "" {
		slog.Warn("JWT secret found in config file; prefer the AUTHIFY_AUTH_JWT_SECRET environment variable.",
			"config_key", "auth.jwt_secret")
	}
}

func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnsupportedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadEnvFile populates the process environment from a dotenv file. Variables
// already set in the environment win. A missing default .env is not an error;
// a missing file named by AUTHIFY_ENV_FILE is.
func loadEnvFile() error {
	path := os.Getenv(envFileVar)
	explicit := path != ""
	if !explicit {
		path = defaultEnv
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// envReader collects parse failures so a typo in one variable is reported
// instead of silently ignored.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) list(name string, dst *[]string) {
	if v, ok := r.lookup(name); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func (r *envReader) integer(name string, dst *int) {
	if v, ok := r.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = f
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if v, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = d
	}
}

func (r *envReader) bucket(class string, dst *models.BucketConfig) {
	r.integer("RATE_LIMIT_"+class+"_CAPACITY", &dst.Capacity)
	r.integer("RATE_LIMIT_"+class+"_REFILL_TOKENS", &dst.RefillTokens)
	r.integer("RATE_LIMIT_"+class+"_REFILL_INTERVAL_MINUTES", &dst.RefillIntervalMinutes)
}

func loadFromEnvironment(config *models.Config) error {
	r := &envReader{}

	// Server
	r.integer("PORT", &config.Server.Port)
	r.str("HOST", &config.Server.Host)
	r.duration("READ_TIMEOUT", &config.Server.ReadTimeout)
	r.duration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	r.duration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	r.boolean("TLS_ENABLED", &config.Server.TLSEnabled)
	r.str("TLS_CERT_FILE", &config.Server.TLSCertFile)
	r.str("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	r.boolean("CORS_ENABLED", &config.Server.CORS.Enabled)
	r.list("CORS_ALLOWED_ORIGINS", &config.Server.CORS.AllowedOrigins)

	// Storage
	r.str("STORAGE_TYPE", &config.Storage.Type)
	r.str("STORAGE_PATH", &config.Storage.Path)
	r.str("DATABASE_DSN", &config.Storage.Database.DSN)
	r.integer("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	r.integer("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	r.str("REDIS_ADDR", &config.Storage.Redis.Addr)
	r.str("REDIS_PASSWORD", &config.Storage.Redis.Password)
	r.integer("REDIS_DB", &config.Storage.Redis.DB)
	r.integer("REDIS_POOL_SIZE", &config.Storage.Redis.PoolSize)
	r.str("REDIS_KEY_PREFIX", &config.Storage.Redis.KeyPrefix)

	// Rate limiting
	r.boolean("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	r.boolean("RATE_LIMIT_TRUST_PROXY_HEADERS", &config.RateLimit.TrustProxyHeaders)
	r.duration("RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)
	r.bucket("LOGIN", &config.RateLimit.Login)
	r.bucket("OTP", &config.RateLimit.OTP)
	r.bucket("GENERAL", &config.RateLimit.General)

	// OTP
	r.integer("OTP_RESET_TTL_MINUTES", &config.OTP.ResetTTLMinutes)
	r.integer("OTP_VERIFY_TTL_MINUTES", &config.OTP.VerifyTTLMinutes)
	r.boolean("OTP_REQUIRE_DELIVERY", &config.OTP.RequireDelivery)

	// Notification
	r.str("NOTIFICATION_SENDER", &config.Notification.Sender)
	r.integer("NOTIFICATION_WORKERS", &config.Notification.Workers)
	r.integer("NOTIFICATION_QUEUE_SIZE", &config.Notification.QueueSize)
	r.duration("NOTIFICATION_SEND_TIMEOUT", &config.Notification.SendTimeout)
	r.float("NOTIFICATION_MAX_PER_SECOND", &config.Notification.MaxPerSecond)
	r.str("NOTIFICATION_FROM_EMAIL", &config.Notification.FromEmail)
	r.str("NOTIFICATION_FROM_NAME", &config.Notification.FromName)
	r.str("BREVO_API_KEY", &config.Notification.Brevo.APIKey)
	r.str("BREVO_BASE_URL", &config.Notification.Brevo.BaseURL)
	r.list("KAFKA_BROKERS", &config.Notification.Kafka.Brokers)
	r.str("KAFKA_TOPIC", &config.Notification.Kafka.Topic)

	// Auth
	r.str("AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	r.duration("AUTH_TOKEN_TTL", &config.Auth.TokenTTL)
	r.str("AUTH_ISSUER", &config.Auth.Issuer)
	r.integer("AUTH_BCRYPT_COST", &config.Auth.BcryptCost)

	// Logging
	r.str("LOG_LEVEL", &config.Logging.Level)
	r.str("LOG_FORMAT", &config.Logging.Format)
	r.str("LOG_OUTPUT", &config.Logging.Output)
	r.str("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	r.boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	r.str("METRICS_PATH", &config.Metrics.Path)
	r.integer("METRICS_PORT", &config.Metrics.Port)
	r.boolean("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	r.str("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	r.str("TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	r.float("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	return errors.Join(r.errs...)
}

// SaveExample writes an example configuration to filePath. The JWT secret is
// left empty and must come from the environment.
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/authify.db"
	config.Notification.FromEmail = "no-reply@example.com"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
