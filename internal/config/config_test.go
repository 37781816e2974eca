package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"authify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// isolate points the dotenv loader at a file that does not exist so a stray
// .env in the package directory cannot leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("AUTHIFY_AUTH_JWT_SECRET", testSecret)

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, 5, config.RateLimit.Login.Capacity)
	assert.Equal(t, 15, config.OTP.ResetTTLMinutes)
	assert.Equal(t, testSecret, config.Auth.JWTSecret)
}

func TestLoad_RequiresSecret(t *testing.T) {
	isolate(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret is required")
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	isolate(t)
	configFile := writeFile(t, "authify.yaml", `
server:
  port: 9000
  host: "127.0.0.1"
  read_timeout: 10s

storage:
  type: "json"
  path: "./data/users.json"

rate_limit:
  enabled: true
  trust_proxy_headers: false
  cleanup_interval: 5m
  login:
    capacity: 10
    refill_tokens: 2
    refill_interval_minutes: 5
  otp:
    capacity: 3
    refill_tokens: 3
    refill_interval_minutes: 10
  general:
    capacity: 50
    refill_tokens: 50
    refill_interval_minutes: 1

otp:
  reset_ttl_minutes: 5
  verify_ttl_minutes: 60
  require_delivery: true

notification:
  sender: "kafka"
  workers: 4
  queue_size: 10
  send_timeout: 2s
  kafka:
    brokers: ["localhost:9092"]
    topic: "mail"

auth:
  jwt_secret: "`+testSecret+`"
  token_ttl: 1h
  bcrypt_cost: 4

logging:
  level: "debug"
  format: "text"
  output: "stdout"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, models.StorageTypeJSON, config.Storage.Type)

	assert.False(t, config.RateLimit.TrustProxyHeaders)
	assert.Equal(t, 5*time.Minute, config.RateLimit.CleanupInterval)
	assert.Equal(t, models.BucketConfig{Capacity: 10, RefillTokens: 2, RefillIntervalMinutes: 5}, config.RateLimit.Login)
	assert.Equal(t, 50, config.RateLimit.General.Capacity)

	assert.Equal(t, 5*time.Minute, config.OTP.ResetTTL())
	assert.Equal(t, time.Hour, config.OTP.VerifyTTL())
	assert.True(t, config.OTP.RequireDelivery)

	assert.Equal(t, models.SenderKafka, config.Notification.Sender)
	assert.Equal(t, []string{"localhost:9092"}, config.Notification.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, config.Notification.SendTimeout)

	assert.Equal(t, time.Hour, config.Auth.TokenTTL)
	assert.Equal(t, 4, config.Auth.BcryptCost)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	configFile := writeFile(t, "bad.yaml", "server: [port: 1")
	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	isolate(t)
	configFile := writeFile(t, "authify.yaml", `
server:
  port: 9000
rate_limit:
  login:
    capacity: 10
    refill_tokens: 10
    refill_interval_minutes: 15
`)
	t.Setenv("AUTHIFY_AUTH_JWT_SECRET", testSecret)
	t.Setenv("AUTHIFY_PORT", "7000")
	t.Setenv("AUTHIFY_RATE_LIMIT_LOGIN_CAPACITY", "2")
	t.Setenv("AUTHIFY_RATE_LIMIT_TRUST_PROXY_HEADERS", "false")
	t.Setenv("AUTHIFY_OTP_REQUIRE_DELIVERY", "true")
	t.Setenv("AUTHIFY_NOTIFICATION_SEND_TIMEOUT", "750ms")
	t.Setenv("AUTHIFY_NOTIFICATION_MAX_PER_SECOND", "2.5")
	t.Setenv("AUTHIFY_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, 2, config.RateLimit.Login.Capacity)
	assert.Equal(t, 10, config.RateLimit.Login.RefillTokens)
	assert.False(t, config.RateLimit.TrustProxyHeaders)
	assert.True(t, config.OTP.RequireDelivery)
	assert.Equal(t, 750*time.Millisecond, config.Notification.SendTimeout)
	assert.Equal(t, 2.5, config.Notification.MaxPerSecond)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Server.CORS.AllowedOrigins)
}

func TestLoad_MalformedEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("AUTHIFY_AUTH_JWT_SECRET", testSecret)
	t.Setenv("AUTHIFY_PORT", "eighty")
	t.Setenv("AUTHIFY_OTP_REQUIRE_DELIVERY", "maybe")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHIFY_PORT")
	assert.Contains(t, err.Error(), "AUTHIFY_OTP_REQUIRE_DELIVERY")
}

func TestLoad_DotenvFile(t *testing.T) {
	isolate(t)
	envFile := writeFile(t, "test.env", "AUTHIFY_AUTH_JWT_SECRET="+testSecret+"\nAUTHIFY_OTP_RESET_TTL_MINUTES=7\n")
	t.Setenv("AUTHIFY_ENV_FILE", envFile)
	// godotenv sets variables on the process; register them for cleanup.
	t.Setenv("AUTHIFY_AUTH_JWT_SECRET", "")
	t.Setenv("AUTHIFY_OTP_RESET_TTL_MINUTES", "")
	os.Unsetenv("AUTHIFY_AUTH_JWT_SECRET")
	os.Unsetenv("AUTHIFY_OTP_RESET_TTL_MINUTES")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, testSecret, config.Auth.JWTSecret)
	assert.Equal(t, 7, config.OTP.ResetTTLMinutes)
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	envFile := writeFile(t, "test.env", "AUTHIFY_AUTH_JWT_SECRET="+testSecret+"\nAUTHIFY_PORT=1111\n")
	t.Setenv("AUTHIFY_ENV_FILE", envFile)
	t.Setenv("AUTHIFY_PORT", "2222")
	t.Setenv("AUTHIFY_AUTH_JWT_SECRET", "")
	os.Unsetenv("AUTHIFY_AUTH_JWT_SECRET")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2222, config.Server.Port)
}

func TestLoad_MissingExplicitDotenv(t *testing.T) {
	isolate(t)
	t.Setenv("AUTHIFY_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load env file")
}

func TestSaveExample(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "authify.yaml")
	require.NoError(t, SaveExample(path))

	t.Setenv("AUTHIFY_AUTH_JWT_SECRET", testSecret)
	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
	assert.Equal(t, 15, config.RateLimit.Login.RefillIntervalMinutes)
}
