package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

const (
	defaultBroker = "localhost:9092"
	testSecret    = "s3cret"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, testSecret, cfg.APISecret)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "water-level-readings", cfg.KafkaReadingsTopic)
	assert.Equal(t, "water-level-alerts", cfg.KafkaAlertTopic)
	assert.Equal(t, "flood-alert-service", cfg.KafkaGroupID)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, 10, cfg.DBMaxConns)
	assert.False(t, cfg.DBBootstrap)
	assert.Equal(t, DefaultClaimRetries, cfg.ClaimRetries)
	assert.Empty(t, cfg.InfluxURL)
	assert.Equal(t, 5*time.Minute, cfg.SmoothingWindow)
	assert.Equal(t, 2*time.Second, cfg.SmoothingTimeout)
	assert.Equal(t, 10*time.Second, cfg.EvaluationTimeout)
	assert.Equal(t, 0, cfg.DispatchWorkers)
	assert.Equal(t, 2*time.Second, cfg.DispatchPollInterval)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, domain.DefaultThresholds(), cfg.Thresholds)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_READINGS_TOPIC", "custom-readings")
	t.Setenv("KAFKA_ALERT_TOPIC", "custom-alerts")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/alerts")
	t.Setenv("DB_BOOTSTRAP", "true")
	t.Setenv("INFLUX_URL", "http://influx:8086")
	t.Setenv("INFLUX_TOKEN", "tok")
	t.Setenv("SMOOTHING_WINDOW", "10m")
	t.Setenv("DISPATCH_WORKERS", "4")
	t.Setenv("SMS_GATEWAY_URL", "http://sms:9000")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("CLAIM_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-readings", cfg.KafkaReadingsTopic)
	assert.Equal(t, "custom-alerts", cfg.KafkaAlertTopic)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "postgres://u:p@db:5432/alerts", cfg.DatabaseURL)
	assert.True(t, cfg.DBBootstrap)
	assert.Equal(t, "http://influx:8086", cfg.InfluxURL)
	assert.Equal(t, 10*time.Minute, cfg.SmoothingWindow)
	assert.Equal(t, 4, cfg.DispatchWorkers)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.ClaimTimeout)
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_SECRET")
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidSmoothingTimeout(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("SMOOTHING_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMOOTHING_TIMEOUT")
}

func TestLoad_InvalidMaxAttempts(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("MAX_ATTEMPTS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_ATTEMPTS")
}

func TestLoad_InfluxWithoutToken(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("INFLUX_URL", "http://influx:8086")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INFLUX_TOKEN")
}

func TestLoad_WorkersWithoutGateway(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("DISPATCH_WORKERS", "2")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMS_GATEWAY_URL")
}

func TestLoad_KafkaDisabledSkipsBrokerCheck(t *testing.T) {
	t.Setenv("API_SECRET", testSecret)
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("KAFKA_READINGS_TOPIC", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoad_ThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thresholds:
  - severity: EMERGENCY
    min_level: 150
    cooldown: 30s
  - severity: WARNING
    min_level: 80
    cooldown: 10m
    message: "WARNING at {location}: {level}cm"
`), 0o600))

	t.Setenv("API_SECRET", testSecret)
	t.Setenv("THRESHOLDS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Thresholds, 2)
	assert.Equal(t, domain.SeverityEmergency, cfg.Thresholds[0].Severity)
	assert.InEpsilon(t, 150.0, cfg.Thresholds[0].MinLevel, 0.0001)
	assert.Equal(t, 30*time.Second, cfg.Thresholds[0].Cooldown)
	assert.Equal(t, "EMERGENCY", cfg.Thresholds[0].AlertType)
	assert.NotEmpty(t, cfg.Thresholds[0].Template)
	assert.Equal(t, "WARNING at {location}: {level}cm", cfg.Thresholds[1].Template)
}

func TestParseThresholds_RejectsUnorderedTable(t *testing.T) {
	_, err := ParseThresholds([]byte(`
thresholds:
  - severity: CAUTION
    min_level: 20
    cooldown: 5m
  - severity: DANGER
    min_level: 60
    cooldown: 5m
`))
	require.Error(t, err)
}

func TestParseThresholds_InvalidCooldown(t *testing.T) {
	_, err := ParseThresholds([]byte(`
thresholds:
  - severity: DANGER
    min_level: 60
    cooldown: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldown")
}

func TestParseThresholds_UnknownSeverity(t *testing.T) {
	_, err := ParseThresholds([]byte(`
thresholds:
  - severity: TSUNAMI
    min_level: 500
    cooldown: 1m
`))
	require.Error(t, err)
}
