package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/paycapture/internal/config"
	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"DB_LOG_LEVEL", "DB_SLOW_QUERY_THRESHOLD", "OTEL_ENABLED", "OTEL_SAMPLING_RATIO", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig(config.Config{Environment: "development"})
	assert.Equal(t, "paycapture", cfg.ServiceName)
	assert.Equal(t, "warn", cfg.QueryLogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())

	gorm := provideGormLoggerConfig(cfg)
	assert.Equal(t, gormlogger.Warn, gorm.Level)
	assert.Equal(t, 200*time.Millisecond, gorm.SlowThreshold)
}

func TestLoadConfigQueryLogging(t *testing.T) {
	t.Setenv("DB_LOG_LEVEL", "INFO")
	t.Setenv("DB_SLOW_QUERY_THRESHOLD", "50ms")

	cfg := LoadConfig(config.Config{Environment: "production", AppName: "paycapture-eu"})
	assert.Equal(t, "paycapture-eu", cfg.ServiceName)
	assert.Equal(t, 50*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, gormlogger.Info, provideGormLoggerConfig(cfg).Level)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DB_SLOW_QUERY_THRESHOLD", "-1s")
	t.Setenv("OTEL_SAMPLING_RATIO", "1.5")
	t.Setenv("OTEL_ENABLED", "maybe")
	t.Setenv("LOG_LEVEL", "")

	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}
