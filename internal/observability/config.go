package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paycapture/internal/config"
)

const (
	defaultServiceName        = "paycapture"
	defaultSamplingRatio      = 0.1
	defaultSlowQueryThreshold = 200 * time.Millisecond
)

// Config holds telemetry settings. Identity comes from the app config and
// the environment overrides the rest.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// QueryLogLevel is one of silent, error, warn or info. Reconcile runs hold
	// the invoice row lock, so queries above SlowQueryThreshold log at warn.
	QueryLogLevel      string
	SlowQueryThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	protocol := envOr("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))

	return Config{
		ServiceName: firstSet(cfg.AppName, defaultServiceName),
		Environment: envOr("DEPLOYMENT_ENV", cfg.Environment),
		Version:     envOr("SERVICE_VERSION", cfg.AppVersion),

		LogLevel:  strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOr("LOG_FORMAT", "json")),

		QueryLogLevel:      strings.ToLower(envOr("DB_LOG_LEVEL", "warn")),
		SlowQueryThreshold: envDuration("DB_SLOW_QUERY_THRESHOLD", defaultSlowQueryThreshold),

		// Export stays off outside production unless asked for.
		OtelEnabled:          envBool("OTEL_ENABLED", cfg.IsProduction()),
		OtelExporterEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    samplingRatio(os.Getenv("OTEL_SAMPLING_RATIO")),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, def string) string {
	return firstSet(os.Getenv(key), def)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d < 0 {
		return def
	}
	return d
}

// samplingRatio falls back to the default for unparsable or out of range values.
func samplingRatio(raw string) float64 {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return defaultSamplingRatio
	}
	return ratio
}
