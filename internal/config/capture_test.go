package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCaptureConfigHolderDefaults(t *testing.T) {
	holder, err := NewCaptureConfigHolder(Config{CaptureConfigPath: ""}, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, DefaultCaptureConfig(), got)
}

func TestNewCaptureConfigHolderFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.yml")
	content := []byte(`capture:
  invoiceUpdateRetries: 5
  httpTimeout: 4s
  sweeper:
    enabled: false
    interval: 30s
    minAge: 1m
    maxAttempts: 4
    batchSize: 10
    jobTimeout: 20s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewCaptureConfigHolder(Config{CaptureConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, 5, got.InvoiceUpdateRetries)
	assert.Equal(t, 4*time.Second, got.HTTPTimeout)
	assert.False(t, got.Sweeper.Enabled)
	assert.Equal(t, 30*time.Second, got.Sweeper.Interval)
	assert.Equal(t, time.Minute, got.Sweeper.MinAge)
	assert.Equal(t, 4, got.Sweeper.MaxAttempts)
	assert.Equal(t, 10, got.Sweeper.BatchSize)
}

func TestNewCaptureConfigHolderRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.yml")
	require.NoError(t, os.WriteFile(path, []byte("capture:\n  invoiceUpdateRetries: 0\n"), 0o600))

	_, err := NewCaptureConfigHolder(Config{CaptureConfigPath: path}, zap.NewNop())
	require.Error(t, err)
}

func TestCaptureHTTPTimeoutSeededFromEnvironment(t *testing.T) {
	holder, err := NewCaptureConfigHolder(Config{Gateway: GatewayConfig{HTTPTimeout: 7 * time.Second}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, holder.Get().HTTPTimeout)

	dir := t.TempDir()
	path := filepath.Join(dir, "capture.yml")
	require.NoError(t, os.WriteFile(path, []byte("capture:\n  httpTimeout: 2s\n"), 0o600))
	holder, err = NewCaptureConfigHolder(Config{CaptureConfigPath: path, Gateway: GatewayConfig{HTTPTimeout: 7 * time.Second}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, holder.Get().HTTPTimeout)
}

func TestNewCaptureConfigHolderRejectsZeroHTTPTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.yml")
	require.NoError(t, os.WriteFile(path, []byte("capture:\n  httpTimeout: 0s\n"), 0o600))

	_, err := NewCaptureConfigHolder(Config{CaptureConfigPath: path}, zap.NewNop())
	require.Error(t, err)
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("CAPTURE_HTTP_TIMEOUT", "3s")
	assert.Equal(t, 3*time.Second, getenvDuration("CAPTURE_HTTP_TIMEOUT", time.Second))

	t.Setenv("CAPTURE_HTTP_TIMEOUT", "bogus")
	assert.Equal(t, time.Second, getenvDuration("CAPTURE_HTTP_TIMEOUT", time.Second))
}
