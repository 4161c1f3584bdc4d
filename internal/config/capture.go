package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CaptureConfig holds runtime-tunable settings for capture and verification.
type CaptureConfig struct {
	// InvoiceUpdateRetries bounds how many times a reconciliation is retried
	// after losing a version race on the invoice row.
	InvoiceUpdateRetries int `mapstructure:"invoiceUpdateRetries"`

	// HTTPTimeout bounds each processor call. CAPTURE_HTTP_TIMEOUT seeds the
	// default; the file value wins and is re-read on every call.
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`

	Sweeper SweeperConfig `mapstructure:"sweeper"`
}

type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	MinAge      time.Duration `mapstructure:"minAge"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BatchSize   int           `mapstructure:"batchSize"`
	JobTimeout  time.Duration `mapstructure:"jobTimeout"`
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		InvoiceUpdateRetries: 3,
		HTTPTimeout:          15 * time.Second,
		Sweeper: SweeperConfig{
			Enabled:     true,
			Interval:    time.Minute,
			MinAge:      2 * time.Minute,
			MaxAttempts: 10,
			BatchSize:   50,
			JobTimeout:  45 * time.Second,
		},
	}
}

type CaptureConfigHolder struct {
	current atomic.Value // holds CaptureConfig
}

// NewStaticCaptureConfigHolder returns a holder that never reloads.
func NewStaticCaptureConfigHolder(cfg CaptureConfig) *CaptureConfigHolder {
	holder := &CaptureConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCaptureConfigHolder(cfg Config, log *zap.Logger) (*CaptureConfigHolder, error) {
	log = log.Named("config.capture")
	v := viper.New()

	if cfg.CaptureConfigPath != "" {
		v.SetConfigFile(cfg.CaptureConfigPath)
	} else {
		v.SetConfigName("capture")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/paycapture")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PAYCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCaptureConfig()
	v.SetDefault("capture.invoiceUpdateRetries", defaults.InvoiceUpdateRetries)
	if cfg.Gateway.HTTPTimeout > 0 {
		defaults.HTTPTimeout = cfg.Gateway.HTTPTimeout
	}
	v.SetDefault("capture.httpTimeout", defaults.HTTPTimeout)
	v.SetDefault("capture.sweeper.enabled", defaults.Sweeper.Enabled)
	v.SetDefault("capture.sweeper.interval", defaults.Sweeper.Interval)
	v.SetDefault("capture.sweeper.minAge", defaults.Sweeper.MinAge)
	v.SetDefault("capture.sweeper.maxAttempts", defaults.Sweeper.MaxAttempts)
	v.SetDefault("capture.sweeper.batchSize", defaults.Sweeper.BatchSize)
	v.SetDefault("capture.sweeper.jobTimeout", defaults.Sweeper.JobTimeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfg.CaptureConfigPath != "" {
			return nil, err
		}
		fileLoaded = false
	}

	var current CaptureConfig
	if err := v.UnmarshalKey("capture", &current); err != nil {
		return nil, err
	}
	if err := validateCaptureConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticCaptureConfigHolder(current)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CaptureConfig
		if err := v.UnmarshalKey("capture", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateCaptureConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CaptureConfigHolder) Get() CaptureConfig {
	return h.current.Load().(CaptureConfig)
}

func validateCaptureConfig(cfg CaptureConfig) error {
	if cfg.InvoiceUpdateRetries < 1 {
		return errors.New("capture.invoiceUpdateRetries must be at least 1")
	}
	if cfg.HTTPTimeout <= 0 {
		return errors.New("capture.httpTimeout must be positive")
	}
	if cfg.Sweeper.Interval <= 0 {
		return errors.New("capture.sweeper.interval must be positive")
	}
	if cfg.Sweeper.BatchSize <= 0 {
		return errors.New("capture.sweeper.batchSize must be positive")
	}
	if cfg.Sweeper.MaxAttempts <= 0 {
		return errors.New("capture.sweeper.maxAttempts must be positive")
	}
	return nil
}
