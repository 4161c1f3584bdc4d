package capture

import (
	"net/http"
	"time"

	"github.com/smallbiznis/paycapture/internal/cache"
	"github.com/smallbiznis/paycapture/internal/capture/paypal"
	"github.com/smallbiznis/paycapture/internal/capture/stripe"
	"github.com/smallbiznis/paycapture/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("capture.clients",
	fx.Provide(newRegistry),
)

type registryParams struct {
	fx.In

	Cfg     config.Config
	Capture *config.CaptureConfigHolder
	Tokens  cache.TokenCache
	Log     *zap.Logger
}

func newRegistry(p registryParams) *Registry {
	// Deadlines come from capture.httpTimeout per call so reloads apply
	// without rebuilding clients.
	httpClient := &http.Client{}
	registry := NewRegistry(
		paypal.NewFactory(paypal.FactoryOptions{
			HTTPClient:  httpClient,
			Tokens:      p.Tokens,
			RefreshSkew: p.Cfg.Gateway.TokenRefreshSkew,
			Log:         p.Log,
		}),
		stripe.NewFactory(stripe.FactoryOptions{
			HTTPClient: httpClient,
			Log:        p.Log,
		}),
	)
	return registry.WithCallTimeout(func() time.Duration {
		return p.Capture.Get().HTTPTimeout
	})
}
