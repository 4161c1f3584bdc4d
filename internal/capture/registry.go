package capture

import (
	"time"

	"github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
)

type Registry struct {
	factories   map[gatewaydomain.Processor]domain.Factory
	callTimeout func() time.Duration
}

func NewRegistry(factories ...domain.Factory) *Registry {
	registry := &Registry{factories: map[gatewaydomain.Processor]domain.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		processor := factory.Processor()
		if !processor.Valid() {
			continue
		}
		registry.factories[processor] = factory
	}
	return registry
}

// WithCallTimeout bounds every network call made by clients built afterwards.
// The timeout is read per call.
func (r *Registry) WithCallTimeout(timeout func() time.Duration) *Registry {
	r.callTimeout = timeout
	return r
}

func (r *Registry) Supports(processor gatewaydomain.Processor) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[processor]
	return ok
}

// NewClient builds a processor client bound to the given settings.
func (r *Registry) NewClient(settings gatewaydomain.Settings) (domain.Client, error) {
	if r == nil {
		return nil, domain.ErrProcessorNotSupported
	}
	factory, ok := r.factories[settings.Processor]
	if !ok {
		return nil, domain.ErrProcessorNotSupported
	}
	client, err := factory.NewClient(settings)
	if err != nil || r.callTimeout == nil {
		return client, err
	}
	return &deadlineClient{Client: client, timeout: r.callTimeout}, nil
}
