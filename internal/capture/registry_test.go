package capture

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/paycapture/internal/capture/domain"
	"github.com/smallbiznis/paycapture/internal/capture/mock"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoutesByProcessor(t *testing.T) {
	ctrl := gomock.NewController(t)

	client := mock.NewMockClient(ctrl)
	factory := mock.NewMockFactory(ctrl)
	factory.EXPECT().Processor().Return(gatewaydomain.ProcessorPayPal).AnyTimes()
	settings := gatewaydomain.Settings{Processor: gatewaydomain.ProcessorPayPal, ClientID: "id", ClientSecret: "secret"}
	factory.EXPECT().NewClient(settings).Return(client, nil)

	registry := NewRegistry(factory, nil)
	assert.True(t, registry.Supports(gatewaydomain.ProcessorPayPal))
	assert.False(t, registry.Supports(gatewaydomain.ProcessorStripe))

	got, err := registry.NewClient(settings)
	require.NoError(t, err)
	assert.Same(t, client, got)
}

func TestRegistryUnknownProcessor(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.NewClient(gatewaydomain.Settings{Processor: gatewaydomain.ProcessorStripe})
	assert.ErrorIs(t, err, domain.ErrProcessorNotSupported)

	var nilRegistry *Registry
	_, err = nilRegistry.NewClient(gatewaydomain.Settings{Processor: gatewaydomain.ProcessorPayPal})
	assert.ErrorIs(t, err, domain.ErrProcessorNotSupported)
}

func TestRegistryAppliesCurrentCallTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)

	client := mock.NewMockClient(ctrl)
	factory := mock.NewMockFactory(ctrl)
	factory.EXPECT().Processor().Return(gatewaydomain.ProcessorStripe).AnyTimes()
	factory.EXPECT().NewClient(gomock.Any()).Return(client, nil)

	timeout := 2 * time.Second
	registry := NewRegistry(factory).WithCallTimeout(func() time.Duration { return timeout })
	got, err := registry.NewClient(gatewaydomain.Settings{Processor: gatewaydomain.ProcessorStripe})
	require.NoError(t, err)

	expectDeadline := func(want time.Duration) func(ctx context.Context, orderID string) (*domain.Result, error) {
		return func(ctx context.Context, orderID string) (*domain.Result, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(want), deadline, 500*time.Millisecond)
			return &domain.Result{OrderID: orderID}, nil
		}
	}
	client.EXPECT().CaptureOrder(gomock.Any(), "pi_1").DoAndReturn(expectDeadline(2 * time.Second))
	client.EXPECT().GetOrder(gomock.Any(), "pi_1").DoAndReturn(expectDeadline(30 * time.Second))

	_, err = got.CaptureOrder(context.Background(), "pi_1")
	require.NoError(t, err)

	// A reload between calls takes effect on the same client.
	timeout = 30 * time.Second
	_, err = got.GetOrder(context.Background(), "pi_1")
	require.NoError(t, err)

	client.EXPECT().ParseWebhookEvent([]byte("{}")).Return(&domain.WebhookEvent{EventID: "evt_1"}, nil)
	event, err := got.ParseWebhookEvent([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.EventID)
}
