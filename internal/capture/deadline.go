package capture

import (
	"context"
	"net/http"
	"time"

	"github.com/smallbiznis/paycapture/internal/capture/domain"
)

// deadlineClient puts a deadline on each blocking call of the wrapped client.
type deadlineClient struct {
	domain.Client
	timeout func() time.Duration
}

func (c *deadlineClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := c.timeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

func (c *deadlineClient) GetAccessToken(ctx context.Context) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.Client.GetAccessToken(ctx)
}

func (c *deadlineClient) CaptureOrder(ctx context.Context, orderID string) (*domain.Result, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.Client.CaptureOrder(ctx, orderID)
}

func (c *deadlineClient) GetOrder(ctx context.Context, orderID string) (*domain.Result, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.Client.GetOrder(ctx, orderID)
}

func (c *deadlineClient) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.Client.VerifyWebhookSignature(ctx, payload, headers)
}
