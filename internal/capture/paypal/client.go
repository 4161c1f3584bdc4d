package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/cache"
	"github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	"go.uber.org/zap"
)

const (
	maxBodyBytes       = 1 << 20
	defaultRefreshSkew = time.Minute
	verificationOK     = "SUCCESS"
	resourceCapture    = "capture"
)

type FactoryOptions struct {
	HTTPClient  *http.Client
	Tokens      cache.TokenCache
	RefreshSkew time.Duration
	Log         *zap.Logger
}

type Factory struct {
	opts FactoryOptions
}

func NewFactory(opts FactoryOptions) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Tokens == nil {
		opts.Tokens = cache.NewMemoryTokenCache()
	}
	if opts.RefreshSkew <= 0 {
		opts.RefreshSkew = defaultRefreshSkew
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Factory{opts: opts}
}

func (f *Factory) Processor() gatewaydomain.Processor {
	return gatewaydomain.ProcessorPayPal
}

func (f *Factory) NewClient(settings gatewaydomain.Settings) (domain.Client, error) {
	if strings.TrimSpace(settings.ClientID) == "" ||
		strings.TrimSpace(settings.ClientSecret) == "" ||
		strings.TrimSpace(settings.APIBaseURL) == "" {
		return nil, gatewaydomain.ErrNotConfigured
	}
	return &Client{
		settings:    settings,
		baseURL:     strings.TrimRight(settings.APIBaseURL, "/"),
		http:        f.opts.HTTPClient,
		tokens:      f.opts.Tokens,
		refreshSkew: f.opts.RefreshSkew,
		log:         f.opts.Log.Named("capture.paypal"),
	}, nil
}

// Client calls the PayPal REST API with one merchant's credentials.
type Client struct {
	settings    gatewaydomain.Settings
	baseURL     string
	http        *http.Client
	tokens      cache.TokenCache
	refreshSkew time.Duration
	log         *zap.Logger
}

func (c *Client) Processor() gatewaydomain.Processor {
	return gatewaydomain.ProcessorPayPal
}

// GetAccessToken exchanges client credentials for a bearer token, reusing a
// cached token until shortly before it expires.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	key := c.tokenKey()
	if token, ok := c.tokens.Get(ctx, key); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &domain.AuthError{Processor: c.Processor(), Err: err}
	}
	req.SetBasicAuth(c.settings.ClientID, c.settings.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &domain.AuthError{Processor: c.Processor(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &domain.AuthError{Processor: c.Processor(), StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.AuthError{Processor: c.Processor(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil || strings.TrimSpace(token.AccessToken) == "" {
		return "", &domain.AuthError{Processor: c.Processor(), StatusCode: resp.StatusCode, Err: domain.ErrInvalidResponse}
	}

	ttl := time.Duration(token.ExpiresIn)*time.Second - c.refreshSkew
	c.tokens.Set(ctx, key, token.AccessToken, ttl)
	return token.AccessToken, nil
}

// CaptureOrder captures an approved order. The request id makes a retried
// capture of the same order return the original result instead of charging twice.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*domain.Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	headers := http.Header{}
	headers.Set("PayPal-Request-Id", "capture-"+orderID)
	headers.Set("Prefer", "return=representation")

	return c.doOrderRequest(ctx, http.MethodPost, path, token, orderID, []byte("{}"), headers)
}

// GetOrder reads the order state. Used to settle captures whose outcome was unknown.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	return c.doOrderRequest(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), token, orderID, nil, nil)
}

func (c *Client) doOrderRequest(ctx context.Context, method, path, token, orderID string, payload []byte, headers http.Header) (*domain.Result, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The request may have been delivered before the connection failed.
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, Unknown: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, StatusCode: resp.StatusCode, Unknown: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logFailure(orderID, resp.StatusCode, raw)
		return nil, &domain.CaptureError{
			Processor:  c.Processor(),
			OrderID:    orderID,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Unknown:    resp.StatusCode >= http.StatusInternalServerError,
		}
	}

	var order orderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, StatusCode: resp.StatusCode, Body: string(raw), Err: domain.ErrInvalidResponse}
	}

	result, err := toResult(order, raw)
	if err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, StatusCode: resp.StatusCode, Body: string(raw), Err: err}
	}
	if result.OrderID == "" {
		result.OrderID = orderID
	}
	return result, nil
}

// VerifyWebhookSignature asks PayPal to validate the transmission headers
// against the configured webhook. Without a webhook id nothing can be verified.
func (c *Client) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) (bool, error) {
	webhookID := strings.TrimSpace(c.settings.WebhookID)
	if webhookID == "" {
		return false, nil
	}

	reqBody := verifySignatureRequest{
		AuthAlgo:         headers.Get("Paypal-Auth-Algo"),
		CertURL:          headers.Get("Paypal-Cert-Url"),
		TransmissionID:   headers.Get("Paypal-Transmission-Id"),
		TransmissionSig:  headers.Get("Paypal-Transmission-Sig"),
		TransmissionTime: headers.Get("Paypal-Transmission-Time"),
		WebhookID:        webhookID,
		WebhookEvent:     json.RawMessage(payload),
	}
	if reqBody.TransmissionID == "" || reqBody.TransmissionSig == "" {
		return false, nil
	}
	if !json.Valid(payload) {
		return false, domain.ErrInvalidPayload
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return false, err
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(encoded))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("paypal webhook verification: status %d", resp.StatusCode)
	}

	var out verifySignatureResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return false, err
	}
	return strings.EqualFold(out.VerificationStatus, verificationOK), nil
}

func (c *Client) ParseWebhookEvent(payload []byte) (*domain.WebhookEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventType) == "" {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.WebhookEvent{
		EventID:      strings.TrimSpace(event.ID),
		EventType:    strings.TrimSpace(event.EventType),
		ResourceType: strings.TrimSpace(event.ResourceType),
	}

	if out.EventType != domain.EventCaptureCompleted || !strings.EqualFold(out.ResourceType, resourceCapture) {
		return out, nil
	}

	res := event.Resource
	result := &domain.Result{
		Processor:     gatewaydomain.ProcessorPayPal,
		OrderID:       strings.TrimSpace(res.SupplementaryData.RelatedIDs.OrderID),
		Status:        strings.ToUpper(strings.TrimSpace(res.Status)),
		TransactionID: strings.TrimSpace(res.ID),
		CaptureStatus: strings.ToUpper(strings.TrimSpace(res.Status)),
		Currency:      strings.ToUpper(strings.TrimSpace(res.Amount.CurrencyCode)),
		InvoiceID:     firstNonEmpty(res.CustomID, res.InvoiceID),
		CapturedAt:    parseTime(res.CreateTime),
		Raw:           json.RawMessage(payload),
	}
	if res.Amount.Value != "" {
		amount, err := decimal.NewFromString(res.Amount.Value)
		if err != nil {
			return nil, domain.ErrInvalidPayload
		}
		result.Amount = amount
	}
	out.Capture = result
	return out, nil
}

func (c *Client) tokenKey() string {
	return "paypal:" + string(c.settings.Mode) + ":" + c.settings.ClientID
}

func (c *Client) logFailure(orderID string, status int, raw []byte) {
	var perr errorResponse
	_ = json.Unmarshal(raw, &perr)
	fields := []zap.Field{
		zap.String("order_id", orderID),
		zap.Int("status", status),
		zap.String("error_name", perr.Name),
		zap.String("debug_id", perr.DebugID),
	}
	if len(perr.Details) > 0 {
		fields = append(fields, zap.String("issue", perr.Details[0].Issue))
	}
	c.log.Warn("paypal order request failed", fields...)
}

func toResult(order orderResponse, raw []byte) (*domain.Result, error) {
	if strings.TrimSpace(order.ID) == "" && strings.TrimSpace(order.Status) == "" {
		return nil, domain.ErrInvalidResponse
	}

	result := &domain.Result{
		Processor:  gatewaydomain.ProcessorPayPal,
		OrderID:    strings.TrimSpace(order.ID),
		Status:     strings.ToUpper(strings.TrimSpace(order.Status)),
		PayerEmail: strings.TrimSpace(order.Payer.EmailAddress),
		PayerName:  strings.TrimSpace(order.Payer.Name.GivenName + " " + order.Payer.Name.Surname),
		Raw:        json.RawMessage(raw),
	}

	for _, unit := range order.PurchaseUnits {
		if result.InvoiceID == "" {
			result.InvoiceID = firstNonEmpty(unit.CustomID, unit.InvoiceID)
		}
		if result.TransactionID != "" || len(unit.Payments.Captures) == 0 {
			continue
		}

		capture := unit.Payments.Captures[0]
		result.TransactionID = strings.TrimSpace(capture.ID)
		result.CaptureStatus = strings.ToUpper(strings.TrimSpace(capture.Status))
		result.Currency = strings.ToUpper(strings.TrimSpace(capture.Amount.CurrencyCode))
		result.CapturedAt = parseTime(capture.CreateTime)
		if result.InvoiceID == "" {
			result.InvoiceID = firstNonEmpty(capture.CustomID, capture.InvoiceID)
		}
		if capture.Amount.Value != "" {
			amount, err := decimal.NewFromString(capture.Amount.Value)
			if err != nil {
				return nil, domain.ErrInvalidResponse
			}
			result.Amount = amount
		}
	}

	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
