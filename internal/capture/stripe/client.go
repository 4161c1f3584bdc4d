package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 1 << 20
	signatureHeader  = "Stripe-Signature"
	signatureMaxSkew = 5 * time.Minute

	eventIntentSucceeded = "payment_intent.succeeded"
	objectPaymentIntent  = "payment_intent"
)

// Stripe reports amounts in minor units except for these currencies.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

type FactoryOptions struct {
	HTTPClient *http.Client
	Log        *zap.Logger
	// Now is used for webhook timestamp tolerance.
	Now func() time.Time
}

type Factory struct {
	opts FactoryOptions
}

func NewFactory(opts FactoryOptions) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Factory{opts: opts}
}

func (f *Factory) Processor() gatewaydomain.Processor {
	return gatewaydomain.ProcessorStripe
}

func (f *Factory) NewClient(settings gatewaydomain.Settings) (domain.Client, error) {
	if strings.TrimSpace(settings.ClientSecret) == "" || strings.TrimSpace(settings.APIBaseURL) == "" {
		return nil, gatewaydomain.ErrNotConfigured
	}
	return &Client{
		settings: settings,
		baseURL:  strings.TrimRight(settings.APIBaseURL, "/"),
		http:     f.opts.HTTPClient,
		now:      f.opts.Now,
		log:      f.opts.Log.Named("capture.stripe"),
	}, nil
}

// Client captures Stripe PaymentIntents created with capture_method=manual.
// The order id is the PaymentIntent id.
type Client struct {
	settings gatewaydomain.Settings
	baseURL  string
	http     *http.Client
	now      func() time.Time
	log      *zap.Logger
}

func (c *Client) Processor() gatewaydomain.Processor {
	return gatewaydomain.ProcessorStripe
}

// GetAccessToken returns the secret key. Stripe has no token exchange.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	secret := strings.TrimSpace(c.settings.ClientSecret)
	if secret == "" {
		return "", &domain.AuthError{Processor: c.Processor(), Err: gatewaydomain.ErrNotConfigured}
	}
	return secret, nil
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*domain.Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	form := url.Values{}
	form.Add("expand[]", "latest_charge")
	return c.doIntentRequest(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(orderID)+"/capture", orderID, form)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	path := "/v1/payment_intents/" + url.PathEscape(orderID) + "?expand[]=latest_charge"
	return c.doIntentRequest(ctx, http.MethodGet, path, orderID, nil)
}

func (c *Client) doIntentRequest(ctx context.Context, method, path, orderID string, form url.Values) (*domain.Result, error) {
	secret, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Idempotency-Key", "capture-"+orderID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, Unknown: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, StatusCode: resp.StatusCode, Unknown: true, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &domain.AuthError{Processor: c.Processor(), StatusCode: resp.StatusCode, Body: string(raw)}
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

	var intent paymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil || strings.TrimSpace(intent.ID) == "" {
		return nil, &domain.CaptureError{Processor: c.Processor(), OrderID: orderID, StatusCode: resp.StatusCode, Body: string(raw), Err: domain.ErrInvalidResponse}
	}
	return toResult(intent, raw), nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the
// endpoint signing secret stored as the webhook id.
func (c *Client) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) (bool, error) {
	secret := strings.TrimSpace(c.settings.WebhookID)
	if secret == "" {
		return false, nil
	}
	header := strings.TrimSpace(headers.Get(signatureHeader))
	if header == "" {
		return false, nil
	}

	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return false, nil
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, nil
	}
	if skew := c.now().Sub(time.Unix(unix, 0)); skew > signatureMaxSkew || skew < -signatureMaxSkew {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true, nil
		}
	}
	return false, nil
}

// ParseWebhookEvent maps payment_intent.succeeded to a completed capture.
// Other event types are returned without a capture.
func (c *Client) ParseWebhookEvent(payload []byte) (*domain.WebhookEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.Type) == "" {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.WebhookEvent{
		EventID:   strings.TrimSpace(evt.ID),
		EventType: strings.TrimSpace(evt.Type),
	}
	if out.EventType != eventIntentSucceeded {
		return out, nil
	}

	var intent paymentIntent
	if err := json.Unmarshal(evt.Data.Object, &intent); err != nil || strings.TrimSpace(intent.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	out.ResourceType = objectPaymentIntent
	result := toResult(intent, payload)
	if result.CapturedAt.IsZero() && evt.Created > 0 {
		result.CapturedAt = time.Unix(evt.Created, 0).UTC()
	}
	out.Capture = result
	return out, nil
}

func (c *Client) logFailure(orderID string, status int, raw []byte) {
	var serr errorResponse
	_ = json.Unmarshal(raw, &serr)
	c.log.Warn("stripe payment intent request failed",
		zap.String("order_id", orderID),
		zap.Int("status", status),
		zap.String("error_type", serr.Error.Type),
		zap.String("error_code", serr.Error.Code),
		zap.String("decline_code", serr.Error.DeclineCode),
	)
}

func toResult(intent paymentIntent, raw []byte) *domain.Result {
	currency := strings.ToUpper(strings.TrimSpace(intent.Currency))
	status := mapStatus(intent.Status)

	minor := intent.AmountReceived
	if minor == 0 && status == domain.StatusCompleted {
		minor = intent.Amount
	}

	result := &domain.Result{
		Processor:     gatewaydomain.ProcessorStripe,
		OrderID:       strings.TrimSpace(intent.ID),
		Status:        status,
		TransactionID: strings.TrimSpace(intent.ID),
		CaptureStatus: strings.ToUpper(strings.TrimSpace(intent.Status)),
		Amount:        fromMinorUnits(minor, currency),
		Currency:      currency,
		PayerEmail:    strings.TrimSpace(intent.ReceiptEmail),
		InvoiceID:     strings.TrimSpace(intent.Metadata["invoice_id"]),
		Raw:           json.RawMessage(raw),
	}
	if intent.Created > 0 {
		result.CapturedAt = time.Unix(intent.Created, 0).UTC()
	}

	ch, err := decodeCharge(intent.LatestCharge)
	if err == nil && ch.ID != "" {
		result.TransactionID = ch.ID
		if ch.BillingDetails.Email != "" {
			result.PayerEmail = ch.BillingDetails.Email
		}
		result.PayerName = strings.TrimSpace(ch.BillingDetails.Name)
		if ch.Created > 0 {
			result.CapturedAt = time.Unix(ch.Created, 0).UTC()
		}
	}
	return result
}

// decodeCharge accepts latest_charge as either an id or an expanded object.
func decodeCharge(raw json.RawMessage) (charge, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return charge{}, errors.New("no charge")
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return charge{ID: strings.TrimSpace(id)}, nil
	}
	var ch charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return charge{}, err
	}
	return ch, nil
}

func mapStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return domain.StatusCompleted
	case "processing":
		return "PENDING"
	case "requires_capture":
		return "APPROVED"
	case "canceled":
		return "VOIDED"
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return "PAYER_ACTION_REQUIRED"
	default:
		return strings.ToUpper(strings.TrimSpace(status))
	}
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, domain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
