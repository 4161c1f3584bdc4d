package paypal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completedOrder = `{
  "id": "5O190127TN364715T",
  "status": "COMPLETED",
  "payer": {"email_address": "buyer@example.com", "name": {"given_name": "Ada", "surname": "Lovelace"}},
  "purchase_units": [{
    "reference_id": "default",
    "payments": {"captures": [{
      "id": "3C679366HH908993F",
      "status": "COMPLETED",
      "amount": {"currency_code": "USD", "value": "400.00"},
      "custom_id": "1234567890",
      "create_time": "2025-01-02T03:04:05Z"
    }]}
  }]
}`

type fakePayPal struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	captureCalls atomic.Int32
	requestIDs   []string
	captureCode  int
	captureBody  string
	tokenCode    int
	verifyStatus string
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()
	f := &fakePayPal{
		captureCode:  http.StatusCreated,
		captureBody:  completedOrder,
		tokenCode:    http.StatusOK,
		verifyStatus: "SUCCESS",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid_client"}`)
			return
		}
		if f.tokenCode != http.StatusOK {
			w.WriteHeader(f.tokenCode)
			_, _ = io.WriteString(w, `{"error":"server_error"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"A21AA","token_type":"Bearer","expires_in":32400}`)
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127TN364715T/capture", func(w http.ResponseWriter, r *http.Request) {
		f.captureCalls.Add(1)
		f.requestIDs = append(f.requestIDs, r.Header.Get("PayPal-Request-Id"))
		if r.Header.Get("Authorization") != "Bearer A21AA" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(f.captureCode)
		_, _ = io.WriteString(w, f.captureBody)
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127TN364715T", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completedOrder)
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"verification_status":"`+f.verifyStatus+`"}`)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) domain.Client {
	t.Helper()
	factory := NewFactory(FactoryOptions{HTTPClient: &http.Client{Timeout: timeout}})
	client, err := factory.NewClient(gatewaydomain.Settings{
		Processor:    gatewaydomain.ProcessorPayPal,
		Mode:         gatewaydomain.ModeSandbox,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		APIBaseURL:   baseURL,
		WebhookID:    "WH-1",
	})
	require.NoError(t, err)
	return client
}

func TestCaptureOrderCompleted(t *testing.T) {
	fake := newFakePayPal(t)
	client := newTestClient(t, fake.server.URL, 5*time.Second)

	result, err := client.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)

	assert.True(t, result.Completed())
	assert.Equal(t, "5O190127TN364715T", result.OrderID)
	assert.Equal(t, "3C679366HH908993F", result.TransactionID)
	assert.Equal(t, "400", result.Amount.String())
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, "1234567890", result.InvoiceID)
	assert.Equal(t, "buyer@example.com", result.PayerEmail)
	assert.Equal(t, "Ada Lovelace", result.PayerName)
	assert.Equal(t, []string{"capture-5O190127TN364715T"}, fake.requestIDs)
}

func TestAccessTokenIsCached(t *testing.T) {
	fake := newFakePayPal(t)
	client := newTestClient(t, fake.server.URL, 5*time.Second)

	_, err := client.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)
	_, err = client.GetOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestTokenFailureIsAuthError(t *testing.T) {
	fake := newFakePayPal(t)
	factory := NewFactory(FactoryOptions{})
	client, err := factory.NewClient(gatewaydomain.Settings{
		Processor:    gatewaydomain.ProcessorPayPal,
		ClientID:     "client-id",
		ClientSecret: "wrong",
		APIBaseURL:   fake.server.URL,
	})
	require.NoError(t, err)

	_, err = client.CaptureOrder(context.Background(), "5O190127TN364715T")
	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, int32(0), fake.captureCalls.Load())
}

func TestCaptureRejectedIsCaptureError(t *testing.T) {
	fake := newFakePayPal(t)
	fake.captureCode = http.StatusUnprocessableEntity
	fake.captureBody = `{"name":"UNPROCESSABLE_ENTITY","debug_id":"abc","details":[{"issue":"INSTRUMENT_DECLINED"}]}`
	client := newTestClient(t, fake.server.URL, 5*time.Second)

	_, err := client.CaptureOrder(context.Background(), "5O190127TN364715T")
	var captureErr *domain.CaptureError
	require.True(t, errors.As(err, &captureErr))
	assert.Equal(t, http.StatusUnprocessableEntity, captureErr.StatusCode)
	assert.Contains(t, captureErr.Body, "INSTRUMENT_DECLINED")
	assert.False(t, captureErr.Unknown)
}

func TestCaptureServerErrorIsUnknown(t *testing.T) {
	fake := newFakePayPal(t)
	fake.captureCode = http.StatusInternalServerError
	fake.captureBody = `{"name":"INTERNAL_SERVER_ERROR"}`
	client := newTestClient(t, fake.server.URL, 5*time.Second)

	_, err := client.CaptureOrder(context.Background(), "5O190127TN364715T")
	assert.True(t, domain.IsOutcomeUnknown(err))
}

func TestCaptureTimeoutIsUnknown(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			_, _ = io.WriteString(w, `{"access_token":"A21AA","expires_in":3600}`)
			return
		}
		time.Sleep(300 * time.Millisecond)
		_, _ = io.WriteString(w, completedOrder)
	}))
	t.Cleanup(slow.Close)

	client := newTestClient(t, slow.URL, 50*time.Millisecond)
	_, err := client.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.Error(t, err)
	assert.True(t, domain.IsOutcomeUnknown(err))
}

func TestCaptureOrderRequiresOrderID(t *testing.T) {
	fake := newFakePayPal(t)
	client := newTestClient(t, fake.server.URL, time.Second)

	_, err := client.CaptureOrder(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidOrderID)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewFactory(FactoryOptions{}).NewClient(gatewaydomain.Settings{APIBaseURL: "https://api-m.sandbox.paypal.com"})
	assert.ErrorIs(t, err, gatewaydomain.ErrNotConfigured)
}

func TestVerifyWebhookSignature(t *testing.T) {
	fake := newFakePayPal(t)
	client := newTestClient(t, fake.server.URL, time.Second)

	headers := http.Header{}
	headers.Set("PAYPAL-TRANSMISSION-ID", "tx-1")
	headers.Set("PAYPAL-TRANSMISSION-SIG", "sig")
	headers.Set("PAYPAL-TRANSMISSION-TIME", "2025-01-02T03:04:05Z")
	headers.Set("PAYPAL-AUTH-ALGO", "SHA256withRSA")
	headers.Set("PAYPAL-CERT-URL", "https://api.paypal.com/cert.pem")

	ok, err := client.VerifyWebhookSignature(context.Background(), []byte(`{"id":"WH-EVT"}`), headers)
	require.NoError(t, err)
	assert.True(t, ok)

	fake.verifyStatus = "FAILURE"
	ok, err = client.VerifyWebhookSignature(context.Background(), []byte(`{"id":"WH-EVT"}`), headers)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.VerifyWebhookSignature(context.Background(), []byte(`{"id":"WH-EVT"}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseWebhookEventCaptureCompleted(t *testing.T) {
	client := newTestClient(t, "https://api-m.sandbox.paypal.com", time.Second)
	payload := []byte(`{
	  "id": "WH-58D329510W468432D-8HN650336L201105X",
	  "event_type": "PAYMENT.CAPTURE.COMPLETED",
	  "resource_type": "capture",
	  "resource": {
	    "id": "42311647XV020574X",
	    "status": "COMPLETED",
	    "amount": {"currency_code": "USD", "value": "250.50"},
	    "custom_id": "987654321",
	    "supplementary_data": {"related_ids": {"order_id": "8MC585209K746392H"}}
	  }
	}`)

	event, err := client.ParseWebhookEvent(payload)
	require.NoError(t, err)
	require.True(t, event.CaptureCompleted())
	assert.Equal(t, "WH-58D329510W468432D-8HN650336L201105X", event.EventID)
	assert.Equal(t, "42311647XV020574X", event.Capture.TransactionID)
	assert.Equal(t, "8MC585209K746392H", event.Capture.OrderID)
	assert.Equal(t, "987654321", event.Capture.InvoiceID)
	assert.Equal(t, "250.5", event.Capture.Amount.String())
}

func TestParseWebhookEventOtherType(t *testing.T) {
	client := newTestClient(t, "https://api-m.sandbox.paypal.com", time.Second)

	event, err := client.ParseWebhookEvent([]byte(`{"id":"WH-1","event_type":"CHECKOUT.ORDER.APPROVED","resource_type":"checkout-order","resource":{"id":"O1"}}`))
	require.NoError(t, err)
	assert.False(t, event.CaptureCompleted())
	assert.Equal(t, "CHECKOUT.ORDER.APPROVED", event.EventType)

	_, err = client.ParseWebhookEvent([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
