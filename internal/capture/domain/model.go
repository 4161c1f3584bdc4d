package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
)

// StatusCompleted is the only order status that moves money into the ledger.
const StatusCompleted = "COMPLETED"

// EventCaptureCompleted is the processor-neutral name for a settled capture event.
const EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"

// Result is the normalized outcome of a capture or order lookup.
type Result struct {
	Processor     gatewaydomain.Processor
	OrderID       string
	Status        string
	TransactionID string
	CaptureStatus string
	Amount        decimal.Decimal
	Currency      string
	PayerEmail    string
	PayerName     string
	// InvoiceID is the merchant reference echoed back by the processor, if any.
	InvoiceID  string
	CapturedAt time.Time
	Raw        json.RawMessage
}

func (r *Result) Completed() bool {
	return r != nil && strings.EqualFold(r.Status, StatusCompleted)
}

// WebhookEvent is a parsed processor notification.
type WebhookEvent struct {
	EventID      string
	EventType    string
	ResourceType string
	// Capture is set when the event carries a completed capture.
	Capture *Result
}

func (e *WebhookEvent) CaptureCompleted() bool {
	return e != nil && e.Capture != nil && e.Capture.Completed()
}

//go:generate mockgen -source=model.go -destination=../mock/mock_client.go -package=mock

// Client talks to one processor with one organization's credentials.
type Client interface {
	Processor() gatewaydomain.Processor
	GetAccessToken(ctx context.Context) (string, error)
	CaptureOrder(ctx context.Context, orderID string) (*Result, error)
	GetOrder(ctx context.Context, orderID string) (*Result, error)
	VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) (bool, error)
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

type Factory interface {
	Processor() gatewaydomain.Processor
	NewClient(settings gatewaydomain.Settings) (Client, error)
}
