package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ExchangePayments         = "payments"
	RoutingPaymentReconciled = "payment.reconciled"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// PaymentReconciled is published once per newly recorded payment. Consumers
// such as the notification dispatcher key on PaymentID.
type PaymentReconciled struct {
	EventID       string          `json:"event_id"`
	OrgID         int64           `json:"org_id,string"`
	InvoiceID     int64           `json:"invoice_id,string"`
	PaymentID     int64           `json:"payment_id,string"`
	ReceiptID     int64           `json:"receipt_id,string,omitempty"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	Processor     string          `json:"processor"`
	CaptureID     string          `json:"capture_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
	Source        string          `json:"source"`
	PayerEmail    string          `json:"payer_email,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Publisher interface {
	PublishPaymentReconciled(ctx context.Context, event PaymentReconciled) error
	Close() error
}

// LogPublisher drops events after logging them. Used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events.fallback")}
}

func (p *LogPublisher) PublishPaymentReconciled(ctx context.Context, event PaymentReconciled) error {
	p.log.Info("publish skipped",
		zap.String("routing_key", RoutingPaymentReconciled),
		zap.Int64("payment_id", event.PaymentID),
		zap.Int64("invoice_id", event.InvoiceID),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// AMQPPublisher publishes JSON messages to a durable topic exchange.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

// NewPublisher dials RabbitMQ when RABBITMQ_URL is set. A failed dial falls
// back to logging so startup never depends on the broker.
func NewPublisher(p Params) Publisher {
	raw := strings.TrimSpace(p.Cfg.RabbitMQURL)
	if raw == "" {
		return NewLogPublisher(p.Log)
	}

	pub, err := DialAMQP(raw, p.Log)
	if err != nil {
		p.Log.Warn("rabbitmq unavailable, using fallback publisher", zap.Error(err))
		return NewLogPublisher(p.Log)
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
	return pub
}

func DialAMQP(rawURL string, log *zap.Logger) (*AMQPPublisher, error) {
	clean, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, channel: ch, log: log.Named("events.amqp")}, nil
}

func (p *AMQPPublisher) PublishPaymentReconciled(ctx context.Context, event PaymentReconciled) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, ExchangePayments, RoutingPaymentReconciled, false, false, msg)
	if err == nil {
		return nil
	}

	// One reopen attempt covers a channel closed by the broker.
	p.log.Warn("publish failed, reopening channel", zap.Error(err))
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	if exErr := declareExchange(ch); exErr != nil {
		return errors.Join(err, exErr)
	}
	p.channel = ch
	return p.channel.PublishWithContext(ctx, ExchangePayments, RoutingPaymentReconciled, false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(ExchangePayments, "topic", true, false, false, false, nil)
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url must use amqp:// or amqps://")
	}
	return clean, nil
}
