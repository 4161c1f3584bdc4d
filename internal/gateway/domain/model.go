package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Processor string

const (
	ProcessorPayPal Processor = "paypal"
	ProcessorStripe Processor = "stripe"
)

func (p Processor) Valid() bool {
	switch p {
	case ProcessorPayPal, ProcessorStripe:
		return true
	default:
		return false
	}
}

// PaymentMethod is the label stored on payment records for the processor.
func (p Processor) PaymentMethod() string {
	switch p {
	case ProcessorPayPal:
		return "PayPal"
	case ProcessorStripe:
		return "Stripe"
	default:
		return string(p)
	}
}

type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

const (
	PayPalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveBaseURL    = "https://api-m.paypal.com"
	StripeBaseURL        = "https://api.stripe.com"
)

// GatewaySetting is the stored row. The client secret lives only inside
// SecretPayload, sealed with AES-GCM.
type GatewaySetting struct {
	ID            int64          `json:"id" gorm:"primaryKey"`
	OrgID         int64          `json:"org_id" gorm:"column:org_id;not null;uniqueIndex:ux_gateway_settings_org_processor"`
	Processor     string         `json:"processor" gorm:"type:text;not null;uniqueIndex:ux_gateway_settings_org_processor"`
	Mode          string         `json:"mode" gorm:"type:text;not null"`
	ClientID      string         `json:"client_id" gorm:"type:text;not null"`
	SecretPayload datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	WebhookID     string         `json:"webhook_id" gorm:"type:text"`
	Currency      string         `json:"currency" gorm:"type:text"`
	IsActive      bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (GatewaySetting) TableName() string { return "payment_gateway_settings" }

// Settings is the resolved, decrypted view handed to capture clients.
type Settings struct {
	OrgID        int64
	Processor    Processor
	Mode         Mode
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	WebhookID    string
	Currency     string
}

func (s Settings) IsLive() bool {
	return s.Mode == ModeLive
}
