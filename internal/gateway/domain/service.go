package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindSetting(ctx context.Context, db *gorm.DB, orgID int64, processor string) (*GatewaySetting, error)
	ListSettings(ctx context.Context, db *gorm.DB, orgID int64) ([]GatewaySetting, error)
	UpsertSetting(ctx context.Context, db *gorm.DB, setting *GatewaySetting) error
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID int64, processor string, isActive bool, updatedAt time.Time) (bool, error)
}

type Service interface {
	// GetGatewaySettings resolves active credentials for one processor of an
	// organization. It returns ErrNotConfigured when nothing usable is stored.
	GetGatewaySettings(ctx context.Context, orgID int64, processor Processor) (*Settings, error)
	ListSettings(ctx context.Context, orgID int64) ([]SettingSummary, error)
	UpsertSettings(ctx context.Context, req UpsertRequest) (*SettingSummary, error)
	SetActive(ctx context.Context, orgID int64, processor Processor, isActive bool) (*SettingSummary, error)
}

type SettingSummary struct {
	Processor  Processor `json:"processor"`
	Mode       Mode      `json:"mode"`
	ClientID   string    `json:"client_id"`
	WebhookID  string    `json:"webhook_id,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	IsActive   bool      `json:"is_active"`
	Configured bool      `json:"configured"`
}

type UpsertRequest struct {
	OrgID        int64     `json:"org_id"`
	Processor    Processor `json:"processor"`
	Mode         Mode      `json:"mode"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	WebhookID    string    `json:"webhook_id"`
	Currency     string    `json:"currency"`
}

var (
	// ErrNotConfigured is the configuration error for a missing, inactive or
	// incomplete gateway setting.
	ErrNotConfigured        = errors.New("gateway_not_configured")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidProcessor     = errors.New("invalid_processor")
	ErrInvalidMode          = errors.New("invalid_mode")
	ErrInvalidCredentials   = errors.New("invalid_credentials")
	ErrNotFound             = errors.New("not_found")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrDecryptFailed        = errors.New("decrypt_failed")
)
