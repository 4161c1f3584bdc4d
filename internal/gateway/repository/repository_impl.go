package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/paycapture/internal/gateway/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSetting(ctx context.Context, db *gorm.DB, orgID int64, processor string) (*domain.GatewaySetting, error) {
	var item domain.GatewaySetting
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, processor, mode, client_id, secret_payload, webhook_id, currency, is_active, created_at, updated_at
		 FROM payment_gateway_settings
		 WHERE org_id = ? AND processor = ?
		 LIMIT 1`,
		orgID,
		processor,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListSettings(ctx context.Context, db *gorm.DB, orgID int64) ([]domain.GatewaySetting, error) {
	var items []domain.GatewaySetting
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, processor, mode, client_id, secret_payload, webhook_id, currency, is_active, created_at, updated_at
		 FROM payment_gateway_settings
		 WHERE org_id = ?
		 ORDER BY processor`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpsertSetting(ctx context.Context, db *gorm.DB, setting *domain.GatewaySetting) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_gateway_settings (
			id, org_id, processor, mode, client_id, secret_payload, webhook_id, currency, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, processor)
		DO UPDATE SET mode = EXCLUDED.mode,
			client_id = EXCLUDED.client_id,
			secret_payload = EXCLUDED.secret_payload,
			webhook_id = EXCLUDED.webhook_id,
			currency = EXCLUDED.currency,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		setting.ID,
		setting.OrgID,
		setting.Processor,
		setting.Mode,
		setting.ClientID,
		setting.SecretPayload,
		setting.WebhookID,
		setting.Currency,
		setting.IsActive,
		setting.CreatedAt,
		setting.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID int64, processor string, isActive bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_gateway_settings
		 SET is_active = ?, updated_at = ?
		 WHERE org_id = ? AND processor = ?`,
		isActive,
		updatedAt,
		orgID,
		processor,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
