package service

import (
	"context"

	"github.com/smallbiznis/paycapture/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("invoice.service"),
		repo: p.Repo,
	}
}

// GetByID returns the invoice only when it belongs to orgID.
func (s *Service) GetByID(ctx context.Context, orgID int64, id int64) (domain.Invoice, error) {
	if orgID == 0 {
		return domain.Invoice{}, domain.ErrInvalidOrganization
	}
	if id == 0 {
		return domain.Invoice{}, domain.ErrInvalidInvoiceID
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if item == nil || item.OrgID != orgID {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	return *item, nil
}
