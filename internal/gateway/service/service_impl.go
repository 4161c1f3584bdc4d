package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycapture/internal/config"
	"github.com/smallbiznis/paycapture/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cfg   config.Config
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	sealer  *sealer
	baseURL map[domain.Processor]string
}

func New(p Params) (domain.Service, error) {
	s, err := newSealer(p.Cfg.Gateway.ConfigSecret)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:     p.DB,
		log:    p.Log.Named("gateway.service"),
		repo:   p.Repo,
		genID:  p.GenID,
		sealer: s,
		baseURL: map[domain.Processor]string{
			domain.ProcessorPayPal: strings.TrimRight(p.Cfg.Gateway.PayPalBaseURL, "/"),
			domain.ProcessorStripe: strings.TrimRight(p.Cfg.Gateway.StripeBaseURL, "/"),
		},
	}, nil
}

func (s *Service) GetGatewaySettings(ctx context.Context, orgID int64, processor domain.Processor) (*domain.Settings, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !processor.Valid() {
		return nil, domain.ErrInvalidProcessor
	}

	row, err := s.repo.FindSetting(ctx, s.db, orgID, string(processor))
	if err != nil {
		return nil, err
	}
	if row == nil || !row.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotConfigured, processor)
	}

	fields, err := s.sealer.open(row.SecretPayload)
	if err != nil {
		s.log.Error("gateway secret unreadable",
			zap.Int64("org_id", orgID),
			zap.String("processor", string(processor)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrNotConfigured, err)
	}

	clientID := strings.TrimSpace(row.ClientID)
	clientSecret := strings.TrimSpace(fields.ClientSecret)
	// Stripe authenticates with the secret key alone.
	if clientSecret == "" || (processor == domain.ProcessorPayPal && clientID == "") {
		return nil, fmt.Errorf("%w: %s credentials incomplete", domain.ErrNotConfigured, processor)
	}

	mode := domain.Mode(row.Mode)
	return &domain.Settings{
		OrgID:        orgID,
		Processor:    processor,
		Mode:         mode,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		APIBaseURL:   s.resolveBaseURL(processor, mode),
		WebhookID:    strings.TrimSpace(row.WebhookID),
		Currency:     strings.ToUpper(strings.TrimSpace(row.Currency)),
	}, nil
}

func (s *Service) ListSettings(ctx context.Context, orgID int64) ([]domain.SettingSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	items, err := s.repo.ListSettings(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.SettingSummary, 0, len(items))
	for _, item := range items {
		resp = append(resp, summarize(item))
	}
	return resp, nil
}

func (s *Service) UpsertSettings(ctx context.Context, req domain.UpsertRequest) (*domain.SettingSummary, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	processor := domain.Processor(strings.ToLower(strings.TrimSpace(string(req.Processor))))
	if !processor.Valid() {
		return nil, domain.ErrInvalidProcessor
	}
	mode := domain.Mode(strings.ToLower(strings.TrimSpace(string(req.Mode))))
	if mode == "" {
		mode = domain.ModeSandbox
	}
	if mode != domain.ModeSandbox && mode != domain.ModeLive {
		return nil, domain.ErrInvalidMode
	}

	clientID := strings.TrimSpace(req.ClientID)
	clientSecret := strings.TrimSpace(req.ClientSecret)
	if clientSecret == "" || (processor == domain.ProcessorPayPal && clientID == "") {
		return nil, domain.ErrInvalidCredentials
	}

	sealed, err := s.sealer.seal(secretFields{ClientSecret: clientSecret})
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindSetting(ctx, s.db, req.OrgID, string(processor))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := domain.GatewaySetting{
		ID:            s.genID.Generate().Int64(),
		OrgID:         req.OrgID,
		Processor:     string(processor),
		Mode:          string(mode),
		ClientID:      clientID,
		SecretPayload: sealed,
		WebhookID:     strings.TrimSpace(req.WebhookID),
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing != nil {
		row.ID = existing.ID
		row.IsActive = existing.IsActive
		row.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.UpsertSetting(ctx, s.db, &row); err != nil {
		return nil, err
	}

	action := "gateway.rotate_secret"
	if existing == nil {
		action = "gateway.enable"
	}
	s.log.Info(action,
		zap.Int64("org_id", req.OrgID),
		zap.String("processor", string(processor)),
		zap.String("mode", string(mode)),
	)

	summary := summarize(row)
	return &summary, nil
}

func (s *Service) SetActive(ctx context.Context, orgID int64, processor domain.Processor, isActive bool) (*domain.SettingSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !processor.Valid() {
		return nil, domain.ErrInvalidProcessor
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, orgID, string(processor), isActive, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	row, err := s.repo.FindSetting(ctx, s.db, orgID, string(processor))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.New("gateway setting vanished after update")
	}
	summary := summarize(*row)
	return &summary, nil
}

func (s *Service) resolveBaseURL(processor domain.Processor, mode domain.Mode) string {
	if override := s.baseURL[processor]; override != "" {
		return override
	}
	return DefaultBaseURL(processor, mode)
}

// DefaultBaseURL maps a processor and mode to its public API host.
func DefaultBaseURL(processor domain.Processor, mode domain.Mode) string {
	switch processor {
	case domain.ProcessorPayPal:
		if mode == domain.ModeLive {
			return domain.PayPalLiveBaseURL
		}
		return domain.PayPalSandboxBaseURL
	case domain.ProcessorStripe:
		return domain.StripeBaseURL
	default:
		return ""
	}
}

func summarize(row domain.GatewaySetting) domain.SettingSummary {
	return domain.SettingSummary{
		Processor:  domain.Processor(row.Processor),
		Mode:       domain.Mode(row.Mode),
		ClientID:   row.ClientID,
		WebhookID:  row.WebhookID,
		Currency:   row.Currency,
		IsActive:   row.IsActive,
		Configured: len(row.SecretPayload) > 0,
	}
}
