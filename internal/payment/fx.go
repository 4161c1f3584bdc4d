package payment

import (
	"github.com/smallbiznis/paycapture/internal/payment/domain"
	"github.com/smallbiznis/paycapture/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paycapture/internal/payment/service"
	"github.com/smallbiznis/paycapture/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) domain.Service { return s }),
	fx.Provide(webhook.NewService),
)
