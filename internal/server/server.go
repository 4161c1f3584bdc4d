package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paycapture/internal/config"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	"github.com/smallbiznis/paycapture/internal/observability"
	obsmiddleware "github.com/smallbiznis/paycapture/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycapture/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paycapture/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	webhookSvc paymentdomain.WebhookService
	gatewaySvc gatewaydomain.Service
	receiptSvc receiptdomain.Service
	invoiceSvc invoicedomain.Service
}

type ServerParams struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	WebhookSvc paymentdomain.WebhookService
	GatewaySvc gatewaydomain.Service
	ReceiptSvc receiptdomain.Service
	InvoiceSvc invoicedomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Engine,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		gatewaySvc: p.GatewaySvc,
		receiptSvc: p.ReceiptSvc,
		invoiceSvc: p.InvoiceSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerCaptureRoutes()
	s.registerReceiptRoutes()
	s.registerAdminRoutes()
}

func (s *Server) registerCaptureRoutes() {
	for _, processor := range []gatewaydomain.Processor{gatewaydomain.ProcessorPayPal, gatewaydomain.ProcessorStripe} {
		base := "/" + string(processor) + "-capture-payment"
		s.engine.POST(base, s.handleCapture(processor))
		s.engine.POST(base+"/webhook", s.handleWebhook(processor))
	}
}

func (s *Server) registerReceiptRoutes() {
	s.engine.GET("/receipts/:id/pdf", s.GetReceiptPDF)
	s.engine.GET("/invoices/:id", s.GetInvoice)
}

func (s *Server) registerAdminRoutes() {
	if s.cfg.AdminAPIKey == "" {
		s.log.Info("admin routes disabled; ADMIN_API_KEY is empty")
		return
	}
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminKeyRequired())

	admin.GET("/gateway-settings", s.ListGatewaySettings)
	admin.PUT("/gateway-settings/:processor", s.UpsertGatewaySettings)
	admin.PATCH("/gateway-settings/:processor/status", s.UpdateGatewaySettingsStatus)
}
