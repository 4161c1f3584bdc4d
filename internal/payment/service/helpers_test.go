package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/capture"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	"github.com/smallbiznis/paycapture/internal/capture/mock"
	"github.com/smallbiznis/paycapture/internal/clock"
	"github.com/smallbiznis/paycapture/internal/config"
	"github.com/smallbiznis/paycapture/internal/events"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/paycapture/internal/invoice/repository"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	"github.com/smallbiznis/paycapture/internal/payment/repository"
	"github.com/smallbiznis/paycapture/internal/providers/pdf"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
	receiptrepo "github.com/smallbiznis/paycapture/internal/receipt/repository"
	receiptservice "github.com/smallbiznis/paycapture/internal/receipt/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOrgID     int64 = 7001
	testInvoiceID int64 = 9001
)

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

type harness struct {
	db        *gorm.DB
	svc       *Service
	client    *mock.MockClient
	clock     *clock.FakeClock
	publisher *recordingPublisher
}

type harnessOption func(*Params)

func withInvoiceRepo(repo invoicedomain.Repository) harnessOption {
	return func(p *Params) { p.InvoiceRepo = repo }
}

func withReceipts(svc receiptdomain.Service) harnessOption {
	return func(p *Params) { p.Receipts = svc }
}

func withGateway(svc gatewaydomain.Service) harnessOption {
	return func(p *Params) { p.Gateway = svc }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:payment_svc_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection serializes whole transactions, so goroutine tests only
	// show that concurrent calls queue correctly. Interleaved reads are staged
	// with staleSnapshotInvoiceRepo.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&paymentdomain.CaptureAttempt{},
		&paymentdomain.WebhookEvent{},
		&receiptdomain.Receipt{},
		&receiptdomain.Sequence{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)
	factory := mock.NewMockFactory(ctrl)
	factory.EXPECT().Processor().Return(gatewaydomain.ProcessorPayPal).AnyTimes()
	factory.EXPECT().NewClient(gomock.Any()).Return(client, nil).AnyTimes()

	fakeClock := clock.NewFakeClock(testNow)
	publisher := &recordingPublisher{}

	params := Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        repository.Provide(),
		InvoiceRepo: invoicerepo.Provide(),
		Gateway:     staticGateway{},
		Clients:     capture.NewRegistry(factory),
		Receipts: receiptservice.New(receiptservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Repo:  receiptrepo.Provide(),
			Clock: fakeClock,
			PDF:   &pdf.NoOpProvider{},
		}),
		Publisher:  publisher,
		CaptureCfg: config.NewStaticCaptureConfigHolder(config.DefaultCaptureConfig()),
	}
	for _, opt := range opts {
		opt(&params)
	}

	return &harness{
		db:        db,
		svc:       NewService(params),
		client:    client,
		clock:     fakeClock,
		publisher: publisher,
	}
}

func (h *harness) seedInvoice(t *testing.T, id int64, balance string, status invoicedomain.InvoiceStatus) {
	t.Helper()
	amount := decimal.RequireFromString(balance)
	require.NoError(t, invoicerepo.Provide().Insert(context.Background(), h.db, &invoicedomain.Invoice{
		ID:            id,
		OrgID:         testOrgID,
		CustomerID:    4242,
		InvoiceNumber: fmt.Sprintf("INV-%d", id),
		Currency:      "USD",
		TotalAmount:   decimal.NewFromInt(1000),
		Balance:       amount,
		Status:        status,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}))
}

func (h *harness) invoice(t *testing.T, id int64) *invoicedomain.Invoice {
	t.Helper()
	inv, err := invoicerepo.Provide().FindByID(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func (h *harness) attempt(t *testing.T, orderID string) paymentdomain.CaptureAttempt {
	t.Helper()
	var item paymentdomain.CaptureAttempt
	require.NoError(t, h.db.Where("processor_order_id = ?", orderID).Take(&item).Error)
	return item
}

func completedResult(orderID, captureID, amount string) *capturedomain.Result {
	return &capturedomain.Result{
		Processor:     gatewaydomain.ProcessorPayPal,
		OrderID:       orderID,
		Status:        capturedomain.StatusCompleted,
		TransactionID: captureID,
		CaptureStatus: capturedomain.StatusCompleted,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		PayerEmail:    "payer@example.com",
		PayerName:     "Jane Payer",
	}
}

type staticGateway struct {
	err error
}

func (g staticGateway) GetGatewaySettings(ctx context.Context, orgID int64, processor gatewaydomain.Processor) (*gatewaydomain.Settings, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &gatewaydomain.Settings{
		OrgID:        orgID,
		Processor:    processor,
		Mode:         gatewaydomain.ModeSandbox,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		APIBaseURL:   gatewaydomain.PayPalSandboxBaseURL,
	}, nil
}

func (staticGateway) ListSettings(ctx context.Context, orgID int64) ([]gatewaydomain.SettingSummary, error) {
	return nil, nil
}

func (staticGateway) UpsertSettings(ctx context.Context, req gatewaydomain.UpsertRequest) (*gatewaydomain.SettingSummary, error) {
	return nil, errors.New("not supported")
}

func (staticGateway) SetActive(ctx context.Context, orgID int64, processor gatewaydomain.Processor, isActive bool) (*gatewaydomain.SettingSummary, error) {
	return nil, errors.New("not supported")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentReconciled
}

func (p *recordingPublisher) PublishPaymentReconciled(ctx context.Context, event events.PaymentReconciled) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.PaymentReconciled {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PaymentReconciled(nil), p.events...)
}

// conflictingInvoiceRepo loses the first n version races.
type conflictingInvoiceRepo struct {
	invoicedomain.Repository
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (r *conflictingInvoiceRepo) UpdateBalance(ctx context.Context, db *gorm.DB, id int64, expectedVersion int64, balance decimal.Decimal, status invoicedomain.InvoiceStatus, updatedAt time.Time) (bool, error) {
	r.mu.Lock()
	r.calls++
	lose := r.calls <= r.conflicts
	r.mu.Unlock()
	if lose {
		return false, nil
	}
	return r.Repository.UpdateBalance(ctx, db, id, expectedVersion, balance, status, updatedAt)
}

// staleSnapshotInvoiceRepo hands the next FindForUpdate caller a row read
// before a competing writer committed, the view a transaction has when both
// read before either writes. Writes go to the real repository.
type staleSnapshotInvoiceRepo struct {
	invoicedomain.Repository
	mu    sync.Mutex
	stale *invoicedomain.Invoice
	reads int
}

func (r *staleSnapshotInvoiceRepo) stage(inv invoicedomain.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = &inv
}

func (r *staleSnapshotInvoiceRepo) FindForUpdate(ctx context.Context, db *gorm.DB, id int64) (*invoicedomain.Invoice, error) {
	r.mu.Lock()
	r.reads++
	stale := r.stale
	r.stale = nil
	r.mu.Unlock()
	if stale != nil {
		return stale, nil
	}
	return r.Repository.FindForUpdate(ctx, db, id)
}

type failingReceipts struct{}

func (failingReceipts) Generate(ctx context.Context, input receiptdomain.GenerateInput) (*receiptdomain.Receipt, error) {
	return nil, errors.New("receipt store unavailable")
}

func (failingReceipts) Get(ctx context.Context, orgID, id int64) (*receiptdomain.View, error) {
	return nil, receiptdomain.ErrNotFound
}

func (failingReceipts) RenderPDF(ctx context.Context, orgID, id int64) (io.Reader, error) {
	return nil, receiptdomain.ErrNotFound
}
