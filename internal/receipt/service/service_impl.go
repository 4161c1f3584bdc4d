package service

import (
	"context"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycapture/internal/clock"
	"github.com/smallbiznis/paycapture/internal/providers/pdf"
	"github.com/smallbiznis/paycapture/internal/receipt/domain"
	"github.com/smallbiznis/paycapture/internal/receipt/format"
	"github.com/smallbiznis/paycapture/pkg/db"
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
	Clock clock.Clock
	PDF   pdf.Provider
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	pdf      pdf.Provider
	template string
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("receipt.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    p.Clock,
		pdf:      p.PDF,
		template: format.DefaultReceiptNumberTemplate,
	}
}

func (s *Service) Generate(ctx context.Context, input domain.GenerateInput) (*domain.Receipt, error) {
	if input.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if input.PaymentID == 0 || input.InvoiceID == 0 {
		return nil, domain.ErrInvalidPayment
	}

	existing, err := s.repo.FindByPaymentID(ctx, s.db, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}

	var created domain.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.repo.NextSequence(ctx, tx, input.OrgID, format.PeriodKey(paymentDate))
		if err != nil {
			return err
		}
		number, err := format.FormatReceiptNumber(s.template, paymentDate, seq)
		if err != nil {
			return err
		}

		created = domain.Receipt{
			ID:               s.genID.Generate().Int64(),
			OrgID:            input.OrgID,
			ReceiptNumber:    number,
			CustomerID:       input.CustomerID,
			PaymentID:        input.PaymentID,
			InvoiceID:        input.InvoiceID,
			OrderID:          input.OrderID,
			AmountPaid:       input.AmountPaid,
			PreviousBalance:  input.PreviousBalance,
			RemainingBalance: input.RemainingBalance,
			InvoiceTotal:     input.InvoiceTotal,
			Currency:         strings.ToUpper(strings.TrimSpace(input.Currency)),
			PaymentDate:      paymentDate,
			Status:           domain.StatusGenerated,
			CreatedAt:        now,
		}
		return s.repo.Insert(ctx, tx, &created)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent call won the race for this payment.
			if existing, findErr := s.repo.FindByPaymentID(ctx, s.db, input.PaymentID); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.log.Info("receipt generated",
		zap.Int64("org_id", created.OrgID),
		zap.Int64("payment_id", created.PaymentID),
		zap.String("receipt_number", created.ReceiptNumber),
	)
	return &created, nil
}

func (s *Service) Get(ctx context.Context, orgID, id int64) (*domain.View, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	view, err := s.repo.FindView(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, domain.ErrNotFound
	}
	return view, nil
}

func (s *Service) RenderPDF(ctx context.Context, orgID, id int64) (io.Reader, error) {
	view, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	return s.pdf.GenerateReceipt(ctx, pdf.ReceiptData{
		ReceiptNumber:    view.ReceiptNumber,
		InvoiceNumber:    view.InvoiceNumber,
		DatePaid:         view.PaymentDate.Format("2006-01-02"),
		PaymentMethod:    view.PaymentMethod,
		TransactionID:    view.ProcessorTransactionID,
		InvoiceTotal:     formatMoney(view.Currency, view.InvoiceTotal),
		PreviousBalance:  formatMoney(view.Currency, view.PreviousBalance),
		AmountPaid:       formatMoney(view.Currency, view.AmountPaid),
		RemainingBalance: formatMoney(view.Currency, view.RemainingBalance),
	})
}
