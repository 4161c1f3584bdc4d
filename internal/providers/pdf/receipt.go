package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData holds preformatted strings; amounts already carry the currency.
type ReceiptData struct {
	ReceiptNumber    string
	InvoiceNumber    string
	DatePaid         string
	PaymentMethod    string
	TransactionID    string
	InvoiceTotal     string
	PreviousBalance  string
	AmountPaid       string
	RemainingBalance string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(6, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(6, receipt.ReceiptNumber, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+receipt.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 4}),
		),
		col.New(6).Add(
			text.New("Payment method: "+receipt.PaymentMethod, props.Text{Top: 0, Align: align.Right}),
			text.New("Transaction: "+receipt.TransactionID, props.Text{Top: 4, Align: align.Right}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.AmountPaid+" paid on "+receipt.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)
	m.AddRow(5, line.NewCol(12))

	summary := [][2]string{
		{"Invoice total", receipt.InvoiceTotal},
		{"Balance before payment", receipt.PreviousBalance},
		{"Amount paid", receipt.AmountPaid},
		{"Remaining balance", receipt.RemainingBalance},
	}
	for i, row := range summary {
		style := fontstyle.Normal
		if i == len(summary)-1 {
			style = fontstyle.Bold
		}
		m.AddRow(10,
			col.New(6),
			text.NewCol(3, row[0], props.Text{Size: 9, Style: style}),
			text.NewCol(3, row[1], props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
