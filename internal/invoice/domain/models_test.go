package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestApplyPayment(t *testing.T) {
	cases := []struct {
		name    string
		status  InvoiceStatus
		balance string
		amount  string
		want    string
		status2 InvoiceStatus
	}{
		{"partial", InvoiceStatusSent, "1000", "400", "600", InvoiceStatusPartial},
		{"exact", InvoiceStatusSent, "400", "400", "0", InvoiceStatusPaid},
		{"overpay", InvoiceStatusOverdue, "100", "150", "-50", InvoiceStatusPaid},
		{"second partial", InvoiceStatusPartial, "600", "100.50", "499.5", InvoiceStatusPartial},
		{"paid stays paid", InvoiceStatusPaid, "0", "10", "-10", InvoiceStatusPaid},
		{"cancelled keeps status", InvoiceStatusCancelled, "500", "100", "400", InvoiceStatusCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := Invoice{Status: tc.status, Balance: decimal.RequireFromString(tc.balance)}
			balance, status := inv.ApplyPayment(decimal.RequireFromString(tc.amount))
			assert.Equal(t, tc.want, balance.String())
			assert.Equal(t, tc.status2, status)
		})
	}
}

func TestPayable(t *testing.T) {
	assert.True(t, Invoice{Status: InvoiceStatusSent}.Payable())
	assert.True(t, Invoice{Status: InvoiceStatusPartial}.Payable())
	assert.False(t, Invoice{Status: InvoiceStatusPaid}.Payable())
	assert.False(t, Invoice{Status: InvoiceStatusCancelled}.Payable())
}
