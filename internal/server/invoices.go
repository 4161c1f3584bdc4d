package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

type invoiceResponse struct {
	ID            int64       `json:"id,string"`
	InvoiceNumber string      `json:"invoice_number"`
	Currency      string      `json:"currency"`
	TotalAmount   json.Number `json:"total_amount"`
	Balance       json.Number `json:"balance"`
	Status        string      `json:"status"`
}

// GetInvoice lets a checkout page poll the balance a capture left behind.
func (s *Server) GetInvoice(c *gin.Context) {
	id := parseID(c.Param("id"))
	if id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), s.resolveOrgID(c, 0), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoiceResponse{
		ID:            item.ID,
		InvoiceNumber: item.InvoiceNumber,
		Currency:      item.Currency,
		TotalAmount:   json.Number(item.TotalAmount.StringFixed(2)),
		Balance:       json.Number(item.Balance.StringFixed(2)),
		Status:        string(item.Status),
	})
}
