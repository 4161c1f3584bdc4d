package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
	"github.com/smallbiznis/paycapture/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	msgMissingFields       = "order_id and invoice_id are required"
	msgPaymentNotCompleted = "Payment not completed"
	msgInvoiceNotPayable   = "Invoice cannot accept payments"
	msgUnsupportedGateway  = "Unsupported payment processor"
	// Returned for every 5xx: the capture may already have moved money.
	msgCaptureFailed = "Payment could not be confirmed. If you were charged, the payment may have succeeded; please contact support."
)

// flexibleID accepts a JSON number or a numeric string.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*f = 0
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*f = flexibleID(id)
	return nil
}

type captureRequest struct {
	OrderID   string     `json:"order_id"`
	InvoiceID flexibleID `json:"invoice_id"`
	OrgID     flexibleID `json:"org_id"`
}

type captureResponse struct {
	Success   bool        `json:"success"`
	CaptureID string      `json:"capture_id"`
	Balance   json.Number `json:"balance"`
	Status    string      `json:"status"`
}

type captureErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCapture(processor gatewaydomain.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req captureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondCaptureError(c, paymentdomain.ErrInvalidRequest)
			return
		}
		orderID := strings.TrimSpace(req.OrderID)
		if orderID == "" || req.InvoiceID <= 0 {
			s.respondCaptureError(c, paymentdomain.ErrInvalidRequest)
			return
		}
		invoiceID := strconv.FormatInt(int64(req.InvoiceID), 10)
		c.Set("order_id", orderID)
		c.Set("invoice_id", invoiceID)
		c.Set("processor", string(processor))
		ctx := obscontext.WithCapture(c.Request.Context(), invoiceID, orderID)
		c.Request = c.Request.WithContext(obscontext.WithProcessor(ctx, string(processor)))

		orgID := s.resolveOrgID(c, int64(req.OrgID))
		out, err := s.paymentSvc.Capture(c.Request.Context(), paymentdomain.CaptureRequest{
			OrgID:     orgID,
			Processor: processor,
			OrderID:   orderID,
			InvoiceID: int64(req.InvoiceID),
		})
		if err != nil {
			s.respondCaptureError(c, err)
			return
		}

		c.JSON(http.StatusOK, captureResponse{
			Success:   out.Success,
			CaptureID: out.CaptureID,
			Balance:   json.Number(out.Balance.String()),
			Status:    string(out.Status),
		})
	}
}

// respondCaptureError writes the flat {"error": "..."} body capture callers
// expect. Only caller mistakes are 4xx.
func (s *Server) respondCaptureError(c *gin.Context, err error) {
	_ = c.Error(err)

	status, message := http.StatusInternalServerError, msgCaptureFailed
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidRequest):
		status, message = http.StatusBadRequest, msgMissingFields
	case errors.Is(err, gatewaydomain.ErrInvalidProcessor):
		status, message = http.StatusBadRequest, msgUnsupportedGateway
	case errors.Is(err, paymentdomain.ErrPaymentNotCompleted):
		status, message = http.StatusBadRequest, msgPaymentNotCompleted
	case errors.Is(err, paymentdomain.ErrInvoiceNotPayable):
		status, message = http.StatusBadRequest, msgInvoiceNotPayable
	}

	if status >= http.StatusInternalServerError {
		errorType, errorCode := classifyErrorForLog(err)
		logger.WithContext(c.Request.Context(), s.log).Error("capture request failed",
			zap.String("error_type", errorType),
			zap.String("error_code", errorCode),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, captureErrorResponse{Error: message})
}
