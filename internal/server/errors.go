package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// ErrorHandlingMiddleware renders the last handler error for routes that did
// not write their own response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Code: err.Error(), Message: "invalid value"},
			},
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, receiptdomain.ErrNotFound),
		errors.Is(err, gatewaydomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrInvalidOrganization),
		errors.Is(err, gatewaydomain.ErrInvalidProcessor),
		errors.Is(err, gatewaydomain.ErrInvalidMode),
		errors.Is(err, gatewaydomain.ErrInvalidCredentials),
		errors.Is(err, receiptdomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidInvoiceID):
		return true
	default:
		return false
	}
}

// classifyErrorForLog returns (error_type, error_code) for the request log.
func classifyErrorForLog(err error) (string, string) {
	var authErr *capturedomain.AuthError
	var captureErr *capturedomain.CaptureError
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, paymentdomain.ErrPaymentNotCompleted):
		return "payment_not_completed", err.Error()
	case errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvoiceNotPayable),
		isValidationError(err),
		asValidationErrors(err) != nil:
		return "validation", err.Error()
	case errors.Is(err, gatewaydomain.ErrNotConfigured):
		return "configuration", gatewaydomain.ErrNotConfigured.Error()
	case errors.As(err, &authErr):
		return "processor_auth", "auth_failed"
	case errors.Is(err, paymentdomain.ErrCaptureUnverified):
		return "capture_unverified", paymentdomain.ErrCaptureUnverified.Error()
	case errors.As(err, &captureErr):
		return "processor_capture", "capture_failed"
	case errors.Is(err, paymentdomain.ErrInvoiceNotFound):
		return "invoice_not_found", paymentdomain.ErrInvoiceNotFound.Error()
	case errors.Is(err, paymentdomain.ErrPaymentRecord):
		return "payment_record", paymentdomain.ErrPaymentRecord.Error()
	case errors.Is(err, paymentdomain.ErrInvoiceUpdate):
		return "invoice_update", paymentdomain.ErrInvoiceUpdate.Error()
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", ErrUnauthorized.Error()
	default:
		return "internal", "internal_error"
	}
}
