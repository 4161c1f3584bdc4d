package domain

import (
	"errors"
	"fmt"

	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
)

var (
	ErrProcessorNotSupported = errors.New("processor_not_supported")
	ErrInvalidOrderID        = errors.New("invalid_order_id")
	ErrInvalidResponse       = errors.New("invalid_processor_response")
	ErrInvalidPayload        = errors.New("invalid_webhook_payload")
	ErrInvalidSignature      = errors.New("invalid_webhook_signature")
)

// AuthError reports a failed credential exchange with the processor.
type AuthError struct {
	Processor  gatewaydomain.Processor
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s auth failed: %v", e.Processor, e.Err)
	}
	return fmt.Sprintf("%s auth failed: status %d", e.Processor, e.StatusCode)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) ProcessorError() bool { return true }

// CaptureError reports a failed capture or order call. Unknown is set when the
// request may have reached the processor, so money may have moved.
type CaptureError struct {
	Processor  gatewaydomain.Processor
	OrderID    string
	StatusCode int
	Body       string
	Unknown    bool
	Err        error
}

func (e *CaptureError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s capture %s failed: %v", e.Processor, e.OrderID, e.Err)
	default:
		return fmt.Sprintf("%s capture %s failed: status %d", e.Processor, e.OrderID, e.StatusCode)
	}
}

func (e *CaptureError) Unwrap() error { return e.Err }

func (e *CaptureError) ProcessorError() bool { return true }

// IsOutcomeUnknown reports whether err leaves the capture outcome undetermined.
func IsOutcomeUnknown(err error) bool {
	var captureErr *CaptureError
	return errors.As(err, &captureErr) && captureErr.Unknown
}
