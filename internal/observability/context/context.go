package context

import (
	stdcontext "context"
	"strings"
)

type requestIDKey struct{}
type orgIDKey struct{}
type processorKey struct{}
type invoiceIDKey struct{}
type orderIDKey struct{}

// WithRequestID stores the inbound request identifier.
func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return withString(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, requestIDKey{})
}

// WithOrgID stores the organization the request operates on.
func WithOrgID(ctx stdcontext.Context, orgID string) stdcontext.Context {
	return withString(ctx, orgIDKey{}, orgID)
}

func OrgIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, orgIDKey{})
}

// WithProcessor stores the payment processor handling the request.
func WithProcessor(ctx stdcontext.Context, processor string) stdcontext.Context {
	return withString(ctx, processorKey{}, processor)
}

func ProcessorFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, processorKey{})
}

// WithCapture stores the invoice and processor order a capture or sweep
// operates on.
func WithCapture(ctx stdcontext.Context, invoiceID, orderID string) stdcontext.Context {
	ctx = withString(ctx, invoiceIDKey{}, invoiceID)
	return withString(ctx, orderIDKey{}, orderID)
}

func InvoiceIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, invoiceIDKey{})
}

func OrderIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, orderIDKey{})
}

func withString(ctx stdcontext.Context, key any, value string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, key, value)
}

func stringFrom(ctx stdcontext.Context, key any) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
