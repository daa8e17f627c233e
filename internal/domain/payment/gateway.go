package payment

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable covers network failures and timeouts talking to the
	// external processor. The caller decides whether to retry.
	ErrUnavailable = errors.New("payment: gateway unavailable")
	// ErrRejected covers requests the processor refused (e.g. invalid amount).
	ErrRejected = errors.New("payment: gateway rejected the request")
	// ErrInvalidSignature means a webhook payload could not be trusted.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
)

// Intent is the gateway-side payment handle. The order keeps only the ID;
// the client secret goes back to the shopper to complete payment.
type Intent struct {
	ID           string
	ClientSecret string
}

// Metadata correlates a payment handle back to the shopper and order.
type Metadata struct {
	ShopperID string
	OrderID   string
}

// Gateway creates payment handles on the external processor. Amounts are in
// the processor's minor currency unit.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, meta Metadata) (*Intent, error)
}

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
)

// Event is a verified webhook notification from the processor.
type Event struct {
	ID       string
	Type     EventType
	IntentID string
}

// EventVerifier checks a raw webhook body against its signature header and
// parses it. Verification failure must fail closed with ErrInvalidSignature.
type EventVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (*Event, error)
}
