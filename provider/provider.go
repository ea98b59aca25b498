// Package provider abstracts the external payment gateway. The checkout
// flow only ever sees this port, so gateways are swappable and tests run
// against a double.
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	Name       string
	Quantity   int
	UnitAmount decimal.Decimal
}

// SessionRequest carries what the gateway needs to open one payment
// attempt. Reference is our checkout session id, echoed back in
// callbacks.
type SessionRequest struct {
	Reference string
	Currency  string
	Lines     []LineItem
}

// Session is the gateway's answer. Amount is authoritative: the checkout
// flow charges what the gateway confirmed, never a locally computed
// subtotal.
type Session struct {
	ID          string
	Amount      decimal.Decimal
	Currency    string
	RedirectURL string
}

type CallbackKind string

const (
	CallbackSucceeded CallbackKind = "succeeded"
	CallbackFailed    CallbackKind = "failed"
	CallbackDismissed CallbackKind = "dismissed"

	// CallbackIgnored marks gateway events that are not part of the
	// checkout flow (unrelated webhook types). They are acknowledged
	// and dropped.
	CallbackIgnored CallbackKind = "ignored"
)

// Callback is one asynchronous gateway signal. Exactly one kind fires
// per payment attempt; duplicates can still arrive on gateway retries
// and the flow must stay safe when they do.
type Callback struct {
	SessionID string
	PaymentID string
	Kind      CallbackKind
	Reason    string
}

type Gateway interface {
	Name() string

	// CreateSession opens a payment attempt with the gateway.
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)

	// ParseCallback authenticates and decodes a raw callback payload.
	// It fails closed: a bad signature is an error, never an ignored
	// callback.
	ParseCallback(body []byte, signature string) (*Callback, error)

	// Verify confirms with the gateway that the reported payment is
	// genuine. Called at most once per payment id by the checkout flow.
	Verify(ctx context.Context, providerSessionID, providerPaymentID string) error
}
