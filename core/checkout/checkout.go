package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmaretti/storefront/core/cart"
	"github.com/shopspring/decimal"
)

// Status is the checkout flow state. Transitions are enforced: a session
// can never jump to succeeded without passing verification.
type Status string

const (
	Idle              Status = "idle"
	ResolvingAddress  Status = "resolving_address"
	RequestingSession Status = "requesting_session"
	AwaitingProvider  Status = "awaiting_provider"
	Verifying         Status = "verifying"
	Succeeded         Status = "succeeded"
	Failed            Status = "failed"
	Cancelled         Status = "cancelled"
)

var transitions = map[Status][]Status{
	Idle:              {ResolvingAddress},
	ResolvingAddress:  {RequestingSession},
	RequestingSession: {AwaitingProvider, Failed},
	AwaitingProvider:  {Verifying, Cancelled, Failed},
	Verifying:         {Succeeded, Failed},

	// Terminal states allow an explicit retry.
	Failed:    {RequestingSession},
	Cancelled: {AwaitingProvider, Idle},
}

func (s Status) canEnter(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Session is one checkout attempt: the link between a cart snapshot, a
// delivery address and a provider payment session. It lives in memory
// for the duration of the flow; only the minimal handoff state survives
// the redirect to the provider.
type Session struct {
	ID                string          `json:"id"`
	UserID            string          `json:"-"`
	AddressID         string          `json:"addressId"`
	Provider          string          `json:"provider"`
	ProviderSessionID string          `json:"providerSessionId,omitempty"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RedirectURL       string          `json:"redirectUrl,omitempty"`
	Status            Status          `json:"status"`
	Reason            string          `json:"reason,omitempty"`
	OrderID           string          `json:"orderId,omitempty"`
	Lines             []cart.Line     `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	ProviderExpiresAt time.Time       `json:"-"`

	handoffCleared bool
}

func (s *Session) transition(to Status, now time.Time) error {
	if !s.Status.canEnter(to) {
		return fmt.Errorf("illegal checkout transition %s -> %s", s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// Error taxonomy surfaced to the UI layer. Each kind carries distinct
// user-facing semantics; in particular a verification failure must send
// the user to support instead of offering a retry, because the charge
// likely went through.

type SessionCreationError struct{ Err error }

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("creating payment session: %v", e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

type ProviderError struct{ Reason string }

func (e *ProviderError) Error() string {
	if e.Reason == "" {
		return "the payment provider reported a failure"
	}
	return fmt.Sprintf("the payment provider reported a failure: %s", e.Reason)
}

type VerificationError struct{ Err error }

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete in time", e.Op)
}

var (
	ErrUserCancelled  = errors.New("checkout cancelled by user")
	ErrEmptyCart      = errors.New("no items to checkout")
	ErrNoSession      = errors.New("no checkout in progress")
	ErrNotCancellable = errors.New("checkout can only be cancelled while awaiting the provider")
	ErrFlowInProgress = errors.New("a checkout is already in progress")
)
