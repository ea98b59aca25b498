package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmaretti/storefront/config"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

var cents = decimal.NewFromInt(100)

type Stripe struct {
	api *stripecl.API
	cfg config.Stripe
}

func NewStripe(api *stripecl.API, cfg config.Stripe) *Stripe {
	return &Stripe{api: api, cfg: cfg}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	li := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, l := range req.Lines {
		li = append(li, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(l.Quantity)),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(req.Currency)),
				TaxBehavior: stripe.String("inclusive"),
				UnitAmount:  stripe.Int64(l.UnitAmount.Mul(cents).IntPart()),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems:         li,
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating stripe session: %w", err)
	}

	return &Session{
		ID:          sess.ID,
		Amount:      decimal.NewFromInt(sess.AmountTotal).Div(cents),
		Currency:    strings.ToUpper(string(sess.Currency)),
		RedirectURL: sess.URL,
	}, nil
}

func (s *Stripe) ParseCallback(body []byte, signature string) (*Callback, error) {
	if signature == "" {
		return nil, errors.New("received stripe event is not signed")
	}

	event, err := webhook.ConstructEvent(body, signature, s.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("cannot construct stripe event: %w", err)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unable to decode stripe event: %w", err)
	}

	cb := Callback{SessionID: sess.ID}
	if sess.PaymentIntent != nil {
		cb.PaymentID = sess.PaymentIntent.ID
	}
	if cb.PaymentID == "" {
		cb.PaymentID = sess.ID
	}

	switch event.Type {
	case "checkout.session.completed":
		cb.Kind = CallbackSucceeded
	case "checkout.session.async_payment_failed":
		cb.Kind = CallbackFailed
		cb.Reason = "the payment was declined by stripe"
	case "checkout.session.expired":
		cb.Kind = CallbackDismissed
	default:
		cb.Kind = CallbackIgnored
	}

	return &cb, nil
}

func (s *Stripe) Verify(ctx context.Context, providerSessionID, providerPaymentID string) error {
	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}

	sess, err := s.api.CheckoutSessions.Get(providerSessionID, params)
	if err != nil {
		return fmt.Errorf("fetching stripe session[%s]: %w", providerSessionID, err)
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return fmt.Errorf("stripe session[%s] has payment status[%s], not paid", providerSessionID, sess.PaymentStatus)
	}

	return nil
}
