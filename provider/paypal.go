package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

type Paypal struct {
	client *paypal.Client
}

func NewPaypal(client *paypal.Client) *Paypal {
	return &Paypal{client: client}
}

func (p *Paypal) Name() string { return "paypal" }

func (p *Paypal) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var tot decimal.Decimal
	items := make([]paypal.Item, 0, len(req.Lines))
	for _, l := range req.Lines {
		sub := l.UnitAmount.Mul(decimal.NewFromInt(int64(l.Quantity)))
		tot = tot.Add(sub)

		items = append(items, paypal.Item{
			Name:     l.Name,
			Quantity: fmt.Sprintf("%d", l.Quantity),

			UnitAmount: &paypal.Money{
				Currency: req.Currency,
				Value:    l.UnitAmount.StringFixed(2),
			},
		})
	}

	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.Reference,
		Items:       items,

		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    tot.StringFixed(2),

			Breakdown: &paypal.PurchaseUnitAmountBreakdown{ItemTotal: &paypal.Money{
				Currency: req.Currency,
				Value:    tot.StringFixed(2),
			}},
		},
	}}

	ord, err := p.client.CreateOrder(ctx, "CAPTURE", units, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating paypal order: %w", err)
	}

	return &Session{
		ID:       ord.ID,
		Amount:   tot,
		Currency: req.Currency,
	}, nil
}

// paypalCallback is the payload the storefront posts after the buttons
// flow resolves. Authenticity is established in Verify, which captures
// the order server-side; an invented order id cannot be captured.
type paypalCallback struct {
	OrderID string `json:"orderId"`
	Event   string `json:"event"`
	Reason  string `json:"reason"`
}

func (p *Paypal) ParseCallback(body []byte, signature string) (*Callback, error) {
	var in paypalCallback
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("unable to decode paypal callback: %w", err)
	}

	if in.OrderID == "" {
		return nil, fmt.Errorf("paypal callback without an order id")
	}

	cb := Callback{
		SessionID: in.OrderID,
		PaymentID: in.OrderID,
		Reason:    in.Reason,
	}

	switch in.Event {
	case "approved":
		cb.Kind = CallbackSucceeded
	case "failed":
		cb.Kind = CallbackFailed
	case "cancelled":
		cb.Kind = CallbackDismissed
	default:
		return nil, fmt.Errorf("unknown paypal callback event[%s]", in.Event)
	}

	return &cb, nil
}

func (p *Paypal) Verify(ctx context.Context, providerSessionID, providerPaymentID string) error {
	resp, err := p.client.CaptureOrder(ctx, providerSessionID, paypal.CaptureOrderRequest{})
	if err != nil {
		return fmt.Errorf("capturing paypal order[%s]: %w", providerSessionID, err)
	}

	if resp.Status != "COMPLETED" {
		return fmt.Errorf("captured order[%s] with status[%s] different from 'COMPLETED'", providerSessionID, resp.Status)
	}

	return nil
}
