package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	Paid     Status = "paid"
	Refunded Status = "refunded"
)

type Order struct {
	ID                string          `json:"id" db:"order_id"`
	UserID            string          `json:"userId" db:"user_id"`
	AddressID         string          `json:"addressId" db:"address_id"`
	Provider          string          `json:"provider" db:"provider"`
	ProviderSessionID string          `json:"providerSessionId" db:"provider_session_id"`
	ProviderPaymentID string          `json:"providerPaymentId" db:"provider_payment_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	Status            Status          `json:"status" db:"status"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

type Item struct {
	OrderID   string          `json:"orderId" db:"order_id"`
	ProductID string          `json:"productId" db:"product_id"`
	Size      string          `json:"size" db:"size"`
	Color     string          `json:"color" db:"color"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice" db:"unit_price"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
