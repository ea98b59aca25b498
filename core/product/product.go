package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id" db:"product_id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	ImageURL      string          `json:"imageUrl" db:"image_url"`
	Price         decimal.Decimal `json:"price" db:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice" db:"original_price"`
	Stock         int             `json:"stock" db:"stock"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
	Version       int             `json:"-" db:"version"`
}

func (p Product) InStock() bool { return p.Stock > 0 }

type ProductNew struct {
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description" validate:"required"`
	ImageURL      string          `json:"imageUrl" validate:"required"`
	Price         decimal.Decimal `json:"price" validate:"required,gt=0"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Stock         int             `json:"stock" validate:"gte=0"`
}
