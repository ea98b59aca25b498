package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidQuantity reports a non-positive quantity passed to an add
// operation. It is a caller bug and is never persisted.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Line is one cart row. A line is identified by (ProductID, Size, Color):
// two lines with the same product but a different size or color are
// distinct. Prices are captured when the line is created and do not track
// later catalog changes.
type Line struct {
	ProductID         string          `json:"productId"`
	Size              string          `json:"size"`
	Color             string          `json:"color"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	OriginalUnitPrice decimal.Decimal `json:"originalUnitPrice"`
	AddedAt           time.Time       `json:"addedAt"`
	InStock           bool            `json:"inStock"`
}

func (l Line) matches(productID, size, color string) bool {
	return l.ProductID == productID && l.Size == size && l.Color == color
}

// Cart is the persisted collection. Lines keep insertion order for stable
// display.
type Cart struct {
	UserID    string    `json:"-"`
	Lines     []Line    `json:"lines"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Cart) find(productID, size, color string) *Line {
	for i := range c.Lines {
		if c.Lines[i].matches(productID, size, color) {
			return &c.Lines[i]
		}
	}
	return nil
}

func (c *Cart) remove(productID, size, color string) bool {
	for i := range c.Lines {
		if c.Lines[i].matches(productID, size, color) {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// Summary is the full recomputed view of a cart. It is the payload of
// every change notification: subscribers re-read state from it instead of
// diffing.
type Summary struct {
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Lines     []Line          `json:"lines"`
}

func summarize(c Cart) Summary {
	s := Summary{
		Subtotal: decimal.Zero,
		Lines:    c.Lines,
	}
	if s.Lines == nil {
		s.Lines = []Line{}
	}

	for _, l := range c.Lines {
		s.ItemCount += l.Quantity
		s.Subtotal = s.Subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	return s
}
