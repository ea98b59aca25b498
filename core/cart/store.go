package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmaretti/storefront/core/product"
	"github.com/dmaretti/storefront/storage"
	"golang.org/x/sync/singleflight"
)

// Bus broadcasts cart changes to unrelated consumers (navbar badge,
// mini-cart, metrics). The payload is always the full recomputed summary.
type Bus interface {
	Publish(userID string, s Summary)
}

// Store is the authoritative cart collection, one blob per user. All
// dependencies are injected so the store tests against in-memory fakes.
//
// Operations are load-modify-save against a single blob; two concurrent
// writers for the same user are last-writer-wins; there is no locking
// around the blob.
type Store struct {
	blob storage.Blob
	bus  Bus
	sfg  singleflight.Group
	now  func() time.Time
}

func NewStore(blob storage.Blob, bus Bus) *Store {
	return &Store{
		blob: blob,
		bus:  bus,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// load returns the user's cart, treating an absent blob as an empty cart.
// Any other storage failure propagates: an unreachable store must never
// be presented as an empty cart.
func (s *Store) load(ctx context.Context, userID string) (Cart, error) {
	data, err := s.blob.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Cart{UserID: userID}, nil
		}
		return Cart{}, fmt.Errorf("loading cart for user[%s]: %w", userID, err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("decoding cart for user[%s]: %w", userID, err)
	}
	c.UserID = userID

	return c, nil
}

func (s *Store) save(ctx context.Context, c Cart) (Summary, error) {
	c.UpdatedAt = s.now()

	data, err := json.Marshal(c)
	if err != nil {
		return Summary{}, fmt.Errorf("encoding cart for user[%s]: %w", c.UserID, err)
	}

	if err := s.blob.Save(ctx, c.UserID, data); err != nil {
		return Summary{}, fmt.Errorf("saving cart for user[%s]: %w", c.UserID, err)
	}

	sum := summarize(c)
	if s.bus != nil {
		s.bus.Publish(c.UserID, sum)
	}

	return sum, nil
}

// Add puts qty units of a product variant in the cart. An existing
// (product, size, color) line accumulates quantity; a new line snapshots
// the product's price at call time.
func (s *Store) Add(ctx context.Context, userID string, p product.Product, size, color string, qty int) (Summary, error) {
	if qty < 1 {
		return Summary{}, ErrInvalidQuantity
	}

	c, err := s.load(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	if l := c.find(p.ID, size, color); l != nil {
		l.Quantity += qty
	} else {
		c.Lines = append(c.Lines, Line{
			ProductID:         p.ID,
			Size:              size,
			Color:             color,
			Quantity:          qty,
			UnitPrice:         p.Price,
			OriginalUnitPrice: p.OriginalPrice,
			AddedAt:           s.now(),
			InStock:           p.InStock(),
		})
	}

	return s.save(ctx, c)
}

// SetQuantity sets a line's quantity exactly. A quantity of zero or less
// removes the line. Missing lines are a no-op.
func (s *Store) SetQuantity(ctx context.Context, userID, productID, size, color string, qty int) (Summary, error) {
	if qty <= 0 {
		return s.Remove(ctx, userID, productID, size, color)
	}

	c, err := s.load(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	l := c.find(productID, size, color)
	if l == nil {
		return summarize(c), nil
	}
	l.Quantity = qty

	return s.save(ctx, c)
}

func (s *Store) Remove(ctx context.Context, userID, productID, size, color string) (Summary, error) {
	c, err := s.load(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	if !c.remove(productID, size, color) {
		return summarize(c), nil
	}

	return s.save(ctx, c)
}

func (s *Store) Clear(ctx context.Context, userID string) (Summary, error) {
	c, err := s.load(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	c.Lines = nil
	return s.save(ctx, c)
}

// Summary recomputes the current totals. Nothing is cached between calls;
// concurrent readers for the same user share one load via singleflight.
// The shared load runs detached from the caller's context: one cancelled
// request must not fail the flight for the callers sharing it.
func (s *Store) Summary(ctx context.Context, userID string) (Summary, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		c, err := s.load(context.Background(), userID)
		if err != nil {
			return nil, err
		}
		return summarize(c), nil
	})
	if err != nil {
		return Summary{}, err
	}

	return v.(Summary), nil
}

// Contains reports whether the product is in the cart. Empty size and
// color match any variant of the product.
func (s *Store) Contains(ctx context.Context, userID, productID, size, color string) (bool, error) {
	c, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}

	for _, l := range c.Lines {
		if l.ProductID != productID {
			continue
		}
		if size != "" && l.Size != size {
			continue
		}
		if color != "" && l.Color != color {
			continue
		}
		return true, nil
	}

	return false, nil
}
