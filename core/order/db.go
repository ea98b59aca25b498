package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmaretti/storefront/database"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("order not found")

// Recorder writes a finalized order and its items in one transaction.
type Recorder struct {
	DB *sqlx.DB
}

func (r Recorder) Record(ctx context.Context, ord Order, items []Item) error {
	err := database.Transaction(r.DB, func(tx sqlx.ExtContext) error {
		if err := Create(ctx, tx, ord); err != nil {
			return err
		}
		for _, it := range items {
			it.OrderID = ord.ID
			if err := CreateItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("recording order[%s]: %w", ord.ID, err)
	}
	return nil
}

func Create(ctx context.Context, db sqlx.ExtContext, ord Order) error {
	const q = `
	INSERT INTO orders
		(order_id, user_id, address_id, provider, provider_session_id, provider_payment_id, amount, currency, status, created_at, updated_at)
	VALUES
		(:order_id, :user_id, :address_id, :provider, :provider_session_id, :provider_payment_id, :amount, :currency, :status, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, ord); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	return nil
}

func CreateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO order_items
		(order_id, product_id, size, color, quantity, unit_price, created_at)
	VALUES
		(:order_id, :product_id, :size, :color, :quantity, :unit_price, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("inserting order item: %w", err)
	}

	return nil
}

func FetchByUser(ctx context.Context, db *sqlx.DB, userID string) ([]Order, error) {
	const q = `SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	os := []Order{}
	if err := db.SelectContext(ctx, &os, q, userID); err != nil {
		return nil, fmt.Errorf("selecting orders for user[%s]: %w", userID, err)
	}

	return os, nil
}

func FetchByProviderSession(ctx context.Context, db *sqlx.DB, sessionID string) (Order, error) {
	const q = `SELECT * FROM orders WHERE provider_session_id = $1`

	var ord Order
	if err := db.GetContext(ctx, &ord, q, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("selecting order bound to session[%s]: %w", sessionID, err)
	}

	return ord, nil
}
