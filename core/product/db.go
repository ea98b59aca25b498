package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("product not found")

func Fetch(ctx context.Context, db *sqlx.DB, id string) (Product, error) {
	const q = `SELECT * FROM products WHERE product_id = $1`

	var p Product
	if err := db.GetContext(ctx, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("selecting product[%s]: %w", id, err)
	}

	return p, nil
}

func FetchAll(ctx context.Context, db *sqlx.DB) ([]Product, error) {
	const q = `SELECT * FROM products ORDER BY created_at DESC`

	ps := []Product{}
	if err := db.SelectContext(ctx, &ps, q); err != nil {
		return nil, fmt.Errorf("selecting products: %w", err)
	}

	return ps, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	INSERT INTO products
		(product_id, name, description, image_url, price, original_price, stock, created_at, updated_at)
	VALUES
		(:product_id, :name, :description, :image_url, :price, :original_price, :stock, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}

	return nil
}

func UpdatePrice(ctx context.Context, db sqlx.ExtContext, id string, price Product) error {
	const q = `
	UPDATE products SET
		price = :price,
		original_price = :original_price,
		updated_at = :updated_at,
		version = version + 1
	WHERE product_id = :product_id`

	price.ID = id
	price.UpdatedAt = time.Now().UTC()
	if _, err := sqlx.NamedExecContext(ctx, db, q, price); err != nil {
		return fmt.Errorf("updating product[%s] price: %w", id, err)
	}

	return nil
}
