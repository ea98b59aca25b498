package address

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("address not found")

// Book adapts the query functions to the interface the checkout flow
// consumes.
type Book struct {
	DB *sqlx.DB
}

func (b Book) Fetch(ctx context.Context, userID, id string) (Address, error) {
	return Fetch(ctx, b.DB, userID, id)
}

// Fetch returns the address only when it belongs to the user: one user
// must not be able to ship an order to another user's address book entry.
func Fetch(ctx context.Context, db *sqlx.DB, userID, id string) (Address, error) {
	const q = `SELECT * FROM addresses WHERE address_id = $1 AND user_id = $2`

	var a Address
	if err := db.GetContext(ctx, &a, q, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Address{}, ErrNotFound
		}
		return Address{}, fmt.Errorf("selecting address[%s]: %w", id, err)
	}

	return a, nil
}

func FetchByUser(ctx context.Context, db *sqlx.DB, userID string) ([]Address, error) {
	const q = `SELECT * FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, created_at DESC`

	as := []Address{}
	if err := db.SelectContext(ctx, &as, q, userID); err != nil {
		return nil, fmt.Errorf("selecting addresses for user[%s]: %w", userID, err)
	}

	return as, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, a Address) error {
	const q = `
	INSERT INTO addresses
		(address_id, user_id, full_name, line1, line2, city, state, postal_code, country, phone, is_default, created_at, updated_at)
	VALUES
		(:address_id, :user_id, :full_name, :line1, :line2, :city, :state, :postal_code, :country, :phone, :is_default, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, a); err != nil {
		return fmt.Errorf("inserting address: %w", err)
	}

	return nil
}

// ClearDefault drops the default flag from every address of the user.
// Ran before inserting a new default so at most one remains flagged.
func ClearDefault(ctx context.Context, db sqlx.ExtContext, userID string) error {
	const q = `UPDATE addresses SET is_default = FALSE WHERE user_id = $1`

	if _, err := db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("clearing default address for user[%s]: %w", userID, err)
	}

	return nil
}
