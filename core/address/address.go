package address

import "time"

type Address struct {
	ID         string    `json:"id" db:"address_id"`
	UserID     string    `json:"-" db:"user_id"`
	FullName   string    `json:"fullName" db:"full_name"`
	Line1      string    `json:"line1" db:"line1"`
	Line2      string    `json:"line2" db:"line2"`
	City       string    `json:"city" db:"city"`
	State      string    `json:"state" db:"state"`
	PostalCode string    `json:"postalCode" db:"postal_code"`
	Country    string    `json:"country" db:"country"`
	Phone      string    `json:"phone" db:"phone"`
	IsDefault  bool      `json:"isDefault" db:"is_default"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

type AddressNew struct {
	FullName   string `json:"fullName" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone"`
	IsDefault  bool   `json:"isDefault"`
}
