package product

import (
	"errors"
	"time"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the catalog entry referenced by machine slots. The
// fulfillment core only reads it: name and description are denormalized
// into order item snapshots at order creation time.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
