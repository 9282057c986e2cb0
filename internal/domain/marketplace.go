// Package domain provides domain models used across the application.
package domain

import "time"

// Marketplace identifies one external marketplace whose catalog is crawled.
// All natural keys (mp_id, mp_url) are scoped to a marketplace.
type Marketplace struct {
	ID         int64     `db:"id"          json:"id"`
	Name       string    `db:"name"        json:"name"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}
