package domain

import (
	"database/sql"
	"time"
)

// LookupKind names one of the lazily-created lookup tables.
type LookupKind string

// Lookup table kinds.
const (
	LookupBrand  LookupKind = "brand"
	LookupColour LookupKind = "colour"
	LookupSeller LookupKind = "seller"
)

// Table returns the relation backing the lookup kind.
func (k LookupKind) Table() string {
	switch k {
	case LookupBrand:
		return "brands"
	case LookupColour:
		return "colours"
	case LookupSeller:
		return "sellers"
	default:
		return string(k)
	}
}

// Lookup is a row of one of the lookup tables (Brand, Colour, Seller).
// Keyed by (marketplace, mp_id) when the source exposes an id, by
// (marketplace, name) otherwise. Created lazily on first sighting and
// never updated afterwards except the denormalized display name.
type Lookup struct {
	ID            int64         `db:"id"             json:"id"`
	Name          string        `db:"name"           json:"name"`
	MarketplaceID int64         `db:"marketplace_id" json:"marketplace_id"`
	MPID          sql.NullInt64 `db:"mp_id"          json:"mp_id"`
	CreatedAt     time.Time     `db:"created_at"     json:"created_at"`
	ModifiedAt    time.Time     `db:"modified_at"    json:"modified_at"`
}
