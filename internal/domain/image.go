package domain

import (
	"database/sql"
	"time"
)

// Image is a product image keyed by its marketplace-scoped source URL.
// It is schedulable for (re)download and owns the stored binary once
// fetched. One image can be shared by several item variants.
type Image struct {
	ID            int64          `db:"id"             json:"id"`
	MPURL         string         `db:"mp_url"         json:"mp_url"`
	MarketplaceID int64          `db:"marketplace_id" json:"marketplace_id"`
	Content       []byte         `db:"content"        json:"-"`
	ContentType   sql.NullString `db:"content_type"   json:"content_type"`
	Deleted       bool           `db:"deleted"        json:"deleted"`

	RefreshIntervalSecs int64        `db:"refresh_interval_secs" json:"refresh_interval_secs"`
	NextDueAt           sql.NullTime `db:"next_due_at"           json:"next_due_at"`
	LeaseStartedAt      sql.NullTime `db:"lease_started_at"      json:"lease_started_at"`

	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}
