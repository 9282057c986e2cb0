package domain

import (
	"database/sql"
	"time"
)

// Category is one node of a marketplace's category tree. Only leaf
// categories (no children) are claimable for item-listing crawls.
type Category struct {
	ID            int64          `db:"id"              json:"id"`
	Name          string         `db:"name"            json:"name"`
	ParentID      sql.NullInt64  `db:"parent_id"       json:"parent_id"`
	MarketplaceID int64          `db:"marketplace_id"  json:"marketplace_id"`
	MPID          sql.NullInt64  `db:"mp_id"           json:"mp_id"`
	MPURL         string         `db:"mp_url"          json:"mp_url"`
	ItemsInCat    int            `db:"items_in_category" json:"items_in_category"`
	Deleted       bool           `db:"deleted"         json:"deleted"`

	RefreshIntervalSecs int64        `db:"refresh_interval_secs" json:"refresh_interval_secs"`
	NextDueAt           sql.NullTime `db:"next_due_at"           json:"next_due_at"`
	LeaseStartedAt      sql.NullTime `db:"lease_started_at"      json:"lease_started_at"`

	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}

// RefreshInterval returns the configured refresh cadence as a duration.
func (c *Category) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}
