package domain

import (
	"database/sql"
	"time"
)

// Item is one catalog entry of a marketplace. It carries two independently
// scheduled facets: item facts (name, brand, seller, colours) and revisions
// (price, stock, rating), refreshed at different cadences by different
// workers.
type Item struct {
	ID            int64          `db:"id"             json:"id"`
	Name          string         `db:"name"           json:"name"`
	MPID          int64          `db:"mp_id"          json:"mp_id"`
	RootID        sql.NullInt64  `db:"root_id"        json:"root_id"`
	MarketplaceID int64          `db:"marketplace_id" json:"marketplace_id"`
	BrandID       sql.NullInt64  `db:"brand_id"       json:"brand_id"`
	SellerID      sql.NullInt64  `db:"seller_id"      json:"seller_id"`
	SizeName      sql.NullString `db:"size_name"      json:"size_name"`
	SizeOrigName  sql.NullString `db:"size_orig_name" json:"size_orig_name"`
	IsDigital     bool           `db:"is_digital"     json:"is_digital"`
	IsAdult       bool           `db:"is_adult"       json:"is_adult"`

	LatestRevisionID sql.NullInt64 `db:"latest_revision_id" json:"latest_revision_id"`

	FactsRefreshIntervalSecs int64        `db:"facts_refresh_interval_secs" json:"facts_refresh_interval_secs"`
	FactsNextDueAt           sql.NullTime `db:"facts_next_due_at"           json:"facts_next_due_at"`
	FactsLeaseStartedAt      sql.NullTime `db:"facts_lease_started_at"      json:"facts_lease_started_at"`

	RevisionsRefreshIntervalSecs int64        `db:"revisions_refresh_interval_secs" json:"revisions_refresh_interval_secs"`
	RevisionsNextDueAt           sql.NullTime `db:"revisions_next_due_at"           json:"revisions_next_due_at"`
	RevisionsLeaseStartedAt      sql.NullTime `db:"revisions_lease_started_at"      json:"revisions_lease_started_at"`

	Deleted bool `db:"deleted" json:"deleted"`

	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}

// Revision is an append-only snapshot of an item's mutable commercial
// facts at a point in time. Never updated or deleted once written.
type Revision struct {
	ID     int64 `db:"id"      json:"id"`
	ItemID int64 `db:"item_id" json:"item_id"`

	Rating       float64 `db:"rating"        json:"rating"`
	CommentsNum  int     `db:"comments_num"  json:"comments_num"`
	IsNew        bool    `db:"is_new"        json:"is_new"`
	IsBestseller bool    `db:"is_bestseller" json:"is_bestseller"`

	Price        int64 `db:"price"         json:"price"`
	SalePrice    int64 `db:"sale_price"    json:"sale_price"`
	AvailableQty int64 `db:"available_qty" json:"available_qty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ItemPosition records where an item appeared on a category listing page
// during one crawl pass.
type ItemPosition struct {
	ID         int64     `db:"id"          json:"id"`
	ItemID     int64     `db:"item_id"     json:"item_id"`
	CategoryID int64     `db:"category_id" json:"category_id"`
	Page       int       `db:"page"        json:"page"`
	Rank       int       `db:"rank"        json:"rank"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}
