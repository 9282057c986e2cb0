package domain

// Facts are the normalized shapes the fetch/parse boundary delivers to the
// reconciler. They carry natural keys only; internal ids are assigned by
// the store during reconciliation.

// CategoryFact is one parsed node of the marketplace category tree.
type CategoryFact struct {
	Name      string          `json:"name"`
	MPURL     string          `json:"mp_url"`
	MPID      int64           `json:"mp_id,omitempty"`
	ItemCount int             `json:"item_count"`
	Children  []*CategoryFact `json:"children,omitempty"`
}

// ItemSummary is what a single listing-page cell yields: enough to create
// a placeholder item and schedule its facets.
type ItemSummary struct {
	MPID     int64  `json:"mp_id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// ColourFact is a colour variant reference inside an item fact.
type ColourFact struct {
	Name string `json:"name"`
	MPID int64  `json:"mp_id,omitempty"`
}

// ItemFact carries the slowly-changing facts of one item as reported by
// the marketplace item API.
type ItemFact struct {
	MPID         int64        `json:"mp_id"`
	RootID       int64        `json:"root_id,omitempty"`
	Name         string       `json:"name"`
	BrandName    string       `json:"brand_name,omitempty"`
	BrandMPID    int64        `json:"brand_mp_id,omitempty"`
	SellerName   string       `json:"seller_name,omitempty"`
	Colours      []ColourFact `json:"colours,omitempty"`
	SizeName     string       `json:"size_name,omitempty"`
	SizeOrigName string       `json:"size_orig_name,omitempty"`
	IsDigital    bool         `json:"is_digital"`
	IsAdult      bool         `json:"is_adult"`
}

// RevisionFact carries the fast-changing commercial facts of one item as
// observed during a single fetch.
type RevisionFact struct {
	MPID         int64   `json:"mp_id"`
	Rating       float64 `json:"rating"`
	CommentsNum  int     `json:"comments_num"`
	IsNew        bool    `json:"is_new"`
	IsBestseller bool    `json:"is_bestseller"`
	Price        int64   `json:"price"`
	SalePrice    int64   `json:"sale_price"`
	AvailableQty int64   `json:"available_qty"`
}
