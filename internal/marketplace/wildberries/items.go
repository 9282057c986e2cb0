package wildberries

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
)

// Item API payload. state 0 means success.
type itemsResponse struct {
	State int `json:"state"`
	Data  struct {
		Products []productPayload `json:"products"`
	} `json:"data"`
}

type productPayload struct {
	ID        int64  `json:"id"`
	Root      int64  `json:"root"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	BrandID   int64  `json:"brandId"`
	IsDigital bool   `json:"isDigital"`
	IsAdult   bool   `json:"isAdult"`
	IsNew     bool   `json:"isNew"`
	Sizes     []struct {
		Name     string `json:"name"`
		OrigName string `json:"origName"`
	} `json:"sizes"`
	Colors []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"colors"`

	Rating        float64 `json:"rating"`
	FeedbackCount int     `json:"feedbackCount"`
	PriceU        int64   `json:"priceU"`
	SalePriceU    int64   `json:"salePriceU"`
	TotalQuantity int64   `json:"totalQuantity"`
	Promopos      int     `json:"promopos"`
}

// Seller API payload. resultState 0 means success.
type sellersResponse struct {
	ResultState int `json:"resultState"`
	Value       []struct {
		Cod1S        int64  `json:"cod1S"`
		SupplierName string `json:"supplierName"`
	} `json:"value"`
}

// ItemDetails resolves item and revision facts for the given natural
// keys through the item and seller JSON APIs. Ids missing from the
// response are simply absent from the result; callers create
// placeholders for them. A failing seller lookup degrades to facts
// without seller names.
func (a *Adapter) ItemDetails(ctx context.Context, mpIDs []int64) ([]domain.ItemFact, []domain.RevisionFact, error) {
	if len(mpIDs) == 0 {
		return nil, nil, nil
	}

	products, err := a.fetchProducts(ctx, mpIDs)
	if err != nil {
		return nil, nil, err
	}
	sellers := a.fetchSellers(ctx, mpIDs)

	facts := make([]domain.ItemFact, 0, len(products))
	revisions := make([]domain.RevisionFact, 0, len(products))
	for _, p := range products {
		fact := domain.ItemFact{
			MPID:       p.ID,
			RootID:     p.Root,
			Name:       p.Name,
			BrandName:  p.Brand,
			BrandMPID:  p.BrandID,
			SellerName: sellers[p.ID],
			IsDigital:  p.IsDigital,
			IsAdult:    p.IsAdult,
		}
		if len(p.Sizes) > 0 {
			fact.SizeName = p.Sizes[0].Name
			fact.SizeOrigName = p.Sizes[0].OrigName
		}
		for _, c := range p.Colors {
			fact.Colours = append(fact.Colours, domain.ColourFact{Name: c.Name, MPID: c.ID})
		}
		facts = append(facts, fact)

		revisions = append(revisions, domain.RevisionFact{
			MPID:         p.ID,
			Rating:       p.Rating,
			CommentsNum:  p.FeedbackCount,
			IsNew:        p.IsNew,
			IsBestseller: p.Promopos > 0,
			Price:        p.PriceU,
			SalePrice:    p.SalePriceU,
			AvailableQty: p.TotalQuantity,
		})
	}
	return facts, revisions, nil
}

func (a *Adapter) fetchProducts(ctx context.Context, mpIDs []int64) ([]productPayload, error) {
	url := fmt.Sprintf(a.cfg.ItemsAPIURL, joinIDs(mpIDs, ";"))
	result, err := a.fetcher.Fetch(ctx, url, fetch.KindJSON)
	if err != nil {
		return nil, fmt.Errorf("fetch item api: %w", err)
	}

	var parsed itemsResponse
	if unmarshalErr := json.Unmarshal(result.Body, &parsed); unmarshalErr != nil {
		return nil, fmt.Errorf("decode item api response: %w", unmarshalErr)
	}
	if parsed.State != 0 {
		return nil, fmt.Errorf("item api returned state %d for %d ids", parsed.State, len(mpIDs))
	}
	return parsed.Data.Products, nil
}

// fetchSellers maps item ids to supplier names, best effort.
func (a *Adapter) fetchSellers(ctx context.Context, mpIDs []int64) map[int64]string {
	url := fmt.Sprintf(a.cfg.SellersAPIURL, joinIDs(mpIDs, ","))
	result, err := a.fetcher.Fetch(ctx, url, fetch.KindJSON)
	if err != nil {
		a.log.Warn("seller api fetch failed", "error", err)
		return nil
	}

	var parsed sellersResponse
	if unmarshalErr := json.Unmarshal(result.Body, &parsed); unmarshalErr != nil {
		a.log.Warn("seller api response undecodable", "error", unmarshalErr)
		return nil
	}
	if parsed.ResultState != 0 {
		a.log.Warn("seller api returned error state", "state", parsed.ResultState)
		return nil
	}

	sellers := make(map[int64]string, len(parsed.Value))
	for _, v := range parsed.Value {
		if v.SupplierName != "" {
			sellers[v.Cod1S] = v.SupplierName
		}
	}
	return sellers
}

func joinIDs(ids []int64, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, sep)
}
