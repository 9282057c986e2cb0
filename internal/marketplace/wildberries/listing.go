package wildberries

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
	"github.com/nkozyrev/mpcrawl/internal/marketplace"
)

// ListingPage fetches one page of a category listing. A 404 past the
// last page surfaces as fetch.ErrGone; a "no goods" page returns an
// empty listing. Cards without a parseable item id are logged and
// skipped.
func (a *Adapter) ListingPage(ctx context.Context, categoryURL string, page int) (*marketplace.Listing, error) {
	url := fmt.Sprintf("%s?page=%d", categoryURL, page)
	result, err := a.fetcher.Fetch(ctx, url, fetch.KindMarkup)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page %s: %w", url, err)
	}

	table := doc.Find("div.catalog_main_table")
	if table.Length() == 0 {
		if doc.Find("div#divGoodsNotFound").Length() > 0 {
			return &marketplace.Listing{}, nil
		}
		return nil, fmt.Errorf("listing page %s has neither catalog table nor empty marker", url)
	}

	listing := &marketplace.Listing{TotalItems: parseItemCount(doc)}
	table.Find("div.dtList").Each(func(_ int, card *goquery.Selection) {
		raw := card.AttrOr("data-popup-nm-id", "")
		mpID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			a.log.Warn("listing card without item id, skipping", "url", url, "raw", raw)
			return
		}

		summary := domain.ItemSummary{
			MPID: mpID,
			Name: strings.TrimSpace(card.Find("span.goods-name").First().Text()),
		}
		card.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src := img.AttrOr("src", "")
			if src == "" || strings.Contains(src, "blank") {
				return true
			}
			summary.ImageURL = a.absoluteURL(src)
			return false
		})

		listing.Items = append(listing.Items, summary)
	})

	return listing, nil
}
