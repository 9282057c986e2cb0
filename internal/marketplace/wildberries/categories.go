package wildberries

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
)

// Pseudo-categories in the top menu that are not part of the catalog tree.
var excludedRootCategories = map[string]struct{}{
	"airticket":   {},
	"brands":      {},
	"promo-offer": {},
	"тренды":      {},
}

// Categories walks the catalog tree breadth-first: the top menu yields
// the roots, each node's own page yields its children and item count.
// Nodes whose page is gone or whose markup does not match are logged and
// skipped; a partial tree is still a usable tree.
func (a *Adapter) Categories(ctx context.Context) ([]*domain.CategoryFact, error) {
	result, err := a.fetcher.Fetch(ctx, a.cfg.CategoriesURL, fetch.KindMarkup)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog menu: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("parse catalog menu: %w", err)
	}

	roots := a.parseRootMenu(doc)
	if len(roots) == 0 {
		return nil, fmt.Errorf("catalog menu at %s yielded no root categories", a.cfg.CategoriesURL)
	}

	type workItem struct {
		node  *domain.CategoryFact
		depth int
	}
	work := make([]workItem, 0, len(roots))
	for _, root := range roots {
		work = append(work, workItem{node: root})
	}

	for len(work) > 0 {
		current := work[0]
		work = work[1:]

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		pageResult, fetchErr := a.fetcher.Fetch(ctx, current.node.MPURL, fetch.KindMarkup)
		if fetchErr != nil {
			if errors.Is(fetchErr, fetch.ErrGone) {
				a.log.Warn("category page gone, skipping subtree",
					"name", current.node.Name, "url", current.node.MPURL)
				continue
			}
			return nil, fmt.Errorf("fetch category page %s: %w", current.node.MPURL, fetchErr)
		}
		pageDoc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(pageResult.Body))
		if parseErr != nil {
			a.log.Warn("unparseable category page, skipping subtree",
				"name", current.node.Name, "url", current.node.MPURL, "error", parseErr)
			continue
		}

		current.node.ItemCount = parseItemCount(pageDoc)
		current.node.Children = a.parseChildren(pageDoc, current.depth)
		for _, child := range current.node.Children {
			work = append(work, workItem{node: child, depth: current.depth + 1})
		}
	}

	return roots, nil
}

// parseRootMenu extracts root categories from the top menu, skipping
// pseudo-categories and links deeper than one catalog segment.
func (a *Adapter) parseRootMenu(doc *goquery.Document) []*domain.CategoryFact {
	rootPattern := regexp.MustCompile(
		"^" + regexp.QuoteMeta(a.cfg.BaseURL) + `/catalog/[^/]+/?$`)

	var roots []*domain.CategoryFact
	doc.Find("ul.topmenus li").Each(func(_ int, li *goquery.Selection) {
		for _, class := range strings.Fields(li.AttrOr("class", "")) {
			if _, excluded := excludedRootCategories[class]; excluded {
				return
			}
		}

		link := li.Find("a").First()
		href := a.absoluteURL(link.AttrOr("href", ""))
		name := strings.TrimSpace(link.Text())
		if name == "" || !rootPattern.MatchString(href) {
			return
		}
		if _, excluded := excludedRootCategories[strings.ToLower(name)]; excluded {
			return
		}

		roots = append(roots, &domain.CategoryFact{Name: name, MPURL: href})
	})
	return roots
}

// parseChildren extracts a node's direct children. Root pages carry a
// dedicated catalog list; deeper pages use the sidebar, where children
// follow the "hasnochild" marker for the current node.
func (a *Adapter) parseChildren(doc *goquery.Document, depth int) []*domain.CategoryFact {
	if depth == 0 {
		return a.parseRootChildren(doc)
	}
	return a.parseSidebarChildren(doc)
}

func (a *Adapter) parseRootChildren(doc *goquery.Document) []*domain.CategoryFact {
	var children []*domain.CategoryFact
	doc.Find("ul.maincatalog-list-2 > li").Each(func(_ int, li *goquery.Selection) {
		link := li.Find("a").First()
		href := link.AttrOr("href", "")
		if href == "" {
			return
		}
		name := strings.TrimSpace(link.Text())
		if name == "" {
			name = strings.TrimSpace(link.AttrOr("title", ""))
		}
		if name == "" {
			return
		}
		children = append(children, &domain.CategoryFact{
			Name:  name,
			MPURL: a.absoluteURL(href),
		})
	})
	return children
}

func (a *Adapter) parseSidebarChildren(doc *goquery.Document) []*domain.CategoryFact {
	sidebar := doc.Find("div.catalog-sidebar")
	if sidebar.Length() == 0 {
		return nil
	}

	var children []*domain.CategoryFact
	started := false
	sidebar.Find("li").Each(func(_ int, li *goquery.Selection) {
		if li.HasClass("hasnochild") {
			started = true
			return
		}
		if !started {
			return
		}
		link := li.Find("a").First()
		href := link.AttrOr("href", "")
		name := strings.TrimSpace(li.Text())
		if href == "" || name == "" {
			return
		}
		children = append(children, &domain.CategoryFact{
			Name:  name,
			MPURL: a.absoluteURL(href),
		})
	})
	return children
}

// parseItemCount reads the category-wide goods counter, zero when absent.
func parseItemCount(doc *goquery.Document) int {
	counter := doc.Find("span.goods-count")
	if counter.Length() != 1 {
		return 0
	}
	fields := strings.Fields(strings.TrimSpace(counter.First().Text()))
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

// absoluteURL resolves marketplace-relative hrefs against the base URL.
func (a *Adapter) absoluteURL(href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return a.cfg.BaseURL + href
}
