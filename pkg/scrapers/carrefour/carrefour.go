// Package carrefour implements the API-style adapter: the storefront search
// endpoint returns structured JSON, fetched page by page over plain HTTP.
package carrefour

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"ricewatch/pkg/config"
	"ricewatch/pkg/models"
	"ricewatch/pkg/parse"
	"ricewatch/pkg/retry"
	"ricewatch/pkg/scrapers"
)

const (
	pageSize = 40
	maxPages = 5
)

type Scraper struct {
	sources map[string]config.SourceConfig
	policy  retry.Policy
	log     *zap.SugaredLogger
}

func New(sources map[string]config.SourceConfig, policy retry.Policy, log *zap.SugaredLogger) *Scraper {
	return &Scraper{
		sources: sources,
		policy:  policy,
		log:     log,
	}
}

func (s *Scraper) Retailer() models.Retailer { return models.RetailerCarrefour }

// searchResponse mirrors the storefront search payload. Only the fields the
// record model needs are declared.
type searchResponse struct {
	Products []productPayload `json:"products"`
}

type productPayload struct {
	Name  string `json:"name"`
	Size  string `json:"size"`
	Price struct {
		Price    json.RawMessage `json:"price"` // string or number depending on storefront
		Currency string          `json:"currency"`
		Discount struct {
			Price json.RawMessage `json:"price"`
		} `json:"discount"`
	} `json:"price"`
	Availability *struct {
		IsAvailable bool `json:"isAvailable"`
	} `json:"availability"`
	Stock struct {
		StockLevelStatus string `json:"stockLevelStatus"`
	} `json:"stock"`
	Links struct {
		ProductURL struct {
			Href string `json:"href"`
		} `json:"productUrl"`
	} `json:"links"`
}

func (s *Scraper) FetchCategory(ctx context.Context, country models.Country, categories []models.Category) ([]models.Product, error) {
	src, ok := s.sources[string(country)]
	if !ok || src.SearchURL == "" {
		return nil, models.Permanent(fmt.Errorf("no carrefour endpoints configured for %q", country))
	}
	if _, err := url.ParseRequestURI(src.SearchURL); err != nil {
		return nil, models.Permanent(fmt.Errorf("malformed search url %q: %w", src.SearchURL, err))
	}

	var products []models.Product
	okPages := 0
	var pageErr error

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			pageErr = err
			break
		}

		pageURL := s.pageURL(src, page)
		label := fmt.Sprintf("carrefour %s page %d", country, page+1)
		payload, err := retry.Do(ctx, s.policy, s.log, label, func(context.Context) (*searchResponse, error) {
			return s.fetchPage(pageURL)
		})
		if err != nil {
			// Partial-success policy: keep what earlier pages yielded.
			s.log.Warnw("carrefour page failed after retries, keeping earlier pages",
				"country", country, "page", page+1, "error", err)
			pageErr = err
			break
		}
		okPages++

		products = append(products, s.parsePage(payload, src.BaseURL, country, categories)...)

		if len(payload.Products) < pageSize {
			break
		}
	}

	if okPages == 0 {
		if pageErr == nil {
			pageErr = errors.New("no pages attempted")
		}
		return nil, errors.Join(models.ErrNoProducts, pageErr)
	}
	return products, pageErr
}

func (s *Scraper) pageURL(src config.SourceConfig, page int) string {
	q := url.Values{}
	q.Set("keyword", src.SearchTerm)
	q.Set("currentPage", fmt.Sprintf("%d", page))
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	return src.SearchURL + "?" + q.Encode()
}

// fetchPage performs one HTTP request. Failures are classified so the log
// distinguishes throttling from broken endpoints; the retry primitive treats
// both alike.
func (s *Scraper) fetchPage(pageURL string) (*searchResponse, error) {
	c := colly.NewCollector(colly.UserAgent(scrapers.UserAgent))
	c.SetRequestTimeout(30 * time.Second)

	var payload *searchResponse
	var decodeErr error
	var statusCode int

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	c.OnResponse(func(r *colly.Response) {
		var sr searchResponse
		if err := json.Unmarshal(r.Body, &sr); err != nil {
			decodeErr = fmt.Errorf("decode search payload: %w", err)
			return
		}
		payload = &sr
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	s.log.Debugf("fetching %s", pageURL)
	if err := c.Visit(pageURL); err != nil {
		switch {
		case statusCode == 429 || statusCode >= 500:
			return nil, models.Transient(fmt.Errorf("status %d: %w", statusCode, err))
		case statusCode >= 400:
			return nil, models.Permanent(fmt.Errorf("status %d: %w", statusCode, err))
		default:
			// network-level failure: timeout, reset, DNS
			return nil, models.Transient(err)
		}
	}
	if decodeErr != nil {
		return nil, models.Permanent(decodeErr)
	}
	if payload == nil {
		return nil, models.Transient(errors.New("empty response body"))
	}
	return payload, nil
}

// parsePage turns one payload into normalized products. Item-level problems
// are logged and the item skipped; the page continues.
func (s *Scraper) parsePage(payload *searchResponse, baseURL string, country models.Country, categories []models.Category) []models.Product {
	var products []models.Product
	for _, item := range payload.Products {
		p, err := s.parseProduct(item, baseURL, country, categories)
		if err != nil {
			if !errors.Is(err, errSkipped) {
				s.log.Warnf("skipping carrefour item: %v", err)
			}
			continue
		}
		products = append(products, p)
	}
	return products
}

// errSkipped marks items filtered out on purpose (wrong category, junk name)
// rather than parse failures; these do not warrant a warning.
var errSkipped = errors.New("item filtered")

func (s *Scraper) parseProduct(item productPayload, baseURL string, country models.Country, categories []models.Category) (models.Product, error) {
	name := item.Name
	if len(name) < 5 {
		return models.Product{}, errSkipped
	}

	category, ok := parse.MatchCategory(name, categories)
	if !ok {
		return models.Product{}, errSkipped
	}

	regular := rawPrice(item.Price.Price)
	var promo *float64
	if v := rawPrice(item.Price.Discount.Price); v > 0 {
		promo = &v
	}

	packSize := item.Size
	if packSize == "" {
		packSize = parse.PackSize(name)
	}

	availability := models.AvailabilityUnknown
	switch {
	case item.Stock.StockLevelStatus == "outOfStock":
		availability = models.OutOfStock
	case item.Availability != nil && !item.Availability.IsAvailable:
		availability = models.OutOfStock
	case item.Availability != nil || item.Stock.StockLevelStatus != "":
		availability = models.InStock
	}

	productURL := baseURL
	if href := item.Links.ProductURL.Href; href != "" {
		if u, err := url.Parse(href); err == nil && u.IsAbs() {
			productURL = href
		} else {
			productURL = baseURL + href
		}
	}

	return models.Normalize(models.Product{
		ProductName:  name,
		PackSize:     packSize,
		RegularPrice: regular,
		PromoPrice:   promo,
		Availability: availability,
		ProductURL:   productURL,
		Retailer:     models.RetailerCarrefour,
		Country:      country,
		Category:     category,
	})
}

// rawPrice handles the storefront's habit of sending prices as either a
// JSON number or a quoted string.
func rawPrice(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return parse.CleanPrice(str)
	}
	return parse.CleanPrice(string(raw))
}
