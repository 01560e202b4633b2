// Package lulu implements the rendered-page adapter. The storefront search
// page is client-rendered and lazy-loads products on scroll, so extraction
// runs a headless browser and pulls the tiles out of the live DOM.
package lulu

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"ricewatch/pkg/config"
	"ricewatch/pkg/models"
	"ricewatch/pkg/parse"
	"ricewatch/pkg/retry"
	"ricewatch/pkg/scrapers"
)

const (
	pageTimeout = 60 * time.Second
	maxScrolls  = 10
	scrollPause = 1500 * time.Millisecond
)

type Scraper struct {
	sources map[string]config.SourceConfig
	policy  retry.Policy
	log     *zap.SugaredLogger

	// DebugDumpDir, when set, receives a screenshot and the page HTML on
	// extraction failure.
	DebugDumpDir string
}

func New(sources map[string]config.SourceConfig, policy retry.Policy, log *zap.SugaredLogger) *Scraper {
	return &Scraper{
		sources: sources,
		policy:  policy,
		log:     log,
	}
}

func (s *Scraper) Retailer() models.Retailer { return models.RetailerLulu }

// tile is what the extraction script returns per product card.
type tile struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Price      string `json:"price"`
	PromoPrice string `json:"promo_price"`
	Stock      string `json:"stock"`
}

func (s *Scraper) FetchCategory(ctx context.Context, country models.Country, categories []models.Category) ([]models.Product, error) {
	src, ok := s.sources[string(country)]
	if !ok || src.SearchURL == "" {
		return nil, models.Permanent(fmt.Errorf("no lulu endpoints configured for %q", country))
	}
	if _, err := url.ParseRequestURI(src.SearchURL); err != nil {
		return nil, models.Permanent(fmt.Errorf("malformed search url %q: %w", src.SearchURL, err))
	}

	searchURL := src.SearchURL + "?search_text=" + url.QueryEscape(src.SearchTerm)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(scrapers.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// Operation 1: navigate and wait for product content.
	_, err := retry.Do(ctx, s.policy, s.log, fmt.Sprintf("lulu %s navigate", country), func(context.Context) (struct{}, error) {
		return struct{}{}, s.navigate(browserCtx, searchURL)
	})
	if err != nil {
		return nil, errors.Join(models.ErrNoProducts, err)
	}

	// Scrolling is best effort: a partial scroll just means fewer tiles.
	s.scroll(browserCtx)

	// Operation 2: extract tiles from the rendered DOM.
	tiles, err := retry.Do(ctx, s.policy, s.log, fmt.Sprintf("lulu %s extract", country), func(context.Context) ([]tile, error) {
		return s.extract(browserCtx)
	})
	if err != nil {
		s.dumpDebugArtifacts(browserCtx, country)
		// Navigation succeeded, so one operation did succeed; report the
		// extraction failure as a partial outcome with nothing gathered.
		return nil, err
	}

	var products []models.Product
	for _, tl := range tiles {
		p, err := s.parseTile(tl, src.BaseURL, country, categories)
		if err != nil {
			if !errors.Is(err, errSkipped) {
				s.log.Warnf("skipping lulu tile: %v", err)
			}
			continue
		}
		products = append(products, p)
	}

	s.log.Infow("lulu slice complete", "country", country, "tiles", len(tiles), "products", len(products))
	return products, nil
}

func (s *Scraper) navigate(browserCtx context.Context, searchURL string) error {
	navCtx, cancel := context.WithTimeout(browserCtx, pageTimeout)
	defer cancel()

	s.log.Infof("navigating to %s", searchURL)
	err := chromedp.Run(navCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.WaitVisible(`a[href*="/p/"]`, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return models.Transient(fmt.Errorf("page load: %w", err))
	}
	return nil
}

// scroll drives the page to the bottom until the height stops growing, so
// lazy-loaded tiles are present before extraction.
func (s *Scraper) scroll(browserCtx context.Context) {
	previousHeight := -1
	stable := 0

	for i := 0; i < maxScrolls; i++ {
		var height int
		err := chromedp.Run(browserCtx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`, &height),
			chromedp.Sleep(scrollPause),
		)
		if err != nil {
			s.log.Warnf("scroll %d failed: %v", i+1, err)
			return
		}
		if height == previousHeight {
			stable++
			if stable >= 2 {
				s.log.Debugf("reached end of page after %d scrolls", i+1)
				return
			}
		} else {
			stable = 0
		}
		previousHeight = height
	}
}

func (s *Scraper) extract(browserCtx context.Context) ([]tile, error) {
	extractCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()

	var tiles []tile
	err := chromedp.Run(extractCtx, chromedp.Evaluate(extractScript, &tiles))
	if err != nil {
		return nil, models.Transient(fmt.Errorf("tile extraction: %w", err))
	}
	if len(tiles) == 0 {
		return nil, models.Transient(errors.New("no product tiles rendered"))
	}
	return tiles, nil
}

// extractScript walks every unique product link, climbs to the surrounding
// card and reads name, prices and stock text.
const extractScript = `
	(function() {
		const seen = new Set();
		const tiles = [];
		for (const link of document.querySelectorAll('a[href*="/p/"]')) {
			const href = link.getAttribute('href');
			if (!href || seen.has(href)) continue;
			seen.add(href);

			let name = link.getAttribute('title') || '';
			if (name.length < 5) name = (link.innerText || '').trim();
			if (name.length < 5) {
				const img = link.querySelector('img');
				if (img) name = img.getAttribute('alt') || '';
			}

			const card = link.closest('div[class*="rounded-"]') || link.parentElement;
			let price = '', promo = '', stock = '';
			if (card) {
				const priceEl = card.querySelector('span[data-testid="product-price"]');
				if (priceEl) price = priceEl.textContent.trim();
				const promoEl = card.querySelector('.special-price, .promo-price, [data-testid="promo-price"]');
				if (promoEl) promo = promoEl.textContent.trim();
				if (/out of stock/i.test(card.innerText || '')) stock = 'out_of_stock';
			}

			tiles.push({name: name.trim(), url: href, price: price, promo_price: promo, stock: stock});
		}
		return tiles;
	})()
`

var errSkipped = errors.New("tile filtered")

func (s *Scraper) parseTile(tl tile, baseURL string, country models.Country, categories []models.Category) (models.Product, error) {
	name := firstProductLine(tl.Name)
	if len(name) < 5 {
		return models.Product{}, errSkipped
	}

	category, ok := parse.MatchCategory(name, categories)
	if !ok {
		return models.Product{}, errSkipped
	}

	regular := parse.CleanPrice(tl.Price)
	var promo *float64
	if v := parse.CleanPrice(tl.PromoPrice); v > 0 {
		promo = &v
	}

	availability := models.InStock
	if tl.Stock == "out_of_stock" {
		availability = models.OutOfStock
	}

	productURL := tl.URL
	if u, err := url.Parse(productURL); err != nil || !u.IsAbs() {
		productURL = baseURL + productURL
	}

	return models.Normalize(models.Product{
		ProductName:  name,
		PackSize:     parse.PackSize(name),
		RegularPrice: regular,
		PromoPrice:   promo,
		Availability: availability,
		ProductURL:   productURL,
		Retailer:     models.RetailerLulu,
		Country:      country,
		Category:     category,
	})
}

// firstProductLine picks the product name out of a multi-line card text,
// preferring the line that mentions the product family.
func firstProductLine(raw string) string {
	lines := strings.Split(raw, "\n")
	var clean []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			clean = append(clean, l)
		}
	}
	if len(clean) == 0 {
		return ""
	}
	for _, l := range clean {
		lower := strings.ToLower(l)
		if len(l) > 10 && (strings.Contains(lower, "rice") || strings.Contains(lower, "basmati") ||
			strings.Contains(lower, "jasmine") || strings.Contains(lower, "sella")) {
			return l
		}
	}
	return clean[0]
}

// dumpDebugArtifacts saves a screenshot and the page HTML so a failed
// extraction can be diagnosed without re-running the browser.
func (s *Scraper) dumpDebugArtifacts(browserCtx context.Context, country models.Country) {
	if s.DebugDumpDir == "" {
		return
	}
	debugCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(debugCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		s.log.Warnf("failed to capture screenshot: %v", err)
	} else {
		path := fmt.Sprintf("%s/lulu_debug_%s.png", s.DebugDumpDir, country)
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			s.log.Warnf("failed to write screenshot: %v", err)
		} else {
			s.log.Infof("screenshot saved to %s", path)
		}
	}

	var html string
	if err := chromedp.Run(debugCtx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		s.log.Warnf("failed to capture page HTML: %v", err)
	} else {
		path := fmt.Sprintf("%s/lulu_debug_%s.html", s.DebugDumpDir, country)
		if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
			s.log.Warnf("failed to write page HTML: %v", err)
		} else {
			s.log.Infof("page HTML saved to %s", path)
		}
	}
}
