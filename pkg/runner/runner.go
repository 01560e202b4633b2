// Package runner coordinates one scraping run: it walks the retailer ×
// country cross-product, invokes the adapters, and aggregates results. The
// runner itself never retries — that is entirely the adapters' and the retry
// primitive's job. It only isolates faults per slice and merges output.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ricewatch/pkg/cache"
	"ricewatch/pkg/logger"
	"ricewatch/pkg/models"
	"ricewatch/pkg/scrapers"
)

// SliceKey names one (retailer, country) execution cell.
type SliceKey struct {
	Retailer models.Retailer
	Country  models.Country
}

func (k SliceKey) String() string {
	return fmt.Sprintf("%s_%s", k.Retailer, k.Country)
}

type State int

const (
	StateSuccess State = iota
	StatePartial
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StatePartial:
		return "partial_failure"
	default:
		return "total_failure"
	}
}

// SliceStatus records how one cell went. Count is the number of records
// gathered; Err is empty on full success.
type SliceStatus struct {
	State State
	Count int
	Err   string
}

// RunResult is the aggregate output of one run: the unified record sequence
// in retailer-major, country-major order, plus per-slice statuses. When the
// run was cancelled mid-way, Order and Statuses cover only the cells that
// were attempted; the result is still valid.
type RunResult struct {
	Products  []models.Product
	Statuses  map[SliceKey]SliceStatus
	Order     []SliceKey
	StartedAt time.Time
}

// Slice returns the records belonging to one cell.
func (r RunResult) Slice(retailer models.Retailer, country models.Country) []models.Product {
	var out []models.Product
	for _, p := range r.Products {
		if p.Retailer == retailer && p.Country == country {
			out = append(out, p)
		}
	}
	return out
}

// Succeeded counts cells that yielded records (fully or partially).
func (r RunResult) Succeeded() int {
	n := 0
	for _, st := range r.Statuses {
		if st.State != StateFailed {
			n++
		}
	}
	return n
}

// AllFailed reports whether every attempted cell totally failed.
func (r RunResult) AllFailed() bool {
	return r.Succeeded() == 0
}

type Runner struct {
	adapters   []scrapers.Adapter
	countries  []models.Country
	categories []models.Category
	cache      *cache.Cache // nil when caching is disabled
	log        *zap.SugaredLogger
	dedup      *logger.Deduper
}

type Option func(*Runner)

// WithCache makes the runner consult a slice cache before scraping live.
func WithCache(c *cache.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

func New(adapters []scrapers.Adapter, countries []models.Country, categories []models.Category, log *zap.SugaredLogger, opts ...Option) *Runner {
	r := &Runner{
		adapters:   adapters,
		countries:  countries,
		categories: categories,
		log:        log,
		dedup:      logger.NewDeduper(log),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run attempts every selected cell exactly once. A failure in one cell never
// aborts the others; cancellation abandons the remaining cells and returns
// the partial result gathered so far.
func (r *Runner) Run(ctx context.Context) RunResult {
	res := RunResult{
		Statuses:  make(map[SliceKey]SliceStatus),
		StartedAt: time.Now(),
	}

	r.log.Infow("starting run",
		"retailers", len(r.adapters),
		"countries", r.countries,
		"categories", r.categories,
	)

	for _, adapter := range r.adapters {
		for _, country := range r.countries {
			if err := ctx.Err(); err != nil {
				r.log.Warnw("run cancelled, returning partial result",
					"attempted", len(res.Order), "error", err)
				return res
			}

			key := SliceKey{Retailer: adapter.Retailer(), Country: country}
			res.Order = append(res.Order, key)

			products, err := r.fetchSlice(ctx, adapter, country)

			// One clock for the whole run: every accepted record gets the
			// run timestamp, regardless of which adapter produced it.
			for i := range products {
				products[i].ScrapedAt = res.StartedAt
			}
			res.Products = append(res.Products, products...)

			switch {
			case err == nil:
				res.Statuses[key] = SliceStatus{State: StateSuccess, Count: len(products)}
				r.log.Infow("slice complete", "slice", key.String(), "products", len(products))
			case len(products) > 0:
				res.Statuses[key] = SliceStatus{State: StatePartial, Count: len(products), Err: err.Error()}
				r.log.Warnw("slice partially failed", "slice", key.String(), "products", len(products), "error", err)
			default:
				res.Statuses[key] = SliceStatus{State: StateFailed, Err: err.Error()}
				r.log.Errorw("slice failed", "slice", key.String(), "error", err)
			}
		}
	}

	r.log.Infow("run complete",
		"slices", len(res.Order),
		"succeeded", res.Succeeded(),
		"products", len(res.Products),
	)
	return res
}

// fetchSlice runs one cell with panic isolation. A panicking adapter is a
// failed slice, not a crashed run.
func (r *Runner) fetchSlice(ctx context.Context, adapter scrapers.Adapter, country models.Country) (products []models.Product, err error) {
	retailer := adapter.Retailer()

	if r.cache != nil {
		if cached, ok := r.cache.Get(retailer, country, r.categories); ok {
			r.dedup.Infof("cache hit for %s/%s", retailer, country)
			return cached, nil
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			products = nil
			err = &models.SliceError{
				Retailer: retailer,
				Country:  country,
				Err:      fmt.Errorf("adapter panicked: %v", rec),
			}
		}
	}()

	products, err = adapter.FetchCategory(ctx, country, r.categories)
	if err != nil {
		err = &models.SliceError{Retailer: retailer, Country: country, Err: err}
	}

	if r.cache != nil && err == nil && len(products) > 0 {
		r.cache.Set(retailer, country, r.categories, products)
	}
	return products, err
}
