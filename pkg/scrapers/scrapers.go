// Package scrapers defines the contract every retailer adapter satisfies.
// The orchestrator never distinguishes adapters except by which instance it
// invokes.
package scrapers

import (
	"context"

	"ricewatch/pkg/models"
)

// UserAgent is sent on every request, HTTP and browser alike.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Adapter fetches every product in the configured categories for one country.
//
// Returned products carry no ScrapedAt; the orchestrator stamps them with a
// single run-wide clock. Each discrete network operation inside an adapter is
// individually wrapped by the retry primitive, so a transient failure on one
// page does not discard earlier pages. When some operations succeeded and a
// later one exhausted its retries, the adapter returns the products gathered
// so far together with the error (partial success). Only when zero
// operations succeeded is the product slice empty and the error slice-fatal.
type Adapter interface {
	Retailer() models.Retailer
	FetchCategory(ctx context.Context, country models.Country, categories []models.Category) ([]models.Product, error)
}
