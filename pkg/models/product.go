package models

import (
	"fmt"
	"time"
)

// Retailer identifies the adapter a product came from.
type Retailer string

const (
	RetailerCarrefour Retailer = "carrefour"
	RetailerLulu      Retailer = "lulu"
)

// Retailers lists all supported retailers in canonical order. Runs iterate
// this order, so exported output is deterministic.
var Retailers = []Retailer{RetailerCarrefour, RetailerLulu}

func ParseRetailer(s string) (Retailer, error) {
	for _, r := range Retailers {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown retailer %q (available: carrefour, lulu)", s)
}

type Country string

const (
	CountryUAE Country = "uae"
	CountryKSA Country = "ksa"
)

// Countries lists all supported countries in canonical order.
var Countries = []Country{CountryUAE, CountryKSA}

func ParseCountry(s string) (Country, error) {
	for _, c := range Countries {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown country %q (available: uae, ksa)", s)
}

type Currency string

const (
	CurrencyAED Currency = "AED"
	CurrencySAR Currency = "SAR"
)

// Currency is derived from the storefront country, never parsed from page
// content. Locale-formatted price strings are too ambiguous to trust.
func (c Country) Currency() Currency {
	if c == CountryKSA {
		return CurrencySAR
	}
	return CurrencyAED
}

type Category string

const (
	CategoryBasmatiSella Category = "BASMATI_SELLA"
	CategoryJasmine      Category = "JASMINE"
)

var Categories = []Category{CategoryBasmatiSella, CategoryJasmine}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q (available: BASMATI_SELLA, JASMINE)", s)
}

type Availability string

const (
	InStock             Availability = "in_stock"
	OutOfStock          Availability = "out_of_stock"
	AvailabilityUnknown Availability = "unknown"
)

// Product is one normalized scraped observation. Immutable once built;
// duplicates across runs are expected (each run is a point-in-time snapshot)
// so there is no identity beyond the field values.
type Product struct {
	ProductName  string       `json:"product_name"`
	PackSize     string       `json:"pack_size,omitempty"`
	Currency     Currency     `json:"currency"`
	RegularPrice float64      `json:"regular_price"`
	PromoPrice   *float64     `json:"promo_price,omitempty"`
	IsPromo      bool         `json:"is_promo"`
	Availability Availability `json:"availability"`
	ProductURL   string       `json:"product_url"`
	Retailer     Retailer     `json:"retailer"`
	Country      Country      `json:"country"`
	Category     Category     `json:"category"`
	ScrapedAt    time.Time    `json:"scraped_at"`
}

// Normalize validates a freshly parsed product and derives the computed
// fields. IsPromo is never set by adapters directly: it holds exactly when a
// promo price exists and is strictly below the regular price. A promo equal
// to the regular price is not a promo.
func Normalize(p Product) (Product, error) {
	if p.ProductName == "" {
		return p, fmt.Errorf("%w: empty product name", ErrInvalidProduct)
	}
	if p.RegularPrice < 0 {
		return p, fmt.Errorf("%w: negative regular price %.2f", ErrInvalidProduct, p.RegularPrice)
	}
	if p.RegularPrice == 0 {
		return p, fmt.Errorf("%w: no regular price for %q", ErrInvalidProduct, p.ProductName)
	}
	if p.PromoPrice != nil && *p.PromoPrice < 0 {
		return p, fmt.Errorf("%w: negative promo price %.2f", ErrInvalidProduct, *p.PromoPrice)
	}
	if p.PromoPrice != nil && *p.PromoPrice == 0 {
		p.PromoPrice = nil
	}
	p.Currency = p.Country.Currency()
	p.IsPromo = p.PromoPrice != nil && *p.PromoPrice < p.RegularPrice
	if p.Availability == "" {
		p.Availability = AvailabilityUnknown
	}
	return p, nil
}
