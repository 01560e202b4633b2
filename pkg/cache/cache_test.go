package cache

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"ricewatch/pkg/models"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache.db"), ttl, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleSlice() []models.Product {
	return []models.Product{
		{
			ProductName:  "Brand A Basmati 5kg",
			PackSize:     "5kg",
			Currency:     models.CurrencyAED,
			RegularPrice: 45.50,
			Availability: models.InStock,
			ProductURL:   "https://example.test/p/1",
			Retailer:     models.RetailerCarrefour,
			Country:      models.CountryUAE,
			Category:     models.CategoryBasmatiSella,
		},
	}
}

func TestCacheRoundtrip(t *testing.T) {
	c := newTestCache(t, time.Hour)
	cats := []models.Category{models.CategoryBasmatiSella}

	if _, ok := c.Get(models.RetailerCarrefour, models.CountryUAE, cats); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(models.RetailerCarrefour, models.CountryUAE, cats, sampleSlice())

	got, ok := c.Get(models.RetailerCarrefour, models.CountryUAE, cats)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(got) != 1 || got[0].ProductName != "Brand A Basmati 5kg" {
		t.Errorf("got %+v", got)
	}

	// different cell stays a miss
	if _, ok := c.Get(models.RetailerLulu, models.CountryUAE, cats); ok {
		t.Error("different retailer should miss")
	}
	if _, ok := c.Get(models.RetailerCarrefour, models.CountryKSA, cats); ok {
		t.Error("different country should miss")
	}
}

func TestCacheCategoryFingerprint(t *testing.T) {
	c := newTestCache(t, time.Hour)

	both := []models.Category{models.CategoryBasmatiSella, models.CategoryJasmine}
	one := []models.Category{models.CategoryBasmatiSella}

	c.Set(models.RetailerCarrefour, models.CountryUAE, one, sampleSlice())

	if _, ok := c.Get(models.RetailerCarrefour, models.CountryUAE, both); ok {
		t.Error("wider category set must not reuse a narrower slice")
	}

	// order within the set does not matter
	c.Set(models.RetailerLulu, models.CountryKSA, both, sampleSlice())
	reversed := []models.Category{models.CategoryJasmine, models.CategoryBasmatiSella}
	if _, ok := c.Get(models.RetailerLulu, models.CountryKSA, reversed); !ok {
		t.Error("category set order should not affect the key")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache(t, time.Millisecond)
	cats := []models.Category{models.CategoryJasmine}

	c.Set(models.RetailerLulu, models.CountryUAE, cats, sampleSlice())
	time.Sleep(10 * time.Millisecond)

	if _, ok := c.Get(models.RetailerLulu, models.CountryUAE, cats); ok {
		t.Error("expired entry should miss")
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := newTestCache(t, time.Hour)
	cats := []models.Category{models.CategoryBasmatiSella}

	c.Set(models.RetailerCarrefour, models.CountryUAE, cats, sampleSlice())

	updated := sampleSlice()
	updated[0].RegularPrice = 42.00
	c.Set(models.RetailerCarrefour, models.CountryUAE, cats, updated)

	got, ok := c.Get(models.RetailerCarrefour, models.CountryUAE, cats)
	if !ok {
		t.Fatal("expected hit")
	}
	if got[0].RegularPrice != 42.00 {
		t.Errorf("RegularPrice = %v, want 42.00 after overwrite", got[0].RegularPrice)
	}
}
