// Package cache stores scraped slices in SQLite so a rerun within the TTL
// skips live scraping. Cache failures are never fatal; a miss just means a
// live fetch.
package cache

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ricewatch/pkg/models"
)

type Cache struct {
	db  *sql.DB
	ttl time.Duration
	log *zap.SugaredLogger
}

func New(dbPath string, ttl time.Duration, log *zap.SugaredLogger) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS slices (
			retailer TEXT NOT NULL,
			country TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			data TEXT NOT NULL,
			cached_at DATETIME NOT NULL,
			PRIMARY KEY (retailer, country, fingerprint)
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, ttl: ttl, log: log}, nil
}

// fingerprint keys an entry by its category allow-list so a run with a
// different category set never reuses a narrower slice.
func fingerprint(categories []models.Category) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

func (c *Cache) Get(retailer models.Retailer, country models.Country, categories []models.Category) ([]models.Product, bool) {
	var data string
	var cachedAt time.Time

	err := c.db.QueryRow(
		`SELECT data, cached_at FROM slices WHERE retailer = ? AND country = ? AND fingerprint = ?`,
		string(retailer), string(country), fingerprint(categories),
	).Scan(&data, &cachedAt)

	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > c.ttl {
		return nil, false
	}

	var products []models.Product
	if err := json.Unmarshal([]byte(data), &products); err != nil {
		c.log.Warnf("cache: failed to unmarshal slice %s/%s: %v", retailer, country, err)
		return nil, false
	}

	return products, true
}

func (c *Cache) Set(retailer models.Retailer, country models.Country, categories []models.Category, products []models.Product) {
	data, err := json.Marshal(products)
	if err != nil {
		c.log.Warnf("cache: failed to marshal slice %s/%s: %v", retailer, country, err)
		return
	}

	_, err = c.db.Exec(
		`INSERT INTO slices (retailer, country, fingerprint, data, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(retailer, country, fingerprint)
		 DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at`,
		string(retailer), string(country), fingerprint(categories), string(data), time.Now(),
	)
	if err != nil {
		c.log.Warnf("cache: failed to store slice %s/%s: %v", retailer, country, err)
	}
}

func (c *Cache) Close() error {
	return c.db.Close()
}
