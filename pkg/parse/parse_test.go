package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ricewatch/pkg/models"
)

func TestPackSize(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Brand A Basmati 5kg", "5kg"},
		{"Brand A Basmati 5 kg", "5 kg"},
		{"Premium Sella Rice 0.5kg", "0.5kg"},
		{"Jasmine Rice 500g", "500g"},
		{"Royal Basmati 10 lb", "10 lb"},
		{"Thai Jasmine 2 lbs Bag", "2 lbs"},
		{"Basmati Rice 2 x 5kg", "2 x 5kg"},
		{"Basmati Rice 2x5kg Value Pack", "2x5kg"},
		{"Basmati Rice Family Pack", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PackSize(tt.name), "name %q", tt.name)
	}
}

func TestMatchCategory(t *testing.T) {
	all := []models.Category{models.CategoryBasmatiSella, models.CategoryJasmine}

	tests := []struct {
		name    string
		allowed []models.Category
		want    models.Category
		ok      bool
	}{
		{"Brand A Basmati 5kg", all, models.CategoryBasmatiSella, true},
		{"Golden Sella Rice 10kg", all, models.CategoryBasmatiSella, true},
		{"BASMATI SELLA premium", all, models.CategoryBasmatiSella, true},
		{"Thai Jasmine Rice 5kg", all, models.CategoryJasmine, true},
		{"Fragrant JASMINE 1kg", all, models.CategoryJasmine, true},
		{"Egyptian Calrose Rice 5kg", all, "", false},
		{"Brown Rice 1kg", all, "", false},
		// allow-list filtering
		{"Thai Jasmine Rice 5kg", []models.Category{models.CategoryBasmatiSella}, "", false},
		{"Brand A Basmati 5kg", []models.Category{models.CategoryJasmine}, "", false},
		// sella wins over jasmine when both appear
		{"Sella Jasmine Mix", all, models.CategoryBasmatiSella, true},
	}
	for _, tt := range tests {
		got, ok := MatchCategory(tt.name, tt.allowed)
		assert.Equal(t, tt.ok, ok, "name %q", tt.name)
		assert.Equal(t, tt.want, got, "name %q", tt.name)
	}
}

func TestCleanPrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"AED 25.50", 25.50},
		{"25.50", 25.50},
		{"SAR 80", 80},
		{"45,50", 45.50},
		{"1,234.56", 1234.56},
		{"AED 2,500.00", 2500},
		{"  39.99 ", 39.99},
		{"free", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanPrice(tt.in), "input %q", tt.in)
	}
}
