// Package parse holds the free-text heuristics shared by the adapters:
// pack-size extraction, category keyword matching and price cleaning.
package parse

import (
	"regexp"
	"strconv"
	"strings"

	"ricewatch/pkg/models"
)

// Multipack form ("2 x 5kg") is tried first so the whole expression is kept,
// not just the trailing unit.
var packSizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*x\s*\d+(?:\.\d+)?\s*(?:kg|lbs|lb|g)\b`),
	regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:kg|lbs|lb|g)\b`),
}

// PackSize pulls a weight expression like "5kg", "10 lb" or "2 x 5kg" out of
// a product name. Returns "" when nothing matches; the field is serialized
// blank in that case.
func PackSize(name string) string {
	for _, re := range packSizePatterns {
		if m := re.FindString(name); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

var (
	sellaPattern   = regexp.MustCompile(`(?i)\bsella\b`)
	basmatiPattern = regexp.MustCompile(`(?i)\bbasmati\b`)
	jasminePattern = regexp.MustCompile(`(?i)\bjasmine\b`)
)

// MatchCategory classifies a product name against the configured category
// allow-list. Sella and basmati keywords both map to BASMATI_SELLA and are
// checked before jasmine. Products whose category is not in allowed (or that
// match nothing) are rejected and must never reach the orchestrator.
func MatchCategory(name string, allowed []models.Category) (models.Category, bool) {
	var cat models.Category
	switch {
	case sellaPattern.MatchString(name), basmatiPattern.MatchString(name):
		cat = models.CategoryBasmatiSella
	case jasminePattern.MatchString(name):
		cat = models.CategoryJasmine
	default:
		return "", false
	}
	for _, a := range allowed {
		if a == cat {
			return cat, true
		}
	}
	return "", false
}

var priceJunk = regexp.MustCompile(`[^\d.]`)

// CleanPrice converts a price string like "AED 25.50", "25,50 SAR" or
// "1,234.56" to a float. A comma is a decimal mark only when no dot is
// present; alongside a dot it is a thousands separator and is stripped.
// Returns 0 when unparseable; normalization drops zero-priced items.
func CleanPrice(s string) float64 {
	if s == "" {
		return 0
	}
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}
	cleaned := priceJunk.ReplaceAllString(s, "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
