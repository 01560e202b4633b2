package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ricewatch/pkg/models"
	"ricewatch/pkg/runner"
)

func writeArtifact(t *testing.T, dir, name, content string, modified time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modified, modified); err != nil {
		t.Fatal(err)
	}
}

func cannedRun(t *testing.T) RunFunc {
	t.Helper()
	return func(_ context.Context, retailers []models.Retailer, countries []models.Country) (runner.RunResult, []string, error) {
		key := runner.SliceKey{Retailer: models.RetailerCarrefour, Country: models.CountryUAE}
		return runner.RunResult{
			Products: []models.Product{{ProductName: "Brand A Basmati 5kg"}},
			Statuses: map[runner.SliceKey]runner.SliceStatus{
				key: {State: runner.StateSuccess, Count: 1},
			},
			Order:     []runner.SliceKey{key},
			StartedAt: time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC),
		}, []string{"/out/rice_prices_combined_20260829_103000.csv"}, nil
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	writeArtifact(t, dir, "rice_prices_20260829_100000_carrefour_uae.csv", "a", base)
	writeArtifact(t, dir, "rice_prices_combined_20260829_110000.csv", "b", base.Add(time.Hour))
	writeArtifact(t, dir, "rice_prices_combined_20260829_110000.xlsx", "c", base.Add(time.Hour))
	writeArtifact(t, dir, "notes.txt", "ignore me", base.Add(2*time.Hour))

	s := NewServer(dir, "docs", cannedRun(t), zap.NewNop().Sugar())
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/files", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var files []FileInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &files); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3 (txt excluded): %+v", len(files), files)
	}
	if files[2].Name != "rice_prices_20260829_100000_carrefour_uae.csv" {
		t.Errorf("oldest file should sort last, got %q", files[2].Name)
	}
	for i := 1; i < len(files); i++ {
		if files[i].Modified.After(files[i-1].Modified) {
			t.Errorf("files not sorted newest first: %q before %q", files[i-1].Name, files[i].Name)
		}
	}
}

func TestServeFile(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "rice_prices_combined_20260829_103000.csv", "product_name\nBrand A\n", time.Now())

	s := NewServer(dir, "docs", cannedRun(t), zap.NewNop().Sugar())
	handler := s.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/files/rice_prices_combined_20260829_103000.csv", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(rr.Body.String(), "Brand A") {
		t.Errorf("body = %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/files/missing.csv", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("error content type = %q", got)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/files/..%2Fconfig.yaml", nil))
	if rr.Code != http.StatusBadRequest && rr.Code != http.StatusNotFound {
		t.Errorf("traversal attempt status = %d, want rejection", rr.Code)
	}
}

func TestLatestCombined(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	writeArtifact(t, dir, "rice_prices_combined_20260829_100000.csv", "old", base)
	writeArtifact(t, dir, "rice_prices_combined_20260829_110000.csv", "new", base.Add(time.Hour))
	writeArtifact(t, dir, "rice_prices_20260829_120000_lulu_ksa.csv", "slice only", base.Add(2*time.Hour))

	s := NewServer(dir, "docs", cannedRun(t), zap.NewNop().Sugar())
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/files/latest", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "new" {
		t.Errorf("body = %q, want the newest combined file", rr.Body.String())
	}
}

func TestLatestCombinedEmpty(t *testing.T) {
	s := NewServer(t.TempDir(), "docs", cannedRun(t), zap.NewNop().Sugar())
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/files/latest", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with no output files", rr.Code)
	}
}

func TestScrape(t *testing.T) {
	var gotRetailers []models.Retailer
	var gotCountries []models.Country
	run := func(ctx context.Context, retailers []models.Retailer, countries []models.Country) (runner.RunResult, []string, error) {
		gotRetailers, gotCountries = retailers, countries
		return cannedRun(t)(ctx, retailers, countries)
	}

	s := NewServer(t.TempDir(), "docs", run, zap.NewNop().Sugar())
	handler := s.Handler()

	// no run yet
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/runs/latest", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("latest before any run: status = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/scrape?retailer=carrefour&country=uae", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	if len(gotRetailers) != 1 || gotRetailers[0] != models.RetailerCarrefour {
		t.Errorf("retailers = %v, want [carrefour]", gotRetailers)
	}
	if len(gotCountries) != 1 || gotCountries[0] != models.CountryUAE {
		t.Errorf("countries = %v, want [uae]", gotCountries)
	}

	var summary RunSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if summary.Products != 1 {
		t.Errorf("products = %d, want 1", summary.Products)
	}
	if len(summary.Slices) != 1 || summary.Slices[0].Slice != "carrefour_uae" || summary.Slices[0].State != "success" {
		t.Errorf("slices = %+v", summary.Slices)
	}
	if len(summary.Files) != 1 || summary.Files[0] != "rice_prices_combined_20260829_103000.csv" {
		t.Errorf("files = %v, want base names only", summary.Files)
	}

	// the completed run is now the latest
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/runs/latest", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("latest after run: status = %d, want 200", rr.Code)
	}
	var latest RunSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &latest); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if latest.Products != summary.Products || len(latest.Slices) != 1 {
		t.Errorf("latest = %+v, want the scrape summary", latest)
	}
}

func TestScrapeSelections(t *testing.T) {
	run := func(_ context.Context, retailers []models.Retailer, countries []models.Country) (runner.RunResult, []string, error) {
		if len(retailers) != len(models.Retailers) || len(countries) != len(models.Countries) {
			t.Errorf("empty selection should fan out to all: %v %v", retailers, countries)
		}
		return runner.RunResult{Statuses: map[runner.SliceKey]runner.SliceStatus{}}, nil, nil
	}
	s := NewServer(t.TempDir(), "docs", run, zap.NewNop().Sugar())
	handler := s.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/scrape", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/scrape?retailer=walmart", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown retailer status = %d, want 400", rr.Code)
	}
	var pd ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &pd); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !strings.Contains(pd.Detail, "walmart") {
		t.Errorf("detail = %q, should name the bad retailer", pd.Detail)
	}
}

func TestScrapeBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	run := func(context.Context, []models.Retailer, []models.Country) (runner.RunResult, []string, error) {
		close(started)
		<-release
		return runner.RunResult{Statuses: map[runner.SliceKey]runner.SliceStatus{}}, nil, nil
	}

	s := NewServer(t.TempDir(), "docs", run, zap.NewNop().Sugar())
	handler := s.Handler()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("POST", "/scrape", nil))
	}()
	<-started

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/scrape", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("concurrent trigger status = %d, want 409", rr.Code)
	}

	close(release)
	<-done
}

func TestScrapeExportError(t *testing.T) {
	run := func(ctx context.Context, retailers []models.Retailer, countries []models.Country) (runner.RunResult, []string, error) {
		res, paths, _ := cannedRun(t)(ctx, retailers, countries)
		return res, paths, errors.New("export xlsx: disk full")
	}
	s := NewServer(t.TempDir(), "docs", run, zap.NewNop().Sugar())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("POST", "/scrape", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("partial export failure should still report the run, status = %d", rr.Code)
	}
	var summary RunSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !strings.Contains(summary.ExportError, "disk full") {
		t.Errorf("export_error = %q", summary.ExportError)
	}
}
