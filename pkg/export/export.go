// Package export serializes a run into flat files: one CSV per slice plus a
// combined CSV, and one workbook per slice plus a combined multi-sheet
// workbook. The two formats fail independently; a full disk for the workbook
// never loses the CSVs.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"ricewatch/pkg/models"
	"ricewatch/pkg/runner"
)

// Columns is the fixed output column order, identical for CSV and workbook
// sheets.
var Columns = []string{
	"product_name",
	"pack_size",
	"currency",
	"regular_price",
	"promo_price",
	"is_promo",
	"availability",
	"product_url",
	"retailer",
	"country",
	"category",
	"scraped_at",
}

type Exporter struct {
	Dir   string
	CSV   bool
	Excel bool

	log *zap.SugaredLogger
}

func New(dir string, csvEnabled, excelEnabled bool, log *zap.SugaredLogger) *Exporter {
	return &Exporter{
		Dir:   dir,
		CSV:   csvEnabled,
		Excel: excelEnabled,
		log:   log,
	}
}

// Export writes every enabled format and returns the paths that were
// actually written. The error, if any, is a join of per-format ExportErrors;
// a non-empty path list alongside a non-nil error means partial success.
// All filenames share the run timestamp so one invocation's artifacts are
// trivially correlatable.
func (e *Exporter) Export(res runner.RunResult, baseName string) ([]string, error) {
	if len(res.Products) == 0 {
		e.log.Warn("no products to export")
		return nil, nil
	}

	ts := res.StartedAt.Format("20060102_150405")
	if baseName == "" {
		baseName = "rice_prices_combined_" + ts
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, &models.ExportError{Format: "all", Err: err}
	}

	var paths []string
	var errs []error

	if e.CSV {
		p, err := e.exportCSV(res, ts, baseName)
		paths = append(paths, p...)
		if err != nil {
			e.log.Errorw("csv export failed", "error", err)
			errs = append(errs, &models.ExportError{Format: "csv", Err: err})
		}
	}
	if e.Excel {
		p, err := e.exportWorkbooks(res, ts, baseName)
		paths = append(paths, p...)
		if err != nil {
			e.log.Errorw("workbook export failed", "error", err)
			errs = append(errs, &models.ExportError{Format: "xlsx", Err: err})
		}
	}

	for _, p := range paths {
		e.log.Infof("exported %s", p)
	}
	return paths, errors.Join(errs...)
}

func (e *Exporter) sliceFilename(ts string, key runner.SliceKey, ext string) string {
	return filepath.Join(e.Dir, fmt.Sprintf("rice_prices_%s_%s_%s.%s", ts, key.Retailer, key.Country, ext))
}

func (e *Exporter) exportCSV(res runner.RunResult, ts, baseName string) ([]string, error) {
	var paths []string
	var errs []error

	for _, key := range res.Order {
		records := res.Slice(key.Retailer, key.Country)
		if len(records) == 0 {
			continue
		}
		path := e.sliceFilename(ts, key, "csv")
		if err := writeCSV(path, records); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		paths = append(paths, path)
	}

	combined := filepath.Join(e.Dir, baseName+".csv")
	if err := writeCSV(combined, res.Products); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", combined, err))
	} else {
		paths = append(paths, combined)
	}

	return paths, errors.Join(errs...)
}

func writeCSV(path string, products []models.Product) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		f.Close()
		return err
	}
	for _, p := range products {
		if err := w.Write(csvRow(p)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func csvRow(p models.Product) []string {
	promo := ""
	if p.PromoPrice != nil {
		promo = strconv.FormatFloat(*p.PromoPrice, 'f', 2, 64)
	}
	return []string{
		p.ProductName,
		p.PackSize,
		string(p.Currency),
		strconv.FormatFloat(p.RegularPrice, 'f', 2, 64),
		promo,
		strconv.FormatBool(p.IsPromo),
		string(p.Availability),
		p.ProductURL,
		string(p.Retailer),
		string(p.Country),
		string(p.Category),
		p.ScrapedAt.Format(time.RFC3339),
	}
}

type sheet struct {
	name     string
	products []models.Product
}

func (e *Exporter) exportWorkbooks(res runner.RunResult, ts, baseName string) ([]string, error) {
	var paths []string
	var errs []error

	for _, key := range res.Order {
		records := res.Slice(key.Retailer, key.Country)
		if len(records) == 0 {
			continue
		}
		path := e.sliceFilename(ts, key, "xlsx")
		if err := writeWorkbook(path, []sheet{{name: sheetName(key), products: records}}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		paths = append(paths, path)
	}

	// Combined workbook: "All" first, then one sheet per slice.
	sheets := []sheet{{name: "All", products: res.Products}}
	for _, key := range res.Order {
		records := res.Slice(key.Retailer, key.Country)
		if len(records) == 0 {
			continue
		}
		sheets = append(sheets, sheet{name: sheetName(key), products: records})
	}
	combined := filepath.Join(e.Dir, baseName+".xlsx")
	if err := writeWorkbook(combined, sheets); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", combined, err))
	} else {
		paths = append(paths, combined)
	}

	return paths, errors.Join(errs...)
}

// sheetName concatenates retailer and country into a deterministic,
// collision-free sheet name ("CarrefourUAE").
func sheetName(key runner.SliceKey) string {
	r := string(key.Retailer)
	if r != "" {
		r = strings.ToUpper(r[:1]) + r[1:]
	}
	return r + strings.ToUpper(string(key.Country))
}

func writeWorkbook(path string, sheets []sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
				return err
			}
		} else {
			if _, err := f.NewSheet(sh.name); err != nil {
				return err
			}
		}

		if err := f.SetSheetRow(sh.name, "A1", &header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sh.name, "A1", "L1", headerStyle); err != nil {
			return err
		}
		for ri, p := range sh.products {
			row := workbookRow(p)
			if err := f.SetSheetRow(sh.name, fmt.Sprintf("A%d", ri+2), &row); err != nil {
				return err
			}
		}
		if err := f.SetColWidth(sh.name, "A", "L", 18); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}

func workbookRow(p models.Product) []any {
	var promo any
	if p.PromoPrice != nil {
		promo = *p.PromoPrice
	} else {
		promo = "" // blank cell, not zero
	}
	return []any{
		p.ProductName,
		p.PackSize,
		string(p.Currency),
		p.RegularPrice,
		promo,
		p.IsPromo,
		string(p.Availability),
		p.ProductURL,
		string(p.Retailer),
		string(p.Country),
		string(p.Category),
		p.ScrapedAt.Format(time.RFC3339),
	}
}
