package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ricewatch/pkg/api"
	"ricewatch/pkg/cache"
	"ricewatch/pkg/config"
	"ricewatch/pkg/export"
	"ricewatch/pkg/logger"
	"ricewatch/pkg/models"
	"ricewatch/pkg/runner"
	"ricewatch/pkg/scrapers"
	"ricewatch/pkg/scrapers/carrefour"
	"ricewatch/pkg/scrapers/lulu"
)

type cliFlags struct {
	configPath string
	retailer   string
	country    string
	output     string
	csvOnly    bool
	excelOnly  bool
	verbose    bool
	serve      bool
	port       int
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("ricewatch", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config.yaml", "path to configuration file")
	fs.StringVar(&f.configPath, "c", "config.yaml", "path to configuration file (shorthand)")
	fs.StringVar(&f.retailer, "retailer", "all", "retailer to scrape: carrefour, lulu or all")
	fs.StringVar(&f.country, "country", "all", "country to scrape: uae, ksa or all")
	fs.StringVar(&f.output, "output", "", "custom combined output filename (without extension)")
	fs.BoolVar(&f.csvOnly, "csv-only", false, "export only to CSV")
	fs.BoolVar(&f.excelOnly, "excel-only", false, "export only to Excel")
	fs.BoolVar(&f.verbose, "verbose", false, "enable debug logging")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logging (shorthand)")
	fs.BoolVar(&f.serve, "serve", false, "start the dashboard server instead of a one-shot run")
	fs.IntVar(&f.port, "port", 0, "dashboard port (overrides config)")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.csvOnly && f.excelOnly {
		return f, fmt.Errorf("--csv-only and --excel-only are mutually exclusive")
	}
	return f, nil
}

// selectRetailers resolves the --retailer flag into the canonical retailer
// order, which fixes the output ordering of a run.
func selectRetailers(s string) ([]models.Retailer, error) {
	if s == "all" {
		return models.Retailers, nil
	}
	r, err := models.ParseRetailer(s)
	if err != nil {
		return nil, err
	}
	return []models.Retailer{r}, nil
}

func selectCountries(s string) ([]models.Country, error) {
	if s == "all" {
		return models.Countries, nil
	}
	c, err := models.ParseCountry(s)
	if err != nil {
		return nil, err
	}
	return []models.Country{c}, nil
}

// formats applies the --csv-only / --excel-only overrides to the configured
// format set.
func formats(cfg *config.Config, csvOnly, excelOnly bool) (csvEnabled, excelEnabled bool) {
	csvEnabled = cfg.Output.CSVEnabled
	excelEnabled = cfg.Output.ExcelEnabled
	if csvOnly {
		return true, false
	}
	if excelOnly {
		return false, true
	}
	return csvEnabled, excelEnabled
}

// sourcesFor collects a retailer's validated per-country endpoints; countries
// without a usable endpoint block are simply absent, and the adapter reports
// them as permanently unconfigured.
func sourcesFor(cfg *config.Config, r models.Retailer) map[string]config.SourceConfig {
	sources := make(map[string]config.SourceConfig, len(models.Countries))
	for _, country := range models.Countries {
		src, err := cfg.Source(r, country)
		if err != nil {
			continue
		}
		sources[string(country)] = src
	}
	return sources
}

func buildAdapter(r models.Retailer, cfg *config.Config, log *zap.SugaredLogger, verbose bool) scrapers.Adapter {
	policy := cfg.Retry.Policy()
	switch r {
	case models.RetailerLulu:
		s := lulu.New(sourcesFor(cfg, r), policy, log)
		if verbose {
			s.DebugDumpDir = cfg.Output.OutputDir
		}
		return s
	default:
		return carrefour.New(sourcesFor(cfg, r), policy, log)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	level := cfg.Logging.Level
	if flags.verbose {
		level = "debug"
	}
	log, closeLog, err := logger.New(level, cfg.Logging.File, cfg.Logging.Console)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	retailers, err := selectRetailers(flags.retailer)
	if err != nil {
		log.Error(err)
		return 2
	}
	countries, err := selectCountries(flags.country)
	if err != nil {
		log.Error(err)
		return 2
	}
	categories, err := cfg.CategorySet()
	if err != nil {
		log.Error(err)
		return 1
	}

	var opts []runner.Option
	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache.Path, time.Duration(cfg.Cache.TTLMinutes)*time.Minute, log)
		if err != nil {
			log.Warnf("cache disabled: %v", err)
		} else {
			defer c.Close()
			opts = append(opts, runner.WithCache(c))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.serve {
		return serveDashboard(ctx, cfg, flags, categories, opts, log)
	}

	adapters := make([]scrapers.Adapter, 0, len(retailers))
	for _, r := range retailers {
		adapters = append(adapters, buildAdapter(r, cfg, log, flags.verbose))
	}

	res := runner.New(adapters, countries, categories, log, opts...).Run(ctx)

	for _, key := range res.Order {
		st := res.Statuses[key]
		log.Infow("slice status", "slice", key.String(), "state", st.State.String(), "products", st.Count)
	}

	if res.AllFailed() {
		log.Error("every slice failed; nothing to export")
		return 1
	}

	csvEnabled, excelEnabled := formats(cfg, flags.csvOnly, flags.excelOnly)
	exporter := export.New(cfg.Output.OutputDir, csvEnabled, excelEnabled, log)

	paths, err := exporter.Export(res, flags.output)
	if err != nil {
		log.Errorw("export incomplete", "error", err)
		if len(paths) == 0 {
			// zero formats succeeded on top of whatever slices failed
			return 1
		}
	}

	log.Infow("done", "products", len(res.Products), "files", len(paths))
	return 0
}

// serveDashboard runs the HTTP dashboard: scrapes are triggered per request
// with the same runner and exporter the one-shot mode uses.
func serveDashboard(ctx context.Context, cfg *config.Config, flags cliFlags, categories []models.Category, opts []runner.Option, log *zap.SugaredLogger) int {
	csvEnabled, excelEnabled := formats(cfg, flags.csvOnly, flags.excelOnly)

	runFn := func(runCtx context.Context, retailers []models.Retailer, countries []models.Country) (runner.RunResult, []string, error) {
		adapters := make([]scrapers.Adapter, 0, len(retailers))
		for _, r := range retailers {
			adapters = append(adapters, buildAdapter(r, cfg, log, flags.verbose))
		}
		res := runner.New(adapters, countries, categories, log, opts...).Run(runCtx)
		paths, err := export.New(cfg.Output.OutputDir, csvEnabled, excelEnabled, log).Export(res, "")
		return res, paths, err
	}

	port := cfg.Server.Port
	if flags.port != 0 {
		port = flags.port
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(cfg.Output.OutputDir, cfg.Server.SpecDir, runFn, log).Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("dashboard listening on http://localhost:%d", port)
	log.Infof("API docs at http://localhost:%d/", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("server failed: %v", err)
		return 1
	}
	return 0
}
