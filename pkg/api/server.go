// Package api is the dashboard server: it triggers scraping runs, reports
// the last run's slice statuses and serves the output artifacts, with Scalar
// API docs on the root path.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	scalargo "github.com/bdpiprava/scalar-go"
	"go.uber.org/zap"

	"ricewatch/pkg/models"
	"ricewatch/pkg/runner"
)

// RunFunc executes one scrape-and-export for the selected retailers and
// countries and returns the run result plus the written file paths.
type RunFunc func(ctx context.Context, retailers []models.Retailer, countries []models.Country) (runner.RunResult, []string, error)

type Server struct {
	dir     string
	specDir string
	run     RunFunc
	log     *zap.SugaredLogger

	// one scraping run at a time; a second trigger while one is in
	// flight gets 409 rather than a queued browser session
	sem chan struct{}

	mu   sync.Mutex
	last *RunSummary
}

func NewServer(outputDir, specDir string, run RunFunc, log *zap.SugaredLogger) *Server {
	return &Server{
		dir:     outputDir,
		specDir: specDir,
		run:     run,
		log:     log,
		sem:     make(chan struct{}, 1),
	}
}

// SliceSummary is one cell's outcome in a run report.
type SliceSummary struct {
	Slice    string `json:"slice"`
	State    string `json:"state"`
	Products int    `json:"products"`
	Error    string `json:"error,omitempty"`
}

// RunSummary is the JSON report of a completed run.
type RunSummary struct {
	StartedAt   time.Time      `json:"started_at"`
	Products    int            `json:"products"`
	Slices      []SliceSummary `json:"slices"`
	Files       []string       `json:"files"`
	ExportError string         `json:"export_error,omitempty"`
}

// FileInfo describes one output artifact.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDocs)
	mux.HandleFunc("POST /scrape", s.handleScrape)
	mux.HandleFunc("GET /runs/latest", s.handleLatestRun)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /files/latest", s.handleLatestCombined)
	mux.HandleFunc("GET /files/{name}", s.handleFile)
	return mux
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir(s.specDir),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Rice Price Scraper API"),
		),
	)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	retailers, err := selectRetailers(r.URL.Query().Get("retailer"))
	if err != nil {
		WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}
	countries, err := selectCountries(r.URL.Query().Get("country"))
	if err != nil {
		WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		WriteConflict(w, "a scraping run is already in progress", r.URL.Path)
		return
	}

	s.log.Infow("run triggered via dashboard", "retailers", retailers, "countries", countries)

	res, paths, err := s.run(r.Context(), retailers, countries)

	summary := &RunSummary{
		StartedAt: res.StartedAt,
		Products:  len(res.Products),
		Files:     baseNames(paths),
	}
	for _, key := range res.Order {
		st := res.Statuses[key]
		summary.Slices = append(summary.Slices, SliceSummary{
			Slice:    key.String(),
			State:    st.State.String(),
			Products: st.Count,
			Error:    st.Err,
		})
	}
	if err != nil {
		summary.ExportError = err.Error()
	}

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	writeJSON(w, summary)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		WriteNotFound(w, "no run has completed yet", r.URL.Path)
		return
	}
	writeJSON(w, last)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.listArtifacts()
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	// newest first, capped like the rest of the dashboard views
	if len(files) > 10 {
		files = files[:10]
	}
	writeJSON(w, files)
}

func (s *Server) handleLatestCombined(w http.ResponseWriter, r *http.Request) {
	files, err := s.listArtifacts()
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	var name string
	for _, f := range files {
		if strings.Contains(f.Name, "combined") && strings.HasSuffix(f.Name, ".csv") {
			name = f.Name
			break
		}
	}
	if name == "" {
		for _, f := range files {
			if strings.HasSuffix(f.Name, ".csv") {
				name = f.Name
				break
			}
		}
	}
	if name == "" {
		WriteNotFound(w, "no output files yet; trigger a run first", r.URL.Path)
		return
	}
	s.serveArtifact(w, r, name)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		WriteBadRequest(w, "invalid file name", r.URL.Path)
		return
	}
	s.serveArtifact(w, r, name)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		WriteNotFound(w, fmt.Sprintf("no such output file: %s", name), r.URL.Path)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		WriteNotFound(w, fmt.Sprintf("no such output file: %s", name), r.URL.Path)
		return
	}

	switch filepath.Ext(name) {
	case ".csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	case ".xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// listArtifacts returns the output directory's csv and xlsx files, newest
// first.
func (s *Server) listArtifacts() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

func selectRetailers(s string) ([]models.Retailer, error) {
	if s == "" || s == "all" {
		return models.Retailers, nil
	}
	r, err := models.ParseRetailer(s)
	if err != nil {
		return nil, err
	}
	return []models.Retailer{r}, nil
}

func selectCountries(s string) ([]models.Country, error) {
	if s == "" || s == "all" {
		return models.Countries, nil
	}
	c, err := models.ParseCountry(s)
	if err != nil {
		return nil, err
	}
	return []models.Country{c}, nil
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
