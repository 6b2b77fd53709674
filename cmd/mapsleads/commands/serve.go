package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/internal/output"
	"github.com/jmylchreest/mapsleads/internal/sink"
	"github.com/jmylchreest/mapsleads/internal/version"
	"github.com/jmylchreest/mapsleads/pkg/mapsleads"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve searches and CSV saving over HTTP",
	Long: `Serve exposes searches over HTTP. Searches run one at a time; a
request arriving while another search runs waits for it.

Endpoints:
  GET  /maps/search?query=cafes&city=Madrid&limit=20   JSON array of places
  POST /csv/save  {"places": [...], "fileName": "..."}  append to a CSV file
  GET  /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("out-dir", ".", "directory for CSV files written by /csv/save")
	flags.Int("default-limit", 20, "limit when a search does not give one")
	flags.Int("max-limit", 200, "largest limit a search may ask for")
	flags.Duration("search-timeout", 10*time.Minute, "upper bound for one search")

	addCrawlFlags(flags)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, launcher, err := newClient()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = launcher.Close() }()
	defer func() { _ = client.Close() }()

	sinks, err := openSinks(ctx)
	if err != nil {
		logger.Error("failed to open sinks", "error", err)
		return err
	}
	defer func() { _ = sinks.Close() }()

	s := &server{
		searcher:      client,
		store:         output.NewCSVStore(viper.GetString("out-dir")),
		sinks:         sinks,
		defaultLimit:  viper.GetInt("default-limit"),
		maxLimit:      viper.GetInt("max-limit"),
		searchTimeout: viper.GetDuration("search-timeout"),
	}

	srv := &http.Server{
		Addr:              viper.GetString("addr"),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "version", version.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}
	return nil
}

// placeSearcher runs one search.
type placeSearcher interface {
	Search(ctx context.Context, query, locality string, limit int) *mapsleads.Result
}

// server holds the HTTP handlers. Searches are serialized by mu because
// each one drives a whole browser.
type server struct {
	searcher      placeSearcher
	store         *output.CSVStore
	sinks         sink.Multi
	defaultLimit  int
	maxLimit      int
	searchTimeout time.Duration

	mu sync.Mutex
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /maps/search", s.handleSearch)
	mux.HandleFunc("POST /csv/save", s.handleSave)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return logRequests(mux)
}

type messageResponse struct {
	Message string `json:"message"`
	Written *int   `json:"written,omitempty"`
	File    string `json:"file,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("response write failed", "error", err)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, messageResponse{Message: msg})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("query"))
	city := strings.TrimSpace(q.Get("city"))
	if query == "" && city == "" {
		badRequest(w, "query is required")
		return
	}

	limit := s.defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "limit must be a number")
			return
		}
		limit = n
	}
	if s.maxLimit > 0 && limit > s.maxLimit {
		limit = s.maxLimit
	}

	ctx := r.Context()
	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}

	s.mu.Lock()
	res := s.searcher.Search(ctx, query, city, limit)
	s.mu.Unlock()

	if len(s.sinks) > 0 && len(res.Places) > 0 {
		if _, err := s.sinks.Write(context.WithoutCancel(ctx), sink.Batch{Query: searchName(query, city), Places: res.Places}); err != nil {
			logger.Warn("sink write incomplete", "error", err)
		}
	}

	result := res.Places
	if result == nil {
		result = []places.Place{}
	}
	writeJSON(w, http.StatusOK, result)
}

type saveRequest struct {
	Places   []places.Place `json:"places"`
	FileName string         `json:"fileName"`
}

func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20))
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if len(req.Places) == 0 {
		badRequest(w, "places must be a non-empty array")
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		badRequest(w, "fileName is required")
		return
	}
	for _, p := range req.Places {
		if err := p.Validate(); err != nil {
			badRequest(w, err.Error())
			return
		}
	}

	written, err := s.store.Save(req.Places, req.FileName)
	if errors.Is(err, output.ErrInvalidFileName) {
		badRequest(w, "fileName is not usable as a file name")
		return
	}
	if err != nil {
		logger.Error("csv save failed", "file", req.FileName, "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "csv save failed"})
		return
	}

	path, _ := s.store.Path(req.FileName)
	writeJSON(w, http.StatusOK, messageResponse{Message: "csv saved", Written: &written, File: path})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}
