package mapsleads

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jmylchreest/mapsleads/internal/crawler"
	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/enrich"
	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/places"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// ErrNoLauncher is returned by New when no renderer launcher was configured.
var ErrNoLauncher = errors.New("no renderer launcher configured")

// Version returns the module version of the mapsleads library.
// Returns "(devel)" when built from source without version info.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "(unknown)"
}

// Result is the outcome of one search.
type Result struct {
	Query    string
	Locality string
	Places   []places.Place
	State    crawler.State
	Stats    crawler.Stats
	// Err is the cause of an aborted search. Places still holds every
	// record captured before it.
	Err error
}

// Client runs searches. A Client may be shared; every search gets its own
// renderer and enrichment worker while cache, MX checker and politeness
// state are shared.
type Client struct {
	config     Config
	controller *crawler.Controller

	static *fetcher.StaticFetcher
	cache  enrich.Cache
	mx     enrich.MXChecker
	polite *enrich.Politeness
}

// New creates a new Client.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Launcher == nil {
		return nil, ErrNoLauncher
	}
	if cfg.Enrich.UserAgent == "" {
		cfg.Enrich.UserAgent = cfg.UserAgent
	}

	c := &Client{config: cfg}

	var copts []crawler.Option
	switch cfg.EnrichMode {
	case EnrichOff:
	case EnrichBrowser, EnrichStatic, "":
		c.initEnrichment()
		copts = append(copts, crawler.WithEnricher(c.enricher))
	default:
		return nil, fmt.Errorf("unknown enrich mode: %s (use browser, static, or off)", cfg.EnrichMode)
	}
	if cfg.observer != nil {
		copts = append(copts, crawler.WithObserver(cfg.observer))
	}

	ctrl, err := crawler.New(cfg.Launcher, cfg.Crawl, copts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create crawler: %w", err)
	}
	c.controller = ctrl
	return c, nil
}

func (c *Client) initEnrichment() {
	cfg := c.config

	if len(cfg.MemcacheServers) > 0 {
		mc := enrich.NewMemcacheCache(cfg.MemcacheServers...)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcache unavailable, using in-process cache", "servers", cfg.MemcacheServers, "error", err)
			c.cache = enrich.NewMemoryCache()
		} else {
			c.cache = mc
		}
	} else {
		c.cache = enrich.NewMemoryCache()
	}

	if cfg.VerifyMX {
		c.mx = enrich.NewDNSChecker(3*time.Second, cfg.Resolvers...)
	}
	c.polite = enrich.NewPoliteness(cfg.HostInterval, cfg.UserAgent, cfg.RespectRobots)

	if cfg.EnrichMode == EnrichStatic {
		c.static = fetcher.NewStatic(fetcher.StaticConfig{
			UserAgent:   cfg.UserAgent,
			Timeout:     cfg.Enrich.Timeout,
			MaxBodySize: cfg.Enrich.MaxBodySize,
		})
	}
}

// enricher builds the worker for one search.
func (c *Client) enricher(r renderer.Renderer) crawler.Enricher {
	var f fetcher.Fetcher = &enrich.RendererFetcher{Parent: r, Settle: 500 * time.Millisecond}
	if c.static != nil {
		f = c.static
	}

	opts := []enrich.Option{enrich.WithCache(c.cache), enrich.WithPoliteness(c.polite)}
	if c.mx != nil {
		opts = append(opts, enrich.WithMXChecker(c.mx))
	}
	return enrich.New(f, c.config.Enrich, opts...)
}

// GetPlaces searches for query near locality and returns up to limit
// records. It never fails: problems only shorten the result.
func (c *Client) GetPlaces(ctx context.Context, query, locality string, limit int) []places.Place {
	return c.controller.GetPlaces(ctx, query, locality, limit)
}

// Search is GetPlaces with the terminal state and statistics.
func (c *Client) Search(ctx context.Context, query, locality string, limit int) *Result {
	res := c.controller.Run(ctx, crawler.Request{Query: query, Locality: locality, Limit: limit})
	return &Result{
		Query:    query,
		Locality: locality,
		Places:   res.Places,
		State:    res.State,
		Stats:    res.Stats,
		Err:      res.Err,
	}
}

// Close releases all resources.
func (c *Client) Close() error {
	if c.static != nil {
		return c.static.Close()
	}
	return nil
}

// EnrichMode returns the configured enrichment mode.
func (c *Client) EnrichMode() EnrichMode {
	return c.config.EnrichMode
}
