// Package mapsleads provides the public API for collecting business records
// from a map directory search, with optional contact email enrichment.
package mapsleads

import (
	"time"

	"github.com/jmylchreest/mapsleads/internal/crawler"
	"github.com/jmylchreest/mapsleads/pkg/enrich"
	"github.com/jmylchreest/mapsleads/pkg/extractor"
	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// EnrichMode selects how business websites are fetched for emails.
type EnrichMode string

const (
	// EnrichBrowser renders websites in an isolated context of the crawl
	// browser.
	EnrichBrowser EnrichMode = "browser"
	// EnrichStatic fetches websites over plain HTTP.
	EnrichStatic EnrichMode = "static"
	// EnrichOff disables enrichment.
	EnrichOff EnrichMode = "off"
)

// Config holds all client configuration.
type Config struct {
	// Launcher provides a fresh renderer for every search. Required.
	Launcher renderer.Launcher

	// Crawl settings
	Crawl crawler.Config

	// Enrichment settings
	EnrichMode EnrichMode
	Enrich     enrich.Config
	UserAgent  string

	// Enrichment collaborators
	MemcacheServers []string      // Empty uses an in-process cache
	VerifyMX        bool          // Drop emails whose domain has no MX record
	Resolvers       []string      // DNS servers for VerifyMX
	HostInterval    time.Duration // Minimum gap between requests to one host
	RespectRobots   bool

	observer func(crawler.State, crawler.Stats)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Crawl:         crawler.DefaultConfig(),
		EnrichMode:    EnrichBrowser,
		Enrich:        enrich.DefaultConfig(),
		UserAgent:     fetcher.DefaultUserAgent,
		Resolvers:     enrich.DefaultResolvers,
		HostInterval:  time.Second,
		RespectRobots: true,
	}
}

// Option configures the client.
type Option func(*Config)

// WithLauncher sets the renderer launcher.
func WithLauncher(l renderer.Launcher) Option {
	return func(c *Config) {
		c.Launcher = l
	}
}

// WithCrawlConfig replaces the crawl configuration.
func WithCrawlConfig(cfg crawler.Config) Option {
	return func(c *Config) {
		c.Crawl = cfg
	}
}

// WithLanguage sets the interface language of the search page.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Crawl.Language = lang
	}
}

// WithDetailConfig replaces the detail view extraction strategies.
func WithDetailConfig(cfg extractor.Config) Option {
	return func(c *Config) {
		c.Crawl.Detail = cfg
	}
}

// WithJitter sets the pause before each detail view is opened.
func WithJitter(j crawler.Jitter) Option {
	return func(c *Config) {
		c.Crawl.Jitter = j
	}
}

// WithEnrichMode sets how websites are fetched for emails.
func WithEnrichMode(mode EnrichMode) Option {
	return func(c *Config) {
		c.EnrichMode = mode
	}
}

// WithEnrichConfig replaces the enrichment configuration.
func WithEnrichConfig(cfg enrich.Config) Option {
	return func(c *Config) {
		c.Enrich = cfg
	}
}

// WithMaxConcurrentEnrich caps simultaneous enrichment jobs.
func WithMaxConcurrentEnrich(n int) Option {
	return func(c *Config) {
		c.Enrich.MaxConcurrent = n
	}
}

// WithEnrichTimeout bounds a single enrichment.
func WithEnrichTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Enrich.Timeout = d
	}
}

// WithMaxPageSize truncates fetched websites.
func WithMaxPageSize(n int64) Option {
	return func(c *Config) {
		c.Enrich.MaxBodySize = n
	}
}

// WithUserAgent sets the user agent used for enrichment.
func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithMemcache caches enrichment outcomes in memcached.
func WithMemcache(servers ...string) Option {
	return func(c *Config) {
		c.MemcacheServers = servers
	}
}

// WithVerifyMX enables MX verification of found emails.
func WithVerifyMX(enabled bool, resolvers ...string) Option {
	return func(c *Config) {
		c.VerifyMX = enabled
		if len(resolvers) > 0 {
			c.Resolvers = resolvers
		}
	}
}

// WithPoliteness sets per-host spacing and robots.txt handling.
func WithPoliteness(interval time.Duration, respectRobots bool) Option {
	return func(c *Config) {
		c.HostInterval = interval
		c.RespectRobots = respectRobots
	}
}

// WithObserver is called on every state change of a search.
func WithObserver(fn func(crawler.State, crawler.Stats)) Option {
	return func(c *Config) {
		c.observer = fn
	}
}
