package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

// ErrSkipped is returned when a website is not eligible for enrichment or
// robots.txt forbids fetching it.
var ErrSkipped = errors.New("enrichment skipped")

// Config controls the enrichment worker.
type Config struct {
	// MaxConcurrent caps simultaneously open isolated contexts.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
	// SlotWait is how long TryStart waits for a free slot before skipping.
	// Zero skips at once when the cap is reached.
	SlotWait time.Duration `json:"slot_wait" yaml:"slot_wait" validate:"min=0"`
	// Timeout bounds one enrichment, contact page included.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"min=0"`
	// FollowContact enables the single contact/about page fallback.
	FollowContact bool `json:"follow_contact" yaml:"follow_contact"`
	// MaxBodySize truncates captured pages (bytes).
	MaxBodySize int64 `json:"max_body_size" yaml:"max_body_size" validate:"min=0"`
	// UserAgent is sent by fetchers that support it.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	// CacheTTL is how long outcomes stay cached when a Cache is set.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	// Blacklist rejects false-positive addresses.
	Blacklist Blacklist `json:"blacklist" yaml:"blacklist"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		SlotWait:      5 * time.Second,
		Timeout:       15 * time.Second,
		FollowContact: true,
		MaxBodySize:   2 << 20,
		CacheTTL:      7 * 24 * time.Hour,
		Blacklist:     DefaultBlacklist(),
	}
}

// Option configures a Worker.
type Option func(*Worker)

// WithCache stores outcomes per website.
func WithCache(c Cache) Option {
	return func(w *Worker) {
		w.cache = c
	}
}

// WithMXChecker drops addresses whose domain has no MX record.
func WithMXChecker(m MXChecker) Option {
	return func(w *Worker) {
		w.mx = m
	}
}

// WithPoliteness rate limits hosts and honours robots.txt.
func WithPoliteness(p *Politeness) Option {
	return func(w *Worker) {
		w.polite = p
	}
}

// Worker finds contact emails. Concurrency is capped by a semaphore; a
// caller waits at most SlotWait for a slot, then enrichment is skipped.
type Worker struct {
	cfg     Config
	fetcher fetcher.Fetcher
	sem     chan struct{}
	wg      sync.WaitGroup

	cache  Cache
	mx     MXChecker
	polite *Politeness
}

// New creates a Worker fetching pages through f.
func New(f fetcher.Fetcher, cfg Config, opts ...Option) *Worker {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Blacklist.Contains == nil && cfg.Blacklist.Prefixes == nil && cfg.Blacklist.Suffixes == nil {
		cfg.Blacklist = def.Blacklist
	}

	w := &Worker{
		cfg:     cfg,
		fetcher: f,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Eligible reports whether website can be enriched: a non-empty http(s) URL
// that is not a social profile.
func Eligible(website string) bool {
	website = strings.TrimSpace(website)
	if website == "" || places.IsSocial(website) {
		return false
	}
	u, err := url.Parse(website)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// TryStart begins enrichment of website in the background once a slot is
// free. The returned channel yields exactly one value ("" on failure). It
// reports false when the site is not eligible, or when no slot frees up
// within SlotWait or before ctx is done.
func (w *Worker) TryStart(ctx context.Context, website string) (<-chan string, bool) {
	if !Eligible(website) {
		return nil, false
	}
	if !w.acquire(ctx) {
		logger.Debug("enrichment cap reached, skipping", "website", website, "cap", w.cfg.MaxConcurrent, "waited", w.cfg.SlotWait)
		return nil, false
	}

	out := make(chan string, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		out <- w.Enrich(ctx, website)
		close(out)
	}()
	return out, true
}

// acquire takes a semaphore slot, waiting up to SlotWait.
func (w *Worker) acquire(ctx context.Context) bool {
	select {
	case w.sem <- struct{}{}:
		return true
	default:
	}
	if w.cfg.SlotWait <= 0 {
		return false
	}

	t := time.NewTimer(w.cfg.SlotWait)
	defer t.Stop()
	select {
	case w.sem <- struct{}{}:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until every started enrichment has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Enrich runs a bounded enrichment synchronously and returns the address,
// or "" on any failure.
func (w *Worker) Enrich(ctx context.Context, website string) string {
	email, err := w.Find(ctx, website)
	if err != nil {
		logger.Debug("enrichment failed", "website", website, "error", err)
		return ""
	}
	return email
}

// Find looks for a contact email on website and, failing that, on one
// contact page of the same site. A nil error with an empty result means the
// site was read but had no usable address.
func (w *Worker) Find(ctx context.Context, website string) (string, error) {
	if !Eligible(website) {
		return "", fmt.Errorf("%w: %q", ErrSkipped, website)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	key := cacheKey(website)
	if w.cache != nil {
		if v, err := w.cache.Get(key); err == nil {
			logger.Debug("enrichment cache hit", "website", website)
			return string(v), nil
		}
	}

	page, err := w.fetch(ctx, website)
	if err != nil {
		return "", err
	}
	email := w.pick(ctx, page)

	if email == "" && w.cfg.FollowContact && !places.IsSocial(page.URL) {
		if link, ok := ContactLink(page); ok {
			logger.Debug("trying contact page", "website", website, "contact", link)
			if contact, err := w.fetch(ctx, link); err == nil {
				email = w.pick(ctx, contact)
			} else {
				logger.Debug("contact page failed", "contact", link, "error", err)
			}
		}
	}

	if w.cache != nil {
		if err := w.cache.Set(key, []byte(email), w.cfg.CacheTTL); err != nil {
			logger.Debug("enrichment cache write failed", "website", website, "error", err)
		}
	}
	return email, nil
}

func (w *Worker) fetch(ctx context.Context, target string) (fetcher.Content, error) {
	if w.polite != nil {
		if !w.polite.Allowed(ctx, target) {
			return fetcher.Content{}, fmt.Errorf("%w: disallowed by robots.txt: %s", ErrSkipped, target)
		}
		if err := w.polite.Wait(ctx, target); err != nil {
			return fetcher.Content{}, err
		}
	}

	page, err := w.fetcher.Fetch(ctx, target, fetcher.Options{
		UserAgent:   w.cfg.UserAgent,
		Timeout:     w.cfg.Timeout,
		MaxBodySize: w.cfg.MaxBodySize,
	})
	if err != nil {
		return fetcher.Content{}, err
	}
	logger.Debug("enrichment page fetched",
		"url", page.URL,
		"size", humanize.Bytes(uint64(len(page.HTML))),
		"links", len(page.Links))
	return page, nil
}

// pick returns the first address that survives the blacklist and, when
// configured, the MX check. Lookup errors do not reject an address.
func (w *Worker) pick(ctx context.Context, page fetcher.Content) string {
	for _, email := range FindEmails(page, w.cfg.Blacklist) {
		if w.mx == nil {
			return email
		}
		ok, err := w.mx.HasMX(ctx, domainOf(email))
		if err != nil {
			logger.Debug("mx lookup failed, keeping address", "email", email, "error", err)
			return email
		}
		if ok {
			return email
		}
		logger.Debug("address rejected, no MX", "email", email)
	}
	return ""
}
