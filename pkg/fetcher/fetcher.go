// Package fetcher defines the interface for fetching a single web page.
// The email enrichment worker depends on it; implement Fetcher to plug in a
// different transport (plain HTTP, an isolated browser tab, a proxy).
package fetcher

import (
	"context"
	"errors"
	"time"
)

// Fetcher abstracts page fetching strategies.
type Fetcher interface {
	// Fetch retrieves page content from a URL.
	Fetch(ctx context.Context, url string, opts Options) (Content, error)

	// Close releases any resources (browser pages, etc.).
	Close() error

	// Type returns a string identifying the fetcher type (e.g., "static", "browser").
	Type() string
}

// Options controls fetching behavior.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	WaitDuration time.Duration // Additional settle time after load (browser fetchers)
	MaxBodySize  int64         // Bytes; 0 means the fetcher default
	Headers      map[string]string
}

// Link is an anchor found on a page.
type Link struct {
	URL  string
	Text string
}

// Content represents fetched page data.
type Content struct {
	URL         string // Final URL after redirects
	HTML        string
	Text        string // Visible text with scripts and styles removed
	Title       string
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
	Links       []Link
}

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, fetcher.ErrAntiBot).
var (
	// ErrAntiBot indicates the site refused automated access (403, 429, challenge page).
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrNotHTML indicates the response is not an HTML document.
	ErrNotHTML = errors.New("response is not HTML")
)
