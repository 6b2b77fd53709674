// Package crawler walks a scroll-loaded map directory feed, opens each new
// entry's detail view, deduplicates records and hands websites to the email
// enrichment worker.
package crawler

import (
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/mapsleads/pkg/extractor"
)

// Selectors locate the parts of the results page the walker drives.
type Selectors struct {
	// Feed is the scrollable results container.
	Feed string `json:"feed" yaml:"feed"`
	// Card is one preview entry; it is clicked to open its detail view.
	Card string `json:"card" yaml:"card"`
	// Title is the detail view heading.
	Title string `json:"title" yaml:"title"`
	// EndOfList is an optional "no more results" marker.
	EndOfList string `json:"end_of_list" yaml:"end_of_list"`
	// Consent is an optional consent dialog accept button.
	Consent string `json:"consent" yaml:"consent"`
}

// Config holds crawler configuration.
type Config struct {
	Selectors Selectors

	// Preview resolves name and address from a card. Detail resolves the
	// full record from the detail view.
	Preview extractor.Config
	Detail  extractor.Config

	// Search URL
	BaseURL  string // e.g. https://www.google.com/maps/search/
	Language string // hl parameter

	// Timeouts
	NavigateTimeout time.Duration // Initial page load and first results
	DetailTimeout   time.Duration // Wait for a detail view to render

	// Feed loading
	SettleDelay    time.Duration // Wait after each scroll
	ScrollDelta    float64       // Wheel fallback distance
	StuckThreshold int           // Consecutive empty cycles before exhaustion

	// Rate limiting
	Jitter Jitter // Pause before opening each detail view
}

// DefaultSelectors returns selectors for Google Maps.
func DefaultSelectors() Selectors {
	return Selectors{
		Feed:      `div[role="feed"]`,
		Card:      `div[role="feed"] div[role="article"]`,
		Title:     "h1.DUwDvf",
		EndOfList: "span.HlvSq",
		Consent:   `form[action*="consent"] button, button[aria-label^="Accept all"], button[aria-label^="Aceptar todo"]`,
	}
}

// DefaultPreviewConfig reads name and address from a feed card.
func DefaultPreviewConfig() extractor.Config {
	return extractor.Config{
		Name: "google-maps-preview",
		Fields: map[string][]extractor.Strategy{
			extractor.FieldName: {
				{Kind: extractor.KindAttr, Attr: "aria-label"},
				{Kind: extractor.KindAttr, Selector: "a.hfpxzc", Attr: "aria-label"},
				{Kind: extractor.KindText, Selector: ".qBF1Pd"},
				{Kind: extractor.KindText, Selector: ".fontHeadlineSmall"},
			},
			// The second info line reads "Category · Address"; keep the last
			// segment that carries a house number.
			extractor.FieldAddress: {
				{Kind: extractor.KindText, Selector: ".W4Efsd .W4Efsd", Pattern: `(?:^|·)\s*([^·]*\d[^·]*?)\s*$`},
			},
		},
	}
}

// DefaultConfig returns sensible crawler defaults.
func DefaultConfig() Config {
	return Config{
		Selectors:       DefaultSelectors(),
		Preview:         DefaultPreviewConfig(),
		Detail:          extractor.DefaultConfig(),
		BaseURL:         "https://www.google.com/maps/search/",
		Language:        "en",
		NavigateTimeout: 30 * time.Second,
		DetailTimeout:   5 * time.Second,
		SettleDelay:     time.Second,
		ScrollDelta:     2000,
		StuckThreshold:  3,
		Jitter:          RandomJitter{Min: 300 * time.Millisecond, Max: 900 * time.Millisecond},
	}
}

// SearchURL builds the results URL for a query and optional locality.
func SearchURL(base, query, locality, lang string) string {
	var terms []string
	for _, s := range []string{query, locality} {
		if s = strings.TrimSpace(s); s != "" {
			terms = append(terms, s)
		}
	}
	if base == "" {
		base = DefaultConfig().BaseURL
	}
	u := strings.TrimSuffix(base, "/") + "/" + url.QueryEscape(strings.Join(terms, " "))
	if lang != "" {
		u += "?hl=" + url.QueryEscape(lang)
	}
	return u
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Selectors.Feed == "" {
		c.Selectors.Feed = def.Selectors.Feed
	}
	if c.Selectors.Card == "" {
		c.Selectors.Card = def.Selectors.Card
	}
	if c.Selectors.Title == "" {
		c.Selectors.Title = def.Selectors.Title
	}
	if len(c.Preview.Fields) == 0 {
		c.Preview = def.Preview
	}
	if len(c.Detail.Fields) == 0 {
		c.Detail = def.Detail
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = def.NavigateTimeout
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = def.DetailTimeout
	}
	if c.ScrollDelta == 0 {
		c.ScrollDelta = def.ScrollDelta
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = def.StuckThreshold
	}
	if c.Jitter == nil {
		c.Jitter = NoJitter{}
	}
	return c
}
