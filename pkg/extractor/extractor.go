// Package extractor resolves Place records from rendered pages through
// ordered per-field fallback strategies. The resolver knows nothing about
// selectors: all page knowledge lives in a Config.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/places"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

var (
	// ErrMissingName is returned when no name strategy produced a value.
	ErrMissingName = errors.New("extracted record has no name")
	// ErrNoRoot is returned when a scoped source cannot find its root element.
	ErrNoRoot = errors.New("extraction root not found")
)

// Snapshot holds the raw candidate values of every strategy, keyed by field.
// Candidates are in strategy order.
type Snapshot map[string][]string

// Source produces a Snapshot for a set of strategies.
type Source interface {
	Snapshot(ctx context.Context, fields map[string][]Strategy) (Snapshot, error)
}

// RendererSource reads a snapshot from a live page in a single evaluation.
type RendererSource struct {
	R renderer.Renderer
	// Root is a JavaScript expression for the element to read from. Empty
	// means the whole document.
	Root string
}

// Snapshot implements Source.
func (s RendererSource) Snapshot(ctx context.Context, fields map[string][]Strategy) (Snapshot, error) {
	script, err := BuildScript(fields, s.Root)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := s.R.Evaluate(ctx, script, &snap); err != nil {
		return nil, fmt.Errorf("snapshot evaluation failed: %w", err)
	}
	if snap == nil {
		return nil, ErrNoRoot
	}
	return snap, nil
}

// Report records which strategy won each resolved field.
type Report map[string]string

// Fields returns the resolved field names in sorted order.
func (r Report) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extractor turns snapshots into Place records.
type Extractor struct {
	cfg    Config
	chains map[string]Chain
}

// New validates cfg and builds an Extractor.
func New(cfg Config) (*Extractor, error) {
	cfg = Config{}.Merge(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chains := make(map[string]Chain, len(cfg.Fields))
	for field, strategies := range cfg.Fields {
		chains[field] = Chain{Field: field, Strategies: strategies}
	}
	return &Extractor{cfg: cfg, chains: chains}, nil
}

// Default returns an Extractor over DefaultConfig.
func Default() *Extractor {
	e, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("extractor: default config invalid: %v", err))
	}
	return e
}

// Config returns the validated configuration in use.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract snapshots src and resolves a record from it.
func (e *Extractor) Extract(ctx context.Context, src Source) (places.Place, error) {
	snap, err := src.Snapshot(ctx, e.cfg.Fields)
	if err != nil {
		return places.Place{}, err
	}
	p, report, err := e.Resolve(snap)
	if err != nil {
		return places.Place{}, err
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		for _, field := range report.Fields() {
			logger.Debug("field resolved", "field", field, "strategy", report[field])
		}
	}
	return p, nil
}

// Resolve applies every chain to snap. Missing optional fields are left
// empty; only a missing name is an error.
func (e *Extractor) Resolve(snap Snapshot) (places.Place, Report, error) {
	values := make(map[string]string, len(e.chains))
	report := make(Report, len(e.chains))

	for field, chain := range e.chains {
		v, idx, err := chain.Resolve(snap[field])
		if err != nil {
			continue
		}
		values[field] = v
		report[field] = chain.Strategies[idx].String()
	}

	p := assemble(values)
	if !p.Valid() {
		return places.Place{}, report, ErrMissingName
	}
	return p, report, nil
}

func assemble(v map[string]string) places.Place {
	p := places.Place{
		Name:         v[FieldName],
		Category:     v[FieldCategory],
		Address:      v[FieldAddress],
		Phone:        strings.TrimSpace(strings.TrimPrefix(v[FieldPhone], "tel:")),
		Rating:       normalizeRating(v[FieldRating]),
		ReviewsCount: digitsOnly(v[FieldReviews]),
		PriceLevel:   v[FieldPriceLevel],
		Latitude:     coordinate(v[FieldLatitude], 90),
		Longitude:    coordinate(v[FieldLongitude], 180),
		GoogleURL:    v[FieldGoogleURL],
		Claimed:      places.ParseClaimStatus(v[FieldClaimed]),
		Attributes:   v[FieldAttributes],
		TopReview:    v[FieldTopReview],
		WorkingHours: v[FieldWorkingHours],
		ImageURL:     v[FieldImageURL],
	}

	// The primary external link may itself be a social profile.
	p.AssignLink(v[FieldWebsite])

	for _, field := range []string{FieldFacebook, FieldInstagram, FieldWhatsApp} {
		if link := v[field]; places.IsSocial(link) {
			p.AssignLink(link)
		}
	}
	return p
}

func normalizeRating(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return ""
	}
	return s
}

func coordinate(s string, limit float64) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < -limit || f > limit {
		return ""
	}
	return strings.TrimSpace(s)
}
