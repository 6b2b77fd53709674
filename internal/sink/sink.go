// Package sink persists crawl results to external stores. Sinks are created
// from URIs whose scheme selects the implementation, e.g. csv:///data,
// sqlite:///var/lib/mapsleads.db or redis://localhost:6379/0?stream=places.
package sink

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/aaronland/go-roster"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

// Batch is the result of one search.
type Batch struct {
	// Query names the batch; file-based sinks derive file names from it.
	Query  string
	Places []places.Place
}

// Sink stores batches of places.
type Sink interface {
	// Write stores b and returns how many records were new to the sink.
	Write(ctx context.Context, b Batch) (int, error)
	Close() error
}

var sinkRoster roster.Roster

// InitializationFunc creates a Sink from a URI.
type InitializationFunc func(ctx context.Context, uri string) (Sink, error)

// Register makes a sink available under scheme.
func Register(ctx context.Context, scheme string, init InitializationFunc) error {
	if err := ensureRoster(); err != nil {
		return err
	}
	return sinkRoster.Register(ctx, scheme, init)
}

func ensureRoster() error {
	if sinkRoster == nil {
		r, err := roster.NewDefaultRoster()
		if err != nil {
			return err
		}
		sinkRoster = r
	}
	return nil
}

// New creates the sink registered for uri's scheme.
func New(ctx context.Context, uri string) (Sink, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid sink uri: %w", err)
	}
	if err := ensureRoster(); err != nil {
		return nil, err
	}

	driver, err := sinkRoster.Driver(ctx, u.Scheme)
	if err != nil {
		return nil, fmt.Errorf("unsupported sink %q (known: %s): %w", u.Scheme, strings.Join(Schemes(), ", "), err)
	}
	init := driver.(InitializationFunc)
	return init(ctx, uri)
}

// Schemes returns the registered schemes, sorted.
func Schemes() []string {
	ctx := context.Background()
	schemes := []string{}
	if err := ensureRoster(); err != nil {
		return schemes
	}
	for _, dr := range sinkRoster.Drivers(ctx) {
		schemes = append(schemes, strings.ToLower(dr)+"://")
	}
	sort.Strings(schemes)
	return schemes
}

// Multi writes every batch to several sinks. A failing sink does not stop
// the others; the first error is returned.
type Multi []Sink

// Write implements Sink. The count is the largest reported by any sink.
func (m Multi) Write(ctx context.Context, b Batch) (int, error) {
	var firstErr error
	most := 0
	for _, s := range m {
		n, err := s.Write(ctx, b)
		if err != nil {
			logger.Warn("sink write failed", "sink", fmt.Sprintf("%T", s), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		most = max(most, n)
	}
	return most, firstErr
}

// Close closes every sink.
func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open creates a Multi from several URIs. Sinks opened before a failure
// are closed.
func Open(ctx context.Context, uris ...string) (Multi, error) {
	m := make(Multi, 0, len(uris))
	for _, uri := range uris {
		s, err := New(ctx, uri)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m = append(m, s)
	}
	return m, nil
}

// valid returns the records that pass struct validation.
func valid(ps []places.Place) []places.Place {
	out := make([]places.Place, 0, len(ps))
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			logger.Warn("skipping invalid record", "name", p.Name, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
