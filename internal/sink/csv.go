package sink

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jmylchreest/mapsleads/internal/output"
)

func init() {
	ctx := context.Background()
	if err := Register(ctx, "csv", NewCSVSink); err != nil {
		panic(err)
	}
}

// CSVSink appends batches to one CSV file per query inside a directory.
type CSVSink struct {
	store *output.CSVStore
}

// NewCSVSink creates a CSVSink from a URI such as csv:///var/lib/leads or
// csv://leads (relative directory).
func NewCSVSink(ctx context.Context, uri string) (Sink, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	dir := u.Host + u.Path
	if dir == "" {
		return nil, fmt.Errorf("csv sink needs a directory: %s", uri)
	}
	return &CSVSink{store: output.NewCSVStore(dir)}, nil
}

// Write implements Sink.
func (s *CSVSink) Write(ctx context.Context, b Batch) (int, error) {
	return s.store.Save(valid(b.Places), b.Query)
}

// Close implements Sink.
func (s *CSVSink) Close() error {
	return nil
}
