// Package output handles output formatting and writing of place records.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/jmylchreest/mapsleads/pkg/places"
)

// Format represents output format types.
type Format string

const (
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatYAML    Format = "yaml"
	FormatGeoJSON Format = "geojson"
	FormatCSV     Format = "csv"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatJSON, FormatJSONL, FormatYAML, FormatGeoJSON, FormatCSV}
}

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Writer handles output serialization.
type Writer interface {
	// Write outputs a single place.
	Write(p places.Place) error

	// WriteAll outputs multiple places.
	WriteAll(ps []places.Place) error

	// Flush ensures all data is written.
	Flush() error

	// Close releases resources.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty bool
	indent string
	header bool
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// WithHeader controls whether the CSV format starts with a header row.
func WithHeader(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.header = enabled
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty: true,
		indent: "  ",
		header: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return NewJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatGeoJSON:
		return NewGeoJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatCSV:
		return NewCSVWriter(w, cfg.header), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
