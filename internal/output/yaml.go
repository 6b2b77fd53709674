package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/mapsleads/pkg/places"
)

// YAMLWriter writes places as a YAML sequence.
type YAMLWriter struct {
	w     *bufio.Writer
	items []places.Place

	written bool
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{
		w:     bufio.NewWriter(w),
		items: make([]places.Place, 0),
	}
}

// Write buffers a single place.
func (w *YAMLWriter) Write(p places.Place) error {
	w.items = append(w.items, p)
	return nil
}

// WriteAll buffers multiple places.
func (w *YAMLWriter) WriteAll(ps []places.Place) error {
	w.items = append(w.items, ps...)
	return nil
}

// Flush writes the buffered places as YAML.
func (w *YAMLWriter) Flush() error {
	if w.written && len(w.items) == 0 {
		return w.w.Flush()
	}

	encoder := yaml.NewEncoder(w.w)
	encoder.SetIndent(2)

	if err := encoder.Encode(w.items); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	w.items = w.items[:0]
	w.written = true
	return w.w.Flush()
}

// Close flushes and closes the writer.
func (w *YAMLWriter) Close() error {
	return w.Flush()
}
