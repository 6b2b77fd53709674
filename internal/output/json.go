package output

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/jmylchreest/mapsleads/pkg/places"
)

// JSONWriter writes places as one JSON array.
type JSONWriter struct {
	w      *bufio.Writer
	pretty bool
	indent string
	items  []places.Place

	written bool
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
		items:  make([]places.Place, 0),
	}
}

// Write buffers a single place for array output.
func (w *JSONWriter) Write(p places.Place) error {
	w.items = append(w.items, p)
	return nil
}

// WriteAll buffers every place.
func (w *JSONWriter) WriteAll(ps []places.Place) error {
	w.items = append(w.items, ps...)
	return nil
}

// Flush writes the buffered places as a JSON array. An empty result is
// written as [] rather than null. Once written, a Flush with nothing new
// buffered writes nothing.
func (w *JSONWriter) Flush() error {
	if w.written && len(w.items) == 0 {
		return w.w.Flush()
	}

	var output []byte
	var err error

	if w.pretty {
		output, err = json.MarshalIndent(w.items, "", w.indent)
	} else {
		output, err = json.Marshal(w.items)
	}
	if err != nil {
		return err
	}

	if _, err := w.w.Write(output); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}

	w.items = w.items[:0]
	w.written = true
	return w.w.Flush()
}

// Close flushes and closes the writer.
func (w *JSONWriter) Close() error {
	return w.Flush()
}

// JSONLWriter writes newline-delimited JSON (JSONL), one place per line.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{
		w: bufio.NewWriter(w),
	}
}

// Write writes a single place as a JSON line.
func (w *JSONLWriter) Write(p places.Place) error {
	output, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if _, err := w.w.Write(output); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}

	return w.w.Flush()
}

// WriteAll writes multiple places as JSON lines.
func (w *JSONLWriter) WriteAll(ps []places.Place) error {
	for _, p := range ps {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the buffer.
func (w *JSONLWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.Flush()
}
