package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/mapsleads/pkg/places"
)

func samplePlaces() []places.Place {
	return []places.Place{
		{
			Name:      "Café Central",
			City:      "Madrid",
			Address:   "Plaza Mayor 1",
			Website:   "https://cafecentral.test",
			Email:     "hola@cafecentral.test",
			Rating:    "4.5",
			Latitude:  "40.4155",
			Longitude: "-3.7074",
			Claimed:   places.ClaimClaimed,
		},
		{
			Name:    "Bar Sur",
			City:    "Madrid",
			Address: "Calle Sur 9",
		},
	}
}

// --- NewWriter Factory Tests ---

func TestNewWriter_Formats(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatJSON, "*output.JSONWriter"},
		{FormatJSONL, "*output.JSONLWriter"},
		{FormatYAML, "*output.YAMLWriter"},
		{FormatGeoJSON, "*output.GeoJSONWriter"},
		{FormatCSV, "*output.CSVWriter"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			w, err := NewWriter(&bytes.Buffer{}, tt.format)
			if err != nil {
				t.Fatalf("NewWriter() error = %v", err)
			}
			if got := fmt.Sprintf("%T", w); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewWriter_UnsupportedFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, Format("unsupported"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}

	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected error containing 'unsupported', got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(" GeoJSON "); err != nil || f != FormatGeoJSON {
		t.Errorf("ParseFormat() = %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

// --- JSONWriter Tests ---

func TestJSONWriter_SingleItemIsArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "  ")

	if err := w.Write(samplePlaces()[0]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var result []places.Place
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(result) != 1 || result[0].Name != "Café Central" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result[0].Claimed != places.ClaimClaimed {
		t.Errorf("expected claimed status to round-trip, got %q", result[0].Claimed)
	}
}

func TestJSONWriter_EmptyIsEmptyArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("expected [], got %q", got)
	}
}

func TestJSONWriter_FlushThenClose(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")

	if err := w.WriteAll(samplePlaces()); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Errorf("Close() after Flush() should not write again, got %d lines", len(lines))
	}
}

func TestJSONWriter_Flush_Compact(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")

	if err := w.WriteAll(samplePlaces()); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if strings.Contains(strings.TrimSpace(buf.String()), "\n") {
		t.Error("expected single line in compact output")
	}
	if strings.Contains(buf.String(), `"facebook_url"`) {
		t.Error("empty fields should be omitted")
	}
}

func TestJSONWriter_Flush_CustomIndent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "\t")

	if err := w.Write(samplePlaces()[1]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if !strings.Contains(buf.String(), "\t") {
		t.Errorf("expected tab indentation, got %q", buf.String())
	}
}

// --- JSONLWriter Tests ---

func TestJSONLWriter_SeparateLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONLWriter(buf)

	if err := w.WriteAll(samplePlaces()); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	for i, line := range lines {
		var p places.Place
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

// --- YAMLWriter Tests ---

func TestYAMLWriter_WriteAll(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewYAMLWriter(buf)

	if err := w.WriteAll(samplePlaces()); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var result []places.Place
	if err := yaml.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result))
	}
	if result[0].Address != "Plaza Mayor 1" {
		t.Errorf("unexpected address %q", result[0].Address)
	}
}

// --- GeoJSONWriter Tests ---

func TestGeoJSONWriter_SkipsPlacesWithoutCoordinates(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewGeoJSONWriter(buf, false, "")

	if err := w.WriteAll(samplePlaces()); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	if err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	if w.Skipped() != 1 {
		t.Errorf("expected 1 skipped place, got %d", w.Skipped())
	}

	pt, ok := fc.Features[0].Geometry.(orb.Point)
	if !ok {
		t.Fatalf("expected point geometry, got %T", fc.Features[0].Geometry)
	}
	if pt.Lon() != -3.7074 || pt.Lat() != 40.4155 {
		t.Errorf("unexpected point %v", pt)
	}
	if fc.Features[0].Properties["name"] != "Café Central" {
		t.Errorf("unexpected properties %v", fc.Features[0].Properties)
	}
	if fc.Features[0].Properties["claimed"] != "claimed" {
		t.Errorf("expected claimed property, got %v", fc.Features[0].Properties["claimed"])
	}
}

// --- CSV Tests ---

func TestCSVWriter_QuotesEveryField(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewCSVWriter(buf, true)

	p := places.Place{Name: `Bar "El Sur"`, Address: "Calle\n  Sur 9"}
	if err := w.Write(p); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", buf.String())
	}
	if lines[0] != strings.Join(CSVColumns, ",") {
		t.Errorf("unexpected header %q", lines[0])
	}
	want := `"","Bar ""El Sur""","","Calle Sur 9","","","","","","","",""`
	if lines[1] != want {
		t.Errorf("row = %q, want %q", lines[1], want)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"restaurantes en Valencia", "restaurantes en Valencia"},
		{"../../etc/passwd", "etc_passwd"},
		{"cafés: Madrid?.csv", "cafés_ Madrid"},
	}
	for _, tt := range tests {
		got, err := SanitizeFileName(tt.in)
		if err != nil {
			t.Errorf("SanitizeFileName(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := SanitizeFileName(" /// "); !errors.Is(err, ErrInvalidFileName) {
		t.Errorf("expected ErrInvalidFileName, got %v", err)
	}
}

func TestCSVStore_CreateThenAppend(t *testing.T) {
	dir := t.TempDir()
	store := NewCSVStore(dir)

	n, err := store.Save(samplePlaces(), "bares madrid")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows written, got %d", n)
	}

	more := []places.Place{
		{Name: " Bar Sur "},
		{Name: "Taberna Norte"},
		{Name: "Taberna Norte"},
		{Name: ""},
	}
	n, err = store.Save(more, "bares madrid")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the new name to be written, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, "bares madrid.csv"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "\ufeffCity,Name,") {
		t.Errorf("expected BOM and header, got %q", content[:min(len(content), 30)])
	}
	if strings.Count(content, "\ufeff") != 1 {
		t.Error("BOM should only be written once")
	}
	if lines := strings.Count(content, "\n"); lines != 4 {
		t.Errorf("expected header and 3 rows, got %d lines", lines)
	}
}

func TestCSVStore_NothingNew(t *testing.T) {
	dir := t.TempDir()
	store := NewCSVStore(dir)

	n, err := store.Save(nil, "empty")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "empty.csv")); !os.IsNotExist(err) {
		t.Error("no file should be created for an empty batch")
	}
}

func TestCSVStore_EmptyFileGetsHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewCSVStore(dir)

	if _, err := store.Save(samplePlaces(), "empty"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	n, err := store.Save(samplePlaces(), "empty")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 0 {
		t.Errorf("expected names to be deduplicated on the second save, got %d rows", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "\ufeffCity,Name,") {
		t.Errorf("expected BOM and header, got %q", string(data)[:min(len(data), 30)])
	}
}
