package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/sfomuseum/go-csvdict/v2"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

// bom marks new CSV files as UTF-8 for spreadsheet tools.
const bom = "\ufeff"

// CSVColumns is the column order of CSV output.
var CSVColumns = []string{
	"City", "Name", "Category", "Address", "Phone", "Website", "Email",
	"Rating", "Reviews", "Working Hours", "Price Level", "Google Maps URL",
}

func csvRow(p places.Place) []string {
	return []string{
		p.City, p.Name, p.Category, p.Address, p.Phone, p.Website, p.Email,
		p.Rating, p.ReviewsCount, p.WorkingHours, p.PriceLevel, p.GoogleURL,
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// quoteField quotes every value, doubling embedded quotes and collapsing
// whitespace so a record always stays on one line.
func quoteField(v string) string {
	v = strings.TrimSpace(whitespace.ReplaceAllString(v, " "))
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func encodeRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteField(f)
	}
	return strings.Join(quoted, ",") + "\n"
}

// CSVWriter streams places as CSV rows.
type CSVWriter struct {
	w      *bufio.Writer
	header bool
}

// NewCSVWriter creates a CSV writer. The header row is written before the
// first place when header is true.
func NewCSVWriter(w io.Writer, header bool) *CSVWriter {
	return &CSVWriter{
		w:      bufio.NewWriter(w),
		header: header,
	}
}

// Write writes one row.
func (w *CSVWriter) Write(p places.Place) error {
	if w.header {
		if _, err := w.w.WriteString(strings.Join(CSVColumns, ",") + "\n"); err != nil {
			return err
		}
		w.header = false
	}
	_, err := w.w.WriteString(encodeRow(csvRow(p)))
	return err
}

// WriteAll writes one row per place.
func (w *CSVWriter) WriteAll(ps []places.Place) error {
	for _, p := range ps {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the buffer.
func (w *CSVWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes the writer.
func (w *CSVWriter) Close() error {
	return w.Flush()
}

// ErrInvalidFileName is returned when a CSV file name is empty after
// sanitizing.
var ErrInvalidFileName = errors.New("invalid csv file name")

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N} ._-]+`)

// SanitizeFileName turns a free-form name such as a search query into a
// safe base file name without extension.
func SanitizeFileName(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".csv")
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.Trim(whitespace.ReplaceAllString(name, " "), " ._")
	if r := []rune(name); len(r) > 120 {
		name = string(r[:120])
	}
	if name == "" {
		return "", ErrInvalidFileName
	}
	return name, nil
}

// CSVStore appends places to named CSV files in a directory. A place whose
// name already appears in the file is not written again.
type CSVStore struct {
	Dir string

	mu sync.Mutex
}

// NewCSVStore creates a store rooted at dir.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{Dir: dir}
}

// Path returns the file a name is saved to.
func (s *CSVStore) Path(fileName string) (string, error) {
	name, err := SanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, name+".csv"), nil
}

// Save appends ps to the file for fileName and returns how many rows were
// written. New files start with a BOM and the header row. Nothing is
// written when every place is already present.
func (s *CSVStore) Save(ps []places.Place, fileName string) (int, error) {
	path, err := s.Path(fileName)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}

	// An empty file has no header yet and is written like a new one.
	fi, statErr := os.Stat(path)
	exists := statErr == nil && fi.Size() > 0

	seen := make(map[string]bool)
	if exists {
		if seen, err = existingNames(path); err != nil {
			return 0, err
		}
	}

	var rows strings.Builder
	written := 0
	for _, p := range ps {
		name := strings.TrimSpace(p.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		rows.WriteString(encodeRow(csvRow(p)))
		written++
	}
	if written == 0 {
		logger.Debug("csv save skipped, nothing new", "path", path, "places", len(ps))
		return 0, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //#nosec G304 -- sanitized name under Dir
	if err != nil {
		return 0, fmt.Errorf("opening csv file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if !exists {
		if _, err := w.WriteString(bom + strings.Join(CSVColumns, ",") + "\n"); err != nil {
			return 0, err
		}
	}
	if _, err := w.WriteString(rows.String()); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("writing csv file: %w", err)
	}

	logger.Debug("csv saved", "path", path, "written", written, "skipped", len(ps)-written)
	return written, nil
}

// existingNames reads the trimmed Name column of an existing file.
func existingNames(path string) (map[string]bool, error) {
	names := make(map[string]bool)

	r, err := csvdict.NewReaderFromPath(path)
	if errors.Is(err, io.EOF) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv file: %w", err)
	}

	for row, err := range r.Iterate() {
		if err != nil {
			return nil, fmt.Errorf("reading csv file: %w", err)
		}
		if name := strings.TrimSpace(row["Name"]); name != "" {
			names[name] = true
		}
	}
	return names, nil
}
