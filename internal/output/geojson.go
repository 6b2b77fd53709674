package output

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

// GeoJSONWriter writes places as a FeatureCollection of points. Places
// without usable coordinates are left out.
type GeoJSONWriter struct {
	w       *bufio.Writer
	pretty  bool
	indent  string
	fc      *geojson.FeatureCollection
	skipped int
}

// NewGeoJSONWriter creates a GeoJSON writer.
func NewGeoJSONWriter(w io.Writer, pretty bool, indent string) *GeoJSONWriter {
	return &GeoJSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
		fc:     geojson.NewFeatureCollection(),
	}
}

// Write adds a place as a point feature.
func (w *GeoJSONWriter) Write(p places.Place) error {
	f, ok := Feature(p)
	if !ok {
		w.skipped++
		logger.Debug("place has no coordinates, left out of geojson", "name", p.Name)
		return nil
	}
	w.fc.Append(f)
	return nil
}

// WriteAll adds every place.
func (w *GeoJSONWriter) WriteAll(ps []places.Place) error {
	for _, p := range ps {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Skipped returns how many places had no coordinates.
func (w *GeoJSONWriter) Skipped() int {
	return w.skipped
}

// Flush writes the collection.
func (w *GeoJSONWriter) Flush() error {
	if w.fc == nil {
		return w.w.Flush()
	}

	var output []byte
	var err error
	if w.pretty {
		output, err = json.MarshalIndent(w.fc, "", w.indent)
	} else {
		output, err = w.fc.MarshalJSON()
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

	w.fc = nil
	return w.w.Flush()
}

// Close flushes the writer.
func (w *GeoJSONWriter) Close() error {
	return w.Flush()
}

// Feature converts a place to a point feature. It reports false when the
// place has no parseable coordinates.
func Feature(p places.Place) (*geojson.Feature, bool) {
	lat, err := strconv.ParseFloat(p.Latitude, 64)
	if err != nil {
		return nil, false
	}
	lon, err := strconv.ParseFloat(p.Longitude, 64)
	if err != nil {
		return nil, false
	}

	f := geojson.NewFeature(orb.Point{lon, lat})
	f.Properties["name"] = p.Name
	set := func(k, v string) {
		if v != "" {
			f.Properties[k] = v
		}
	}
	set("city", p.City)
	set("category", p.Category)
	set("address", p.Address)
	set("phone", p.Phone)
	set("website", p.Website)
	set("email", p.Email)
	set("facebook_url", p.FacebookURL)
	set("instagram_url", p.InstagramURL)
	set("whatsapp_url", p.WhatsAppURL)
	set("rating", p.Rating)
	set("reviews_count", p.ReviewsCount)
	set("google_url", p.GoogleURL)
	if p.Claimed != places.ClaimUnknown {
		f.Properties["claimed"] = p.Claimed.String()
	}
	return f, true
}
