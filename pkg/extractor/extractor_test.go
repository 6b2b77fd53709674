package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/mapsleads/pkg/places"
)

const detailURL = "https://www.google.com/maps/place/Caf%C3%A9+Central/@40.4168,-3.7038,17z/data=!3m1!4b1!8m2!3d40.4169!4d-3.7039?entry=ttu"

const detailHTML = `<html><body>
<div role="main" aria-label="Café Central">
  <h1 class="DUwDvf">Café   Central</h1>
  <button jsaction="pane.rating.category">Coffee shop</button>
  <div class="F7nice">
    <span aria-hidden="true">4,6</span>
    <span aria-label="1,234 reviews">(1,234)</span>
  </div>
  <button data-item-id="address" aria-label="Address: Calle Mayor 1, Madrid"></button>
  <button data-item-id="phone:tel:+34911111111"><div class="Io6YTe">+34 911 11 11 11</div></button>
  <a data-item-id="authority" href="https://www.instagram.com/cafecentral">instagram</a>
  <a href="https://www.facebook.com/cafecentral">facebook</a>
  <table class="eK4R0e">
    <tr><td>Monday</td> <td>8-20</td></tr>
    <tr><td>Tuesday</td> <td>8-20</td></tr>
  </table>
</div>
</body></html>`

func extractHTML(t *testing.T, html, pageURL string) (places.Place, error) {
	t.Helper()
	src, err := NewDocumentSource(strings.NewReader(html), pageURL)
	if err != nil {
		t.Fatalf("NewDocumentSource() error = %v", err)
	}
	return Default().Extract(context.Background(), src)
}

// --- Extract Tests ---

func TestExtract_DetailPane(t *testing.T) {
	p, err := extractHTML(t, detailHTML, detailURL)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"name", p.Name, "Café Central"},
		{"category", p.Category, "Coffee shop"},
		{"address", p.Address, "Calle Mayor 1, Madrid"},
		{"phone", p.Phone, "+34 911 11 11 11"},
		{"rating", p.Rating, "4.6"},
		{"reviews", p.ReviewsCount, "1234"},
		{"latitude", p.Latitude, "40.4169"},
		{"longitude", p.Longitude, "-3.7039"},
		{"website", p.Website, ""},
		{"instagram", p.InstagramURL, "https://www.instagram.com/cafecentral"},
		{"facebook", p.FacebookURL, "https://www.facebook.com/cafecentral"},
		{"claimed", string(p.Claimed), string(places.ClaimClaimed)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}

	if !strings.HasPrefix(p.GoogleURL, "https://www.google.com/maps/place/") || strings.Contains(p.GoogleURL, "?") {
		t.Errorf("GoogleURL = %q, want canonical place URL without query", p.GoogleURL)
	}
	if !strings.Contains(p.WorkingHours, "Monday") || !strings.Contains(p.WorkingHours, " | ") {
		t.Errorf("WorkingHours = %q, want pipe-joined rows", p.WorkingHours)
	}
}

func TestExtract_PlainWebsite(t *testing.T) {
	html := `<div role="main"><h1>Bar Pepe</h1>
		<a data-item-id="authority" href="/url?q=https://barpepe.es/&amp;sa=U">site</a></div>`
	p, err := extractHTML(t, html, "https://www.google.com/maps/search/bar")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if p.Website != "https://barpepe.es/" {
		t.Errorf("Website = %q, want unwrapped redirect target", p.Website)
	}
	if p.HasSocial() {
		t.Errorf("HasSocial() = true, want false")
	}
	if p.Latitude != "" || p.Longitude != "" {
		t.Errorf("coordinates = %q,%q, want empty for a search URL", p.Latitude, p.Longitude)
	}
}

func TestExtract_MissingName(t *testing.T) {
	_, err := extractHTML(t, `<div class="nothing">hello</div>`, "")
	if !errors.Is(err, ErrMissingName) {
		t.Fatalf("Extract() error = %v, want ErrMissingName", err)
	}
}

func TestExtract_ScopedToCard(t *testing.T) {
	html := `<div role="feed">
		<div role="article" aria-label="First"><div class="fontHeadlineSmall">First</div></div>
		<div role="article" aria-label="Second"><div class="fontHeadlineSmall">Second</div></div>
	</div>`
	src, err := NewDocumentSource(strings.NewReader(html), "")
	if err != nil {
		t.Fatalf("NewDocumentSource() error = %v", err)
	}

	fields := map[string][]Strategy{
		FieldName: {{Kind: KindAttr, Attr: "aria-label"}, {Kind: KindText, Selector: ".fontHeadlineSmall"}},
	}
	card := src.Within(src.Doc.Find(`div[role="article"]`).Eq(1))
	snap, err := card.Snapshot(context.Background(), fields)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got := snap[FieldName]; len(got) != 2 || got[0] != "Second" || got[1] != "Second" {
		t.Errorf("Snapshot()[name] = %v, want [Second Second]", got)
	}
}

// --- Resolve Tests ---

func TestChain_Resolve(t *testing.T) {
	chain := Chain{Field: "rating", Strategies: []Strategy{
		{Kind: KindText, Selector: ".a"},
		{Kind: KindText, Selector: ".b", Pattern: `([0-9.]+) stars`},
		{Kind: KindText, Selector: ".c"},
	}}
	cfg := Config{Fields: map[string][]Strategy{FieldName: {{Kind: KindText}}, "rating": chain.Strategies}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	chain.Strategies = cfg.Fields["rating"]

	tests := []struct {
		name       string
		candidates []string
		want       string
		wantIdx    int
		wantErr    bool
	}{
		{"first wins", []string{"4.5", "4.0 stars", "3"}, "4.5", 0, false},
		{"blank falls through", []string{"  ", "4.0 stars", "3"}, "4.0", 1, false},
		{"pattern miss falls through", []string{"", "no rating", "3"}, "3", 2, false},
		{"nothing", []string{"", "", ""}, "", -1, true},
		{"short snapshot", nil, "", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, idx, err := chain.Resolve(tt.candidates)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNoValue) {
				t.Errorf("Resolve() error = %v, want ErrNoValue", err)
			}
			if got != tt.want || idx != tt.wantIdx {
				t.Errorf("Resolve() = (%q, %d), want (%q, %d)", got, idx, tt.want, tt.wantIdx)
			}
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  hello \n\t world  ", "hello world"},
		{" +34 600 000 000", "+34 600 000 000"},
		{"zero\u200bwidth", "zerowidth"},
		{"bell\x07", "bell"},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Config Tests ---

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	for _, field := range Fields {
		if len(cfg.Fields[field]) == 0 {
			t.Errorf("DefaultConfig() has no strategies for %q", field)
		}
	}
}

func TestConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string][]Strategy
	}{
		{"no fields", nil},
		{"no name", map[string][]Strategy{FieldPhone: {{Kind: KindText, Selector: "a"}}}},
		{"unknown kind", map[string][]Strategy{FieldName: {{Kind: "xpath", Selector: "a"}}}},
		{"attr without attr", map[string][]Strategy{FieldName: {{Kind: KindAttr, Selector: "a"}}}},
		{"links without contains", map[string][]Strategy{FieldName: {{Kind: KindLinks}}}},
		{"exists without selector", map[string][]Strategy{FieldName: {{Kind: KindExists}}}},
		{"bad pattern", map[string][]Strategy{FieldName: {{Kind: KindText, Selector: "h1", Pattern: "("}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Fields: tt.fields}
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfig_YAMLOverridesField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	data := `name: custom
fields:
  name:
    - kind: text
      selector: h2.title
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Name != "custom" {
		t.Errorf("Name = %q, want custom", cfg.Name)
	}
	if got := cfg.Fields[FieldName]; len(got) != 1 || got[0].Selector != "h2.title" {
		t.Errorf("Fields[name] = %v, want the override", got)
	}
	if len(cfg.Fields[FieldCategory]) != len(DefaultConfig().Fields[FieldCategory]) {
		t.Errorf("Fields[category] was not kept from the defaults")
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.toml")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() error = nil, want unsupported format")
	}
}

// --- Script Tests ---

func TestBuildScript(t *testing.T) {
	fields := map[string][]Strategy{
		FieldName: {{Kind: KindText, Selector: `h1[data-x="y"]`, Pattern: "ignored"}},
	}
	script, err := BuildScript(fields, `document.querySelectorAll("div[role=article]")[2]`)
	if err != nil {
		t.Fatalf("BuildScript() error = %v", err)
	}
	if !strings.Contains(script, `"kind":"text"`) {
		t.Errorf("script does not carry the strategy table: %s", script)
	}
	if strings.Contains(script, "ignored") {
		t.Errorf("script leaked a Go-side pattern")
	}
	if !strings.HasSuffix(script, `document.querySelectorAll("div[role=article]")[2])`) {
		t.Errorf("script root not applied: %s", script[len(script)-80:])
	}

	whole, err := BuildScript(fields, "")
	if err != nil {
		t.Fatalf("BuildScript() error = %v", err)
	}
	if !strings.HasSuffix(whole, ", document)") {
		t.Errorf("empty root should read the document")
	}
}

func TestBuildListScript(t *testing.T) {
	fields := map[string][]Strategy{FieldName: {{Kind: KindAttr, Attr: "aria-label"}}}
	script, err := BuildListScript(fields, `div[role="feed"] div[role="article"]`, 4)
	if err != nil {
		t.Fatalf("BuildListScript() error = %v", err)
	}
	if !strings.HasPrefix(script, `Array.from(document.querySelectorAll("div[role=\"feed\"] div[role=\"article\"]")).slice(4)`) {
		t.Errorf("unexpected list script prefix: %s", script[:90])
	}
	if !strings.HasSuffix(script, ", el))") {
		t.Errorf("list script should apply the reader to each element")
	}
}
