package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Kind selects how a Strategy reads its value.
type Kind string

const (
	// KindText reads the text content of the first match.
	KindText Kind = "text"
	// KindAttr reads an attribute of the first match. href and src are resolved to absolute URLs.
	KindAttr Kind = "attr"
	// KindAll joins the text (or Attr) of every match with Separator.
	KindAll Kind = "all"
	// KindExists yields Value when the selector matches anything.
	KindExists Kind = "exists"
	// KindLinks scans anchors (Selector, default a[href]) for an href containing Contains.
	KindLinks Kind = "links"
	// KindURL reads the current page URL.
	KindURL Kind = "url"
)

// Field names understood by the Extractor.
const (
	FieldName         = "name"
	FieldCategory     = "category"
	FieldAddress      = "address"
	FieldPhone        = "phone"
	FieldWebsite      = "website"
	FieldFacebook     = "facebook"
	FieldInstagram    = "instagram"
	FieldWhatsApp     = "whatsapp"
	FieldRating       = "rating"
	FieldReviews      = "reviews"
	FieldPriceLevel   = "price_level"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldGoogleURL    = "google_url"
	FieldClaimed      = "claimed"
	FieldAttributes   = "attributes"
	FieldTopReview    = "top_review"
	FieldWorkingHours = "working_hours"
	FieldImageURL     = "image_url"
)

// Fields lists every field the Extractor assigns, in resolution order.
var Fields = []string{
	FieldName, FieldCategory, FieldAddress, FieldPhone, FieldWebsite,
	FieldFacebook, FieldInstagram, FieldWhatsApp, FieldRating, FieldReviews,
	FieldPriceLevel, FieldLatitude, FieldLongitude, FieldGoogleURL,
	FieldClaimed, FieldAttributes, FieldTopReview, FieldWorkingHours, FieldImageURL,
}

// Strategy is one way of reading a field from a rendered page.
type Strategy struct {
	Kind      Kind   `json:"kind" yaml:"kind" validate:"required,oneof=text attr all exists links url"`
	Selector  string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Attr      string `json:"attr,omitempty" yaml:"attr,omitempty" validate:"required_if=Kind attr"`
	Contains  string `json:"contains,omitempty" yaml:"contains,omitempty" validate:"required_if=Kind links"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`

	re *regexp.Regexp
}

// String identifies the strategy in logs and errors.
func (s Strategy) String() string {
	switch {
	case s.Kind == KindURL:
		return "url"
	case s.Kind == KindLinks:
		return "links:" + s.Contains
	case s.Attr != "":
		return fmt.Sprintf("%s:%s@%s", s.Kind, s.Selector, s.Attr)
	default:
		return fmt.Sprintf("%s:%s", s.Kind, s.Selector)
	}
}

// Config maps field names to ordered extraction strategies.
type Config struct {
	Name   string                `json:"name,omitempty" yaml:"name,omitempty"`
	Fields map[string][]Strategy `json:"fields" yaml:"fields" validate:"required,min=1,dive,keys,required,endkeys,min=1,dive"`
}

var validate = validator.New()

// ErrInvalidConfig is returned when a strategy configuration does not validate.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Validate checks the configuration and compiles every Pattern.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.Fields[FieldName]) == 0 {
		return fmt.Errorf("%w: field %q needs at least one strategy", ErrInvalidConfig, FieldName)
	}
	for field, strategies := range c.Fields {
		for i := range strategies {
			s := &strategies[i]
			if (s.Kind == KindAll || s.Kind == KindExists) && strings.TrimSpace(s.Selector) == "" {
				return fmt.Errorf("%w: %s[%d]: selector required for %s", ErrInvalidConfig, field, i, s.Kind)
			}
			if s.Pattern == "" {
				s.re = nil
				continue
			}
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				return fmt.Errorf("%w: %s[%d]: %v", ErrInvalidConfig, field, i, err)
			}
			s.re = re
		}
	}
	return nil
}

// Merge overlays other onto c: fields present in other replace c's strategies.
func (c Config) Merge(other Config) Config {
	merged := Config{Name: c.Name, Fields: make(map[string][]Strategy, len(c.Fields))}
	if other.Name != "" {
		merged.Name = other.Name
	}
	for k, v := range c.Fields {
		merged.Fields[k] = append([]Strategy(nil), v...)
	}
	for k, v := range other.Fields {
		merged.Fields[k] = append([]Strategy(nil), v...)
	}
	return merged
}

// LoadConfig reads a JSON or YAML strategy file. Fields it names replace the
// defaults; fields it omits keep their default strategies.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user supplied strategy file
	if err != nil {
		return Config{}, fmt.Errorf("failed to read strategy file: %w", err)
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse JSON strategies: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML strategies: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported strategy file format: %s", filepath.Ext(path))
	}

	merged := DefaultConfig().Merge(c)
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	return merged, nil
}

func text(sel string) Strategy {
	return Strategy{Kind: KindText, Selector: sel}
}

func attr(sel, a string) Strategy {
	return Strategy{Kind: KindAttr, Selector: sel, Attr: a}
}

func links(contains string) Strategy {
	return Strategy{Kind: KindLinks, Selector: `div[role="main"] a[href]`, Contains: contains}
}

func fromURL(pattern string) Strategy {
	return Strategy{Kind: KindURL, Pattern: pattern}
}

func withPattern(s Strategy, pattern string) Strategy {
	s.Pattern = pattern
	return s
}

// DefaultConfig returns strategies for the Google Maps detail pane.
func DefaultConfig() Config {
	return Config{
		Name: "google-maps",
		Fields: map[string][]Strategy{
			FieldName: {
				text("h1.DUwDvf"),
				text(`div[role="main"] h1`),
				attr(`div[role="main"][aria-label]`, "aria-label"),
			},
			FieldCategory: {
				text(`button[jsaction*="pane.rating.category"]`),
				text(`button[jsaction*="category"]`),
				text("span.DkEaL"),
			},
			FieldAddress: {
				text(`button[data-item-id="address"] .Io6YTe`),
				withPattern(attr(`button[data-item-id="address"]`, "aria-label"), `^[^:]+:\s*(.+)$`),
				text(`button[data-item-id="address"]`),
			},
			FieldPhone: {
				text(`button[data-item-id^="phone"] .Io6YTe`),
				withPattern(attr(`button[data-item-id^="phone:tel:"]`, "data-item-id"), `^phone:tel:(.+)$`),
				withPattern(attr(`a[href^="tel:"]`, "href"), `^tel:(.+)$`),
				text(`button[data-item-id^="phone"]`),
			},
			FieldWebsite: {
				attr(`a[data-item-id="authority"]`, "href"),
				attr(`a[data-item-id="website"]`, "href"),
				attr(`a[aria-label^="Website"]`, "href"),
				attr(`a[data-tooltip="Open website"]`, "href"),
			},
			FieldFacebook:  {links("facebook.com")},
			FieldInstagram: {links("instagram.com")},
			FieldWhatsApp:  {links("wa.me/"), links("whatsapp.com")},
			FieldRating: {
				withPattern(text(`div.F7nice span[aria-hidden="true"]`), `([0-9]+(?:[.,][0-9]+)?)`),
				withPattern(attr(`div.F7nice span[role="img"]`, "aria-label"), `([0-9]+(?:[.,][0-9]+)?)`),
			},
			FieldReviews: {
				withPattern(attr(`div.F7nice span[aria-label*="review"]`, "aria-label"), `([0-9][0-9.,\s]*)`),
				withPattern(text(`div.F7nice span[aria-label*="review"]`), `([0-9][0-9.,]*)`),
				withPattern(attr(`div.F7nice span[aria-label*="reseña"]`, "aria-label"), `([0-9][0-9.,\s]*)`),
			},
			FieldPriceLevel: {
				text(`span.mgr77e span[aria-label]`),
				withPattern(attr(`span[aria-label^="Price"]`, "aria-label"), `^[^:]+:\s*(.+)$`),
			},
			FieldLatitude: {
				fromURL(`!3d(-?[0-9]+\.[0-9]+)`),
				fromURL(`@(-?[0-9]+\.[0-9]+),-?[0-9]+\.[0-9]+`),
			},
			FieldLongitude: {
				fromURL(`!4d(-?[0-9]+\.[0-9]+)`),
				fromURL(`@-?[0-9]+\.[0-9]+,(-?[0-9]+\.[0-9]+)`),
			},
			FieldGoogleURL: {fromURL(`^(https://[^?#]*/maps/place/[^?#]+)`), fromURL("")},
			FieldClaimed: {
				{Kind: KindExists, Selector: `a[data-item-id="merchant"]`, Value: "unclaimed"},
				{Kind: KindExists, Selector: `[aria-label*="Claim this business"]`, Value: "unclaimed"},
				{Kind: KindExists, Selector: `div[role="main"] button[data-item-id]`, Value: "claimed"},
			},
			FieldAttributes: {
				{Kind: KindAll, Selector: `div.iP2t7d li span[aria-label]`, Attr: "aria-label", Separator: " | "},
				{Kind: KindAll, Selector: `div.LTs0Rc[aria-label]`, Attr: "aria-label", Separator: " | "},
			},
			FieldTopReview: {
				text("div.MyEned span.wiI7pd"),
				text("span.wiI7pd"),
			},
			FieldWorkingHours: {
				{Kind: KindAll, Selector: "table.eK4R0e tr", Separator: " | "},
				withPattern(attr(`div.t39EBf[aria-label]`, "aria-label"), `^(.+?)\.?\s*(?:Hide open hours.*)?$`),
				attr(`div[jsaction*="openhours"][aria-label]`, "aria-label"),
			},
			FieldImageURL: {
				attr(`button[jsaction*="heroHeaderImage"] img`, "src"),
				attr("div.RZ66Rb img", "src"),
			},
		},
	}
}
