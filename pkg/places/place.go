// Package places defines the business record produced by a crawl session and
// the identity rules used to deduplicate records.
package places

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ClaimStatus is the tri-state ownership flag shown on a detail view.
type ClaimStatus string

const (
	ClaimUnknown   ClaimStatus = ""
	ClaimClaimed   ClaimStatus = "claimed"
	ClaimUnclaimed ClaimStatus = "unclaimed"
)

// ParseClaimStatus maps an extracted marker to a ClaimStatus.
func ParseClaimStatus(s string) ClaimStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claimed", "true", "yes":
		return ClaimClaimed
	case "unclaimed", "false", "no":
		return ClaimUnclaimed
	default:
		return ClaimUnknown
	}
}

// String returns "unknown" for the zero value.
func (c ClaimStatus) String() string {
	if c == ClaimUnknown {
		return "unknown"
	}
	return string(c)
}

// Place is a single business record. Only Name is mandatory.
type Place struct {
	Name         string      `json:"name" yaml:"name" validate:"required"`
	City         string      `json:"city,omitempty" yaml:"city,omitempty"`
	Category     string      `json:"category,omitempty" yaml:"category,omitempty"`
	Address      string      `json:"address,omitempty" yaml:"address,omitempty"`
	Phone        string      `json:"phone,omitempty" yaml:"phone,omitempty"`
	Website      string      `json:"website,omitempty" yaml:"website,omitempty"`
	FacebookURL  string      `json:"facebook_url,omitempty" yaml:"facebook_url,omitempty"`
	InstagramURL string      `json:"instagram_url,omitempty" yaml:"instagram_url,omitempty"`
	WhatsAppURL  string      `json:"whatsapp_url,omitempty" yaml:"whatsapp_url,omitempty"`
	Email        string      `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	Rating       string      `json:"rating,omitempty" yaml:"rating,omitempty" validate:"omitempty,numeric"`
	ReviewsCount string      `json:"reviews_count,omitempty" yaml:"reviews_count,omitempty" validate:"omitempty,number"`
	PriceLevel   string      `json:"price_level,omitempty" yaml:"price_level,omitempty"`
	Latitude     string      `json:"latitude,omitempty" yaml:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude    string      `json:"longitude,omitempty" yaml:"longitude,omitempty" validate:"omitempty,longitude"`
	GoogleURL    string      `json:"google_url,omitempty" yaml:"google_url,omitempty"`
	Claimed      ClaimStatus `json:"claimed,omitempty" yaml:"claimed,omitempty"`
	Attributes   string      `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	TopReview    string      `json:"top_review,omitempty" yaml:"top_review,omitempty"`
	WorkingHours string      `json:"working_hours,omitempty" yaml:"working_hours,omitempty"`
	ImageURL     string      `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

var validate = validator.New()

// Valid reports whether the record may enter a result sequence.
func (p Place) Valid() bool {
	return strings.TrimSpace(p.Name) != ""
}

// Validate runs the struct validation rules. It is stricter than Valid and is
// used on records arriving from outside a crawl (HTTP payloads, sinks).
func (p Place) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid place %q: %w", p.Name, err)
	}
	return nil
}

// Key returns the identity key of the record.
func (p Place) Key() string {
	return Key(p.Name, p.Address)
}

// HasSocial reports whether any social handle was captured.
func (p Place) HasSocial() bool {
	return p.FacebookURL != "" || p.InstagramURL != "" || p.WhatsAppURL != ""
}

// String implements fmt.Stringer.
func (p Place) String() string {
	if p.Address == "" {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Address)
}
