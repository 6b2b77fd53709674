// Package enrich discovers a contact email for a business by crawling its
// website in a context isolated from the feed walk.
package enrich

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jmylchreest/mapsleads/pkg/fetcher"
)

var emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// Blacklist rejects email-shaped strings that are not real contact addresses.
type Blacklist struct {
	// Contains rejects candidates containing any of these substrings.
	Contains []string `json:"contains" yaml:"contains"`
	// Prefixes rejects template local parts such as "email@".
	Prefixes []string `json:"prefixes" yaml:"prefixes"`
	// Suffixes rejects asset names that look like addresses (logo@2x.png).
	Suffixes []string `json:"suffixes" yaml:"suffixes"`
}

// DefaultBlacklist returns the built-in false-positive markers.
func DefaultBlacklist() Blacklist {
	return Blacklist{
		Contains: []string{
			"example.com", "example.org", "example.net", "@example", "@domain.com",
			"yourdomain", "sampleemail", "youremail",
			"sentry", "wixpress", "wix.com", "godaddy", "cloudflare",
			"noreply", "no-reply", "donotreply",
		},
		Prefixes: []string{
			"email@", "e-mail@", "your@", "name@", "user@", "username@", "test@",
		},
		Suffixes: []string{
			".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".avif", ".ico", ".bmp",
			".css", ".js",
		},
	}
}

// Blocks reports whether email matches a blacklist entry. Matching is case
// insensitive.
func (b Blacklist) Blocks(email string) bool {
	lower := strings.ToLower(email)
	for _, s := range b.Contains {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, p := range b.Prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, s := range b.Suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// SanitizeEmail trims markup debris around a candidate and returns the
// lowercased address, or "" when nothing email-shaped remains.
func SanitizeEmail(raw string) string {
	clean := strings.TrimSpace(raw)
	if len(clean) >= len("mailto:") && strings.EqualFold(clean[:len("mailto:")], "mailto:") {
		clean = clean[len("mailto:"):]
	}
	if idx := strings.IndexAny(clean, "?#"); idx != -1 {
		clean = clean[:idx]
	}
	if decoded, err := url.PathUnescape(clean); err == nil {
		clean = decoded
	}
	clean = strings.Trim(clean, "<>()[]{}.,;:\"'` \t\r\n")

	lower := strings.ToLower(clean)
	// JSON-escaped markup leaves "u003e" in front of addresses.
	for _, junk := range []string{"u003e", "u0022"} {
		lower = strings.TrimPrefix(lower, junk)
	}

	match := emailPattern.FindString(lower)
	if match == "" {
		return ""
	}
	return strings.Trim(match, ".-")
}

// FindEmails returns the distinct, non-blacklisted addresses on a page in
// priority order: mailto anchors, visible text, then raw markup.
func FindEmails(page fetcher.Content, bl Blacklist) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(raw string) {
		email := SanitizeEmail(raw)
		if email == "" || bl.Blocks(email) {
			return
		}
		if _, ok := seen[email]; ok {
			return
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}

	for _, l := range page.Links {
		if strings.HasPrefix(strings.ToLower(l.URL), "mailto:") {
			add(l.URL)
		}
	}
	for _, m := range emailPattern.FindAllString(page.Text, -1) {
		add(m)
	}
	for _, m := range emailPattern.FindAllString(page.HTML, -1) {
		add(m)
	}
	return out
}
