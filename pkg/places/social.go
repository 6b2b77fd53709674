package places

import (
	"net/url"
	"strings"
)

// SocialKind classifies an external link.
type SocialKind string

const (
	SocialNone      SocialKind = ""
	SocialFacebook  SocialKind = "facebook"
	SocialInstagram SocialKind = "instagram"
	SocialWhatsApp  SocialKind = "whatsapp"
	// SocialOther covers social networks without a dedicated field. Such
	// links are never treated as a business website.
	SocialOther SocialKind = "other-social"
)

var socialHosts = []struct {
	host string
	kind SocialKind
}{
	{"facebook.com", SocialFacebook},
	{"fb.com", SocialFacebook},
	{"fb.me", SocialFacebook},
	{"instagram.com", SocialInstagram},
	{"instagr.am", SocialInstagram},
	{"wa.me", SocialWhatsApp},
	{"whatsapp.com", SocialWhatsApp},
	{"twitter.com", SocialOther},
	{"x.com", SocialOther},
	{"tiktok.com", SocialOther},
	{"linkedin.com", SocialOther},
	{"youtube.com", SocialOther},
	{"youtu.be", SocialOther},
	{"t.me", SocialOther},
	{"linktr.ee", SocialOther},
}

// ClassifyLink returns the social class of a link, or SocialNone for an
// ordinary website. Hosts are matched on domain boundaries; links that do not
// parse fall back to substring matching.
func ClassifyLink(raw string) SocialKind {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SocialNone
	}

	host := ""
	if u, err := url.Parse(ensureScheme(raw)); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	for _, s := range socialHosts {
		if host != "" {
			if host == s.host || strings.HasSuffix(host, "."+s.host) {
				return s.kind
			}
			continue
		}
		if strings.Contains(strings.ToLower(raw), s.host) {
			return s.kind
		}
	}
	return SocialNone
}

// IsSocial reports whether the link points at a known social network.
func IsSocial(raw string) bool {
	return ClassifyLink(raw) != SocialNone
}

// AssignLink stores an external link on the record according to its class.
// Plain websites fill Website; social links fill the matching social field
// only if it is still empty. It returns the class that was applied.
func (p *Place) AssignLink(raw string) SocialKind {
	raw = NormalizeWebsite(raw)
	if raw == "" {
		return SocialNone
	}
	kind := ClassifyLink(raw)
	switch kind {
	case SocialNone:
		if p.Website == "" {
			p.Website = raw
		}
	case SocialFacebook:
		if p.FacebookURL == "" {
			p.FacebookURL = raw
		}
	case SocialInstagram:
		if p.InstagramURL == "" {
			p.InstagramURL = raw
		}
	case SocialWhatsApp:
		if p.WhatsAppURL == "" {
			p.WhatsAppURL = raw
		}
	}
	return kind
}

// NormalizeWebsite unwraps Google redirect links and trims whitespace.
func NormalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "google.") && strings.Contains(lower, "/url?") {
		if u, err := url.Parse(raw); err == nil {
			if target := u.Query().Get("q"); target != "" {
				return target
			}
			if target := u.Query().Get("url"); target != "" {
				return target
			}
		}
	}
	return raw
}

func ensureScheme(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + strings.TrimLeft(raw, "/")
}
