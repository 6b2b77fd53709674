package enrich

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/places"
)

// contactKeywords rank anchors that plausibly lead to contact details.
// Anchor text matches score double the weight; URL matches score the weight.
var contactKeywords = []struct {
	word   string
	weight int
}{
	{"contact", 10},
	{"contacto", 10},
	{"contactanos", 10},
	{"contato", 10},
	{"kontakt", 10},
	{"impressum", 8},
	{"aviso-legal", 6},
	{"aviso legal", 6},
	{"about", 5},
	{"acerca", 5},
	{"nosotros", 5},
	{"quienes-somos", 5},
	{"quiénes somos", 5},
	{"über uns", 5},
	{"uber-uns", 5},
	{"team", 2},
	{"equipo", 2},
}

// ContactLink picks the best contact/about page linked from page that lives
// on the same site. It reports false when no anchor qualifies.
func ContactLink(page fetcher.Content) (string, bool) {
	base, err := url.Parse(page.URL)
	if err != nil || base.Hostname() == "" {
		return "", false
	}
	site := siteOf(base.Hostname())

	best, bestScore := "", 0
	for _, l := range page.Links {
		u, err := url.Parse(l.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if siteOf(u.Hostname()) != site || places.IsSocial(l.URL) {
			continue
		}
		if samePage(u, base) {
			continue
		}

		score := 0
		text := strings.ToLower(l.Text)
		path := strings.ToLower(u.Path)
		for _, kw := range contactKeywords {
			if strings.Contains(text, kw.word) {
				score += 2 * kw.weight
			}
			if strings.Contains(path, kw.word) {
				score += kw.weight
			}
		}
		if score > bestScore {
			best, bestScore = u.String(), score
		}
	}
	return best, bestScore > 0
}

// SameSite reports whether two URLs share a registrable domain
// (www.bar.es and bar.es do; bar.es and foo.es do not).
func SameSite(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Hostname() != "" && siteOf(ua.Hostname()) == siteOf(ub.Hostname())
}

func siteOf(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}

func samePage(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host) &&
		strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/") &&
		a.RawQuery == b.RawQuery
}
