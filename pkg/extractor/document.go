package extractor

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentSource reads snapshots from static HTML with goquery. It mirrors
// the JavaScript reader used against a live page.
type DocumentSource struct {
	Doc  *goquery.Document
	URL  string
	root *goquery.Selection
}

// NewDocumentSource parses r as HTML. pageURL resolves relative links and
// feeds url strategies.
func NewDocumentSource(r io.Reader, pageURL string) (*DocumentSource, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &DocumentSource{Doc: doc, URL: pageURL}, nil
}

// Within returns a source scoped to sel, such as a single feed card.
func (d *DocumentSource) Within(sel *goquery.Selection) *DocumentSource {
	return &DocumentSource{Doc: d.Doc, URL: d.URL, root: sel}
}

// Snapshot implements Source.
func (d *DocumentSource) Snapshot(_ context.Context, fields map[string][]Strategy) (Snapshot, error) {
	root := d.root
	if root == nil {
		root = d.Doc.Selection
	}
	base, _ := url.Parse(d.URL)

	snap := make(Snapshot, len(fields))
	for field, strategies := range fields {
		values := make([]string, len(strategies))
		for i, s := range strategies {
			values[i] = d.read(root, base, s)
		}
		snap[field] = values
	}
	return snap, nil
}

func (d *DocumentSource) read(root *goquery.Selection, base *url.URL, s Strategy) string {
	pick := func(sel string) *goquery.Selection {
		if sel == "" {
			if d.root == nil {
				return root.Find("html").First()
			}
			return root
		}
		return root.Find(sel)
	}

	switch s.Kind {
	case KindText:
		return strings.TrimSpace(pick(s.Selector).First().Text())
	case KindAttr:
		return attrValue(pick(s.Selector).First(), s.Attr, base)
	case KindAll:
		sep := s.Separator
		if sep == "" {
			sep = " | "
		}
		var parts []string
		pick(s.Selector).Each(func(_ int, el *goquery.Selection) {
			var v string
			if s.Attr != "" {
				v = attrValue(el, s.Attr, base)
			} else {
				v = strings.TrimSpace(el.Text())
			}
			if v != "" {
				parts = append(parts, v)
			}
		})
		return strings.Join(parts, sep)
	case KindExists:
		if pick(s.Selector).Length() == 0 {
			return ""
		}
		if s.Value == "" {
			return "true"
		}
		return s.Value
	case KindLinks:
		sel := s.Selector
		if sel == "" {
			sel = "a[href]"
		}
		needle := strings.ToLower(s.Contains)
		found := ""
		root.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			href := attrValue(el, "href", base)
			if strings.Contains(strings.ToLower(href), needle) {
				found = href
				return false
			}
			return true
		})
		return found
	case KindURL:
		return d.URL
	}
	return ""
}

// attrValue reads an attribute, resolving href and src like the DOM does.
func attrValue(el *goquery.Selection, name string, base *url.URL) string {
	v, ok := el.Attr(name)
	if !ok {
		return ""
	}
	v = strings.TrimSpace(v)
	if (name == "href" || name == "src") && base != nil && v != "" {
		if ref, err := url.Parse(v); err == nil && !ref.IsAbs() {
			return base.ResolveReference(ref).String()
		}
	}
	return v
}
