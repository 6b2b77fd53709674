package places

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// keySeparator joins the name and address parts of an identity key.
const keySeparator = "|"

// NormalizeKeyPart folds a string for identity comparison: accents and
// punctuation are removed, letters lowercased and whitespace collapsed.
// Punctuation joins its neighbours ("McDonald's" and "McDonalds" fold the
// same); symbols separate words like whitespace.
func NormalizeKeyPart(s string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsSymbol(r):
			space = true
		}
	}
	return b.String()
}

// Key builds an identity key from a name and an optional address. When the
// address is blank the key is the normalized name alone. An empty name yields
// an empty key.
func Key(name, address string) string {
	n := NormalizeKeyPart(name)
	if n == "" {
		return ""
	}
	a := NormalizeKeyPart(address)
	if a == "" {
		return n
	}
	return n + keySeparator + a
}

// PreviewKey is the key derived from a feed preview. It uses the same rules
// as Key so that a preview and its full record can collide.
func PreviewKey(name, address string) string {
	return Key(name, address)
}
