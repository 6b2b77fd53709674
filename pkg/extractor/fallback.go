package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoValue is returned when no strategy in a chain yields a value.
var ErrNoValue = errors.New("no strategy produced a value")

// Chain resolves a field by trying each strategy in order until one yields a
// non-empty value.
type Chain struct {
	Field      string
	Strategies []Strategy
}

// Resolve applies the chain to candidates, the raw values read for each
// strategy in the same order. It returns the winning value and the index of
// the strategy that produced it.
func (c Chain) Resolve(candidates []string) (string, int, error) {
	var tried []string

	for i, s := range c.Strategies {
		if i >= len(candidates) {
			break
		}
		tried = append(tried, s.String())
		if v := s.apply(candidates[i]); v != "" {
			return v, i, nil
		}
	}

	if len(tried) == 0 {
		return "", -1, fmt.Errorf("%s: %w (no candidates)", c.Field, ErrNoValue)
	}
	return "", -1, fmt.Errorf("%s: %w (tried: %s)", c.Field, ErrNoValue, strings.Join(tried, ", "))
}

// Name returns the chain description.
func (c Chain) Name() string {
	names := make([]string, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		names = append(names, s.String())
	}
	return c.Field + "(" + strings.Join(names, "->") + ")"
}

// apply narrows a raw value with the strategy's pattern and cleans it.
func (s Strategy) apply(raw string) string {
	raw = CleanText(raw)
	if raw == "" {
		return ""
	}
	if s.re == nil {
		return raw
	}
	m := s.re.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return CleanText(m[1])
	}
	return CleanText(m[0])
}
