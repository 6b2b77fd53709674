package extractor

import (
	"encoding/json"
	"fmt"
)

// snapshotFn reads every strategy of every field in one pass. It is called
// with the JSON strategy table and a root element (document when reading a
// whole page) and returns {field: [candidate, ...]} or null if root is missing.
const snapshotFn = `function(fields, root) {
	if (root === null || root === undefined) return null;
	const norm = (v) => (v === null || v === undefined) ? '' : String(v).trim();
	const self = () => root === document ? document.documentElement : root;
	const pick = (sel) => sel ? root.querySelector(sel) : self();
	const pickAll = (sel) => sel ? Array.from(root.querySelectorAll(sel)) : [self()];
	const attr = (el, name) => {
		if (!el) return '';
		if (name === 'href' && el.href) return norm(el.href);
		if (name === 'src' && el.src) return norm(el.src);
		return norm(el.getAttribute(name));
	};
	const read = (s) => {
		switch (s.kind) {
		case 'text': { const el = pick(s.selector); return el ? norm(el.textContent) : ''; }
		case 'attr': return attr(pick(s.selector), s.attr);
		case 'all': return pickAll(s.selector)
			.map((el) => s.attr ? attr(el, s.attr) : norm(el.textContent))
			.filter(Boolean)
			.join(s.separator || ' | ');
		case 'exists': return pick(s.selector) ? (s.value || 'true') : '';
		case 'links': {
			const needle = (s.contains || '').toLowerCase();
			const el = Array.from(root.querySelectorAll(s.selector || 'a[href]'))
				.find((a) => (a.href || '').toLowerCase().includes(needle));
			return el ? norm(el.href) : '';
		}
		case 'url': return norm(location.href);
		}
		return '';
	};
	const out = {};
	for (const field of Object.keys(fields)) {
		out[field] = fields[field].map((s) => { try { return read(s); } catch (e) { return ''; } });
	}
	return out;
}`

// jsStrategy is the wire form of a Strategy handed to snapshotFn. Patterns
// are applied in Go so that live and static snapshots behave the same.
type jsStrategy struct {
	Kind      Kind   `json:"kind"`
	Selector  string `json:"selector,omitempty"`
	Attr      string `json:"attr,omitempty"`
	Contains  string `json:"contains,omitempty"`
	Value     string `json:"value,omitempty"`
	Separator string `json:"separator,omitempty"`
}

// BuildScript renders a JavaScript expression that returns a Snapshot for
// fields. root is a JavaScript expression yielding the element to read from;
// an empty root reads the whole document.
func BuildScript(fields map[string][]Strategy, root string) (string, error) {
	encoded, err := encodeStrategies(fields)
	if err != nil {
		return "", err
	}
	if root == "" {
		root = "document"
	}
	return fmt.Sprintf("(%s)(%s, %s)", snapshotFn, encoded, root), nil
}

// BuildListScript renders a JavaScript expression that returns one Snapshot
// per element matching selector, starting at index from.
func BuildListScript(fields map[string][]Strategy, selector string, from int) (string, error) {
	encoded, err := encodeStrategies(fields)
	if err != nil {
		return "", err
	}
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("failed to encode selector: %w", err)
	}
	if from < 0 {
		from = 0
	}
	return fmt.Sprintf("Array.from(document.querySelectorAll(%s)).slice(%d).map((el) => (%s)(%s, el))",
		sel, from, snapshotFn, encoded), nil
}

func encodeStrategies(fields map[string][]Strategy) ([]byte, error) {
	table := make(map[string][]jsStrategy, len(fields))
	for field, strategies := range fields {
		wire := make([]jsStrategy, 0, len(strategies))
		for _, s := range strategies {
			wire = append(wire, jsStrategy{
				Kind:      s.Kind,
				Selector:  s.Selector,
				Attr:      s.Attr,
				Contains:  s.Contains,
				Value:     s.Value,
				Separator: s.Separator,
			})
		}
		table[field] = wire
	}

	encoded, err := json.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("failed to encode strategies: %w", err)
	}
	return encoded, nil
}
