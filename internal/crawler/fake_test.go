package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/mapsleads/pkg/extractor"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// fakeCard is one result entry of a scripted feed.
type fakeCard struct {
	Name    string // preview name
	Address string // preview address

	// Detail view values. DetailName defaults to Name.
	DetailName    string
	DetailAddress string
	Website       string

	// NoRender makes the detail view never appear.
	NoRender bool
}

// fakeFeed is a scripted results page. batches[0] is rendered on load and
// each scroll that reaches the bottom reveals the next batch.
type fakeFeed struct {
	mu sync.Mutex

	batches [][]fakeCard
	cards   []fakeCard
	next    int
	direct  *fakeCard

	selected int
	closeAt  int // click number that finds the browser gone; 0 = never

	closed    bool
	clicks    int
	scrolls   int
	wheels    int
	evaluated int
}

func newFakeFeed(batches ...[]fakeCard) *fakeFeed {
	f := &fakeFeed{batches: batches, selected: -1}
	f.reveal()
	return f
}

func (f *fakeFeed) reveal() bool {
	if f.next >= len(f.batches) {
		return false
	}
	f.cards = append(f.cards, f.batches[f.next]...)
	f.next++
	return true
}

func (f *fakeFeed) launcher() renderer.Launcher {
	return renderer.LauncherFunc(func(ctx context.Context) (renderer.Renderer, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return f, nil
	})
}

func (f *fakeFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFeed) Navigate(ctx context.Context, _ string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return renderer.ErrClosed
	}
	return ctx.Err()
}

func (f *fakeFeed) Count(_ context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, renderer.ErrClosed
	}
	switch selector {
	case testSelectors.Card:
		return len(f.cards), nil
	case testSelectors.Title:
		if f.direct != nil || f.selected >= 0 {
			return 1, nil
		}
	}
	return 0, nil
}

var sliceFrom = regexp.MustCompile(`\.slice\((\d+)\)`)

func (f *fakeFeed) Evaluate(_ context.Context, script string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return renderer.ErrClosed
	}
	f.evaluated++

	var result any
	switch {
	case strings.HasPrefix(script, "Array.from(document.querySelectorAll("):
		from := 0
		if m := sliceFrom.FindStringSubmatch(script); m != nil {
			from, _ = strconv.Atoi(m[1])
		}
		previews := []extractor.Snapshot{}
		for i := from; i < len(f.cards); i++ {
			previews = append(previews, extractor.Snapshot{
				extractor.FieldName:    {f.cards[i].Name},
				extractor.FieldAddress: {f.cards[i].Address},
			})
		}
		result = previews
	case strings.HasPrefix(script, "(function(fields, root)"):
		card, ok := f.current()
		if !ok {
			result = extractor.Snapshot{}
			break
		}
		result = extractor.Snapshot{
			extractor.FieldName:    {card.DetailName},
			extractor.FieldAddress: {card.DetailAddress},
			extractor.FieldWebsite: {card.Website},
		}
	case strings.Contains(script, "scrollTo("):
		f.scrolls++
		before := f.top()
		f.reveal()
		result = feedPosition{Before: before, Top: f.top(), Height: f.height()}
	case strings.Contains(script, "scrollHeight"):
		result = feedPosition{Before: f.top(), Top: f.top(), Height: f.height()}
	case strings.Contains(script, "textContent"):
		card, _ := f.current()
		result = card.DetailName
	default:
		return fmt.Errorf("unexpected script: %.40s", script)
	}

	if out == nil {
		return nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeFeed) WaitUntil(_ context.Context, predicate string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return renderer.ErrClosed
	}
	if strings.Contains(predicate, "location.href") {
		if card, ok := f.current(); !ok || card.NoRender {
			return renderer.ErrTimeout
		}
		return nil
	}
	if len(f.cards) == 0 && f.direct == nil {
		return renderer.ErrTimeout
	}
	return nil
}

func (f *fakeFeed) Click(_ context.Context, selector string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return renderer.ErrClosed
	}
	f.clicks++
	if f.closeAt > 0 && f.clicks >= f.closeAt {
		f.closed = true
		return renderer.ErrClosed
	}
	if selector != testSelectors.Card || index >= len(f.cards) {
		return renderer.ErrNoElement
	}
	f.selected = index
	return nil
}

func (f *fakeFeed) Wheel(context.Context, string, float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wheels++
	return nil
}

func (f *fakeFeed) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selected < 0 {
		return "https://maps.test/search/q", nil
	}
	return fmt.Sprintf("https://maps.test/place/%d", f.selected), nil
}

func (f *fakeFeed) OpenIsolated(context.Context) (renderer.Renderer, error) {
	return nil, renderer.ErrClosed
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// current returns the card whose detail view is shown. Callers hold mu.
func (f *fakeFeed) current() (fakeCard, bool) {
	var card fakeCard
	switch {
	case f.selected >= 0:
		card = f.cards[f.selected]
	case f.direct != nil:
		card = *f.direct
	default:
		return fakeCard{}, false
	}
	if card.DetailName == "" {
		card.DetailName = card.Name
	}
	if card.DetailAddress == "" {
		card.DetailAddress = card.Address
	}
	return card, true
}

func (f *fakeFeed) height() float64 { return float64(len(f.cards) * 100) }

func (f *fakeFeed) top() float64 { return max(f.height()-100, 0) }

// fakeEnricher answers every started job with email.
type fakeEnricher struct {
	mu      sync.Mutex
	email   string
	full    bool
	started []string
}

func (e *fakeEnricher) TryStart(_ context.Context, website string) (<-chan string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return nil, false
	}
	e.started = append(e.started, website)
	ch := make(chan string, 1)
	ch <- e.email
	close(ch)
	return ch, true
}

func (e *fakeEnricher) factory() EnricherFactory {
	return func(renderer.Renderer) Enricher { return e }
}

var testSelectors = Selectors{
	Feed:  "#feed",
	Card:  "#feed .card",
	Title: "h1.title",
}

func testConfig() Config {
	return Config{
		Selectors: testSelectors,
		Preview: extractor.Config{
			Name: "test-preview",
			Fields: map[string][]extractor.Strategy{
				extractor.FieldName:    {{Kind: extractor.KindText, Selector: ".name"}},
				extractor.FieldAddress: {{Kind: extractor.KindText, Selector: ".address"}},
			},
		},
		Detail: extractor.Config{
			Name: "test-detail",
			Fields: map[string][]extractor.Strategy{
				extractor.FieldName:    {{Kind: extractor.KindText, Selector: "h1.title"}},
				extractor.FieldAddress: {{Kind: extractor.KindText, Selector: ".address"}},
				extractor.FieldWebsite: {{Kind: extractor.KindAttr, Selector: "a.website", Attr: "href"}},
			},
		},
		BaseURL: "https://maps.test/search/",
		Jitter:  NoJitter{},
	}
}
