package crawler

import (
	"context"
	"fmt"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/extractor"
	"github.com/jmylchreest/mapsleads/pkg/places"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// Preview is the lightweight view of a feed card.
type Preview struct {
	Index   int    // Document-order position among loaded cards
	Name    string // May be empty when the card could not be read
	Address string
	Key     string // PreviewKey of Name and Address; empty when Name is
}

// CardIterator walks loaded cards in document order. It remembers how far
// it got, so after the feed grows it resumes with the first new card.
type CardIterator struct {
	r       renderer.Renderer
	sel     string
	preview *extractor.Extractor

	next    int
	buf     []Preview
	skipped int
}

// NewCardIterator creates an iterator over cards matching sel.
func NewCardIterator(r renderer.Renderer, sel string, preview *extractor.Extractor) *CardIterator {
	return &CardIterator{r: r, sel: sel, preview: preview}
}

// Next returns the next card whose preview key is not in visited. It
// reports false when every loaded card has been consumed.
func (it *CardIterator) Next(ctx context.Context, visited *VisitedSet) (Preview, bool, error) {
	for {
		if len(it.buf) == 0 {
			if err := it.load(ctx); err != nil {
				return Preview{}, false, err
			}
			if len(it.buf) == 0 {
				return Preview{}, false, nil
			}
		}

		p := it.buf[0]
		it.buf = it.buf[1:]

		if visited.IsDuplicate(p.Key) {
			it.skipped++
			logger.Debug("skipping seen preview", "index", p.Index, "name", p.Name)
			continue
		}
		return p, true, nil
	}
}

// Skipped returns how many previews were skipped as already seen.
func (it *CardIterator) Skipped() int {
	return it.skipped
}

// Consumed returns how many loaded cards have been read.
func (it *CardIterator) Consumed() int {
	return it.next - len(it.buf)
}

// load reads previews of every card not read yet in one evaluation.
func (it *CardIterator) load(ctx context.Context) error {
	script, err := extractor.BuildListScript(it.preview.Config().Fields, it.sel, it.next)
	if err != nil {
		return err
	}

	var snaps []extractor.Snapshot
	if err := it.r.Evaluate(ctx, script, &snaps); err != nil {
		return fmt.Errorf("reading previews: %w", err)
	}

	for i, snap := range snaps {
		p, _, err := it.preview.Resolve(snap)
		if err != nil {
			logger.Debug("preview unreadable", "index", it.next+i, "error", err)
		}
		it.buf = append(it.buf, Preview{
			Index:   it.next + i,
			Name:    p.Name,
			Address: p.Address,
			Key:     places.PreviewKey(p.Name, p.Address),
		})
	}
	it.next += len(snaps)

	if len(snaps) > 0 {
		logger.Debug("previews loaded", "new", len(snaps), "total", it.next)
	}
	return nil
}
