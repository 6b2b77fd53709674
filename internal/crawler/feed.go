package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// scrollJS scrolls the feed container to its bottom and reports the position
// before and after. It returns null when the feed is missing.
const scrollJS = `(function(sel) {
	const feed = document.querySelector(sel);
	if (!feed) return null;
	const before = feed.scrollTop;
	feed.scrollTo({top: feed.scrollHeight});
	return {before: before, top: feed.scrollTop, height: feed.scrollHeight};
})(%s)`

// feedPositionJS reads the feed scroll position.
const feedPositionJS = `(function(sel) {
	const feed = document.querySelector(sel);
	if (!feed) return null;
	return {before: feed.scrollTop, top: feed.scrollTop, height: feed.scrollHeight};
})(%s)`

type feedPosition struct {
	Before float64 `json:"before"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// FeedDriver loads more previews on demand and decides when the feed is
// exhausted.
type FeedDriver struct {
	r         renderer.Renderer
	sel       Selectors
	settle    time.Duration
	delta     float64
	threshold int

	noProgress int
	scrolls    int
}

// NewFeedDriver creates a driver for the feed matched by sel.Feed.
func NewFeedDriver(r renderer.Renderer, sel Selectors, settle time.Duration, delta float64, threshold int) *FeedDriver {
	if threshold <= 0 {
		threshold = 3
	}
	return &FeedDriver{r: r, sel: sel, settle: settle, delta: delta, threshold: threshold}
}

// EnsureLoaded requests an incremental load: scroll the feed to its bottom,
// and if the position did not change dispatch a wheel event instead. It
// waits the settle interval after each attempt and reports whether the feed
// moved or grew.
func (f *FeedDriver) EnsureLoaded(ctx context.Context) (bool, error) {
	f.scrolls++

	start, err := f.position(ctx, scrollJS)
	if err != nil {
		return false, err
	}
	if start == nil {
		logger.Debug("feed container not found", "selector", f.sel.Feed)
		return false, nil
	}
	if err := sleep(ctx, f.settle); err != nil {
		return false, err
	}

	end, err := f.position(ctx, feedPositionJS)
	if err != nil {
		return false, err
	}
	if end != nil && end.Top == start.Before {
		logger.Debug("feed scroll did not move, trying wheel", "top", end.Top)
		if err := f.r.Wheel(ctx, f.sel.Feed, f.delta); err != nil && !isRecoverable(err) {
			return false, err
		}
		if err := sleep(ctx, f.settle); err != nil {
			return false, err
		}
		if end, err = f.position(ctx, feedPositionJS); err != nil {
			return false, err
		}
	}

	moved := end != nil && (end.Top != start.Before || end.Height != start.Height)
	logger.Debug("feed load requested", "moved", moved, "scrolls", f.scrolls)
	return moved, nil
}

// RecordCycle closes a feed cycle in which captured new records were
// recorded. It reports true once StuckThreshold consecutive cycles captured
// nothing.
func (f *FeedDriver) RecordCycle(captured int) bool {
	if captured > 0 {
		f.noProgress = 0
		return false
	}
	f.noProgress++
	logger.Debug("feed cycle without progress", "count", f.noProgress, "threshold", f.threshold)
	return f.noProgress >= f.threshold
}

// AtEnd reports whether the end-of-list marker is rendered.
func (f *FeedDriver) AtEnd(ctx context.Context) bool {
	if f.sel.EndOfList == "" {
		return false
	}
	n, err := f.r.Count(ctx, f.sel.EndOfList)
	return err == nil && n > 0
}

// NoProgress returns the current consecutive empty-cycle count.
func (f *FeedDriver) NoProgress() int {
	return f.noProgress
}

// Scrolls returns how many loads were requested.
func (f *FeedDriver) Scrolls() int {
	return f.scrolls
}

func (f *FeedDriver) position(ctx context.Context, script string) (*feedPosition, error) {
	var pos *feedPosition
	if err := f.r.Evaluate(ctx, fmt.Sprintf(script, quote(f.sel.Feed)), &pos); err != nil {
		return nil, fmt.Errorf("feed position: %w", err)
	}
	return pos, nil
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
