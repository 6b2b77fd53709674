package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// pollInterval is how often WaitUntil evaluates its predicate.
const pollInterval = 100 * time.Millisecond

// blockedResources are never loaded in isolated pages.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeStylesheet,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

// Page is one browser tab. It implements renderer.Renderer.
type Page struct {
	ctx      context.Context
	cancel   func()
	config   Config
	isolated bool

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ renderer.Renderer = (*Page)(nil)

func newPage(ctx context.Context, cancel func(), cfg Config, isolated bool) *Page {
	return &Page{ctx: ctx, cancel: cancel, config: cfg, isolated: isolated}
}

// run executes actions on the tab, bounded by timeout and by the caller's
// ctx. Errors are mapped to the renderer sentinels.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.closed.Load() {
		return renderer.ErrClosed
	}
	if timeout <= 0 {
		timeout = p.config.ActionTimeout
	}

	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case p.closed.Load() || p.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", renderer.ErrClosed, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, chromedp.ErrPollingTimeout):
		return fmt.Errorf("%w: %v", renderer.ErrTimeout, err)
	}
	return err
}

// Navigate implements renderer.Renderer. Challenge and rate-limit pages
// are reported as fetcher.ErrAntiBot.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	logger.Debug("navigating", "url", url, "isolated", p.isolated)

	var loc, title string
	err := p.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&loc),
		chromedp.Title(&title),
	)
	if err != nil {
		return err
	}
	if challenge := detectChallenge(loc, title); challenge != "" {
		logger.Warn("challenge page detected", "url", loc, "type", challenge)
		return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, challenge)
	}
	return nil
}

// Count implements renderer.Renderer.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf("document.querySelectorAll(%s).length", jsString(selector))
	if err := p.run(ctx, 0, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Evaluate implements renderer.Renderer. A null or undefined result leaves
// out untouched.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	var raw string
	wrapped := "JSON.stringify({v: (" + script + ")})"
	if err := p.run(ctx, 0, chromedp.Evaluate(wrapped, &raw)); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	if len(envelope.V) == 0 || string(envelope.V) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.V, out); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	return nil
}

// WaitUntil implements renderer.Renderer.
func (p *Page) WaitUntil(ctx context.Context, predicate string, timeout time.Duration) error {
	var ok bool
	return p.run(ctx, timeout+p.config.ActionTimeout,
		chromedp.Poll("!!("+predicate+")", &ok,
			chromedp.WithPollingInterval(pollInterval),
			chromedp.WithPollingTimeout(timeout),
		),
	)
}

// point is the viewport centre of an element.
type point struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

const locateJS = `(function(sel, idx, scroll) {
	const el = document.querySelectorAll(sel)[idx];
	if (!el) return {found: false};
	if (scroll) el.scrollIntoView({block: 'center'});
	const r = el.getBoundingClientRect();
	return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};
})(%s, %d, %t)`

func (p *Page) locate(ctx context.Context, selector string, index int, scroll bool) (point, error) {
	var pt point
	if err := p.Evaluate(ctx, fmt.Sprintf(locateJS, jsString(selector), index, scroll), &pt); err != nil {
		return pt, err
	}
	if !pt.Found {
		return pt, fmt.Errorf("%w: %s[%d]", renderer.ErrNoElement, selector, index)
	}
	return pt, nil
}

// Click implements renderer.Renderer with a real mouse click at the centre
// of the element.
func (p *Page) Click(ctx context.Context, selector string, index int) error {
	pt, err := p.locate(ctx, selector, index, true)
	if err != nil {
		return err
	}
	return p.run(ctx, 0, chromedp.MouseClickXY(pt.X, pt.Y))
}

// Wheel implements renderer.Renderer.
func (p *Page) Wheel(ctx context.Context, selector string, deltaY float64) error {
	pt, err := p.locate(ctx, selector, 0, false)
	if err != nil {
		return err
	}
	return p.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseWheel, pt.X, pt.Y).
			WithDeltaX(0).
			WithDeltaY(deltaY).
			Do(ctx)
	}))
}

// URL implements renderer.Renderer.
func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// OpenIsolated implements renderer.Renderer. The new tab lives in its own
// browser context, so cookies and history are not shared with p.
func (p *Page) OpenIsolated(ctx context.Context) (renderer.Renderer, error) {
	if p.closed.Load() {
		return nil, renderer.ErrClosed
	}

	ictx, cancel := chromedp.NewContext(p.ctx, chromedp.WithNewBrowserContext())
	chromedp.ListenTarget(ictx, func(ev interface{}) {
		if e, ok := ev.(*fetch.EventRequestPaused); ok {
			go func() {
				c := chromedp.FromContext(ictx)
				if c == nil || c.Target == nil {
					return
				}
				execCtx := cdp.WithExecutor(ictx, c.Target)
				_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			}()
		}
	})

	actions := []chromedp.Action{blockResources()}
	if p.config.Stealth {
		actions = append(actions, injectStealth(p.config.Languages))
	}

	// First Run creates the tab; see Launcher.Launch.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(ictx, actions...)
	stop()
	if err != nil {
		cancel()
		if p.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", renderer.ErrClosed, err)
		}
		return nil, fmt.Errorf("opening isolated page: %w", err)
	}
	return newPage(ictx, cancel, p.config, true), nil
}

// blockResources pauses requests for blocked resource types so the
// listener can fail them.
func blockResources() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
		for _, t := range blockedResources {
			patterns = append(patterns, &fetch.RequestPattern{
				URLPattern:   "*",
				ResourceType: t,
				RequestStage: fetch.RequestStageRequest,
			})
		}
		return fetch.Enable().WithPatterns(patterns).Do(ctx)
	})
}

// Close implements renderer.Renderer.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.cancel != nil {
			p.cancel()
		}
	})
	return nil
}

// detectChallenge reports the kind of interstitial a page is, or "".
func detectChallenge(loc, title string) string {
	locLower := strings.ToLower(loc)
	titleLower := strings.ToLower(title)

	switch {
	case strings.Contains(locLower, "google.") && strings.Contains(locLower, "/sorry/"):
		return "google-rate-limit"
	case strings.Contains(titleLower, "just a moment"),
		strings.Contains(titleLower, "attention required"):
		return "cloudflare"
	case strings.Contains(titleLower, "access denied"),
		strings.Contains(titleLower, "bot detection"):
		return "anti-bot"
	}
	return ""
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
