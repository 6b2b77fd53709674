package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// pageScript captures the rendered document of an isolated page.
const pageScript = `({
	url: location.href,
	html: document.documentElement ? document.documentElement.outerHTML : '',
	text: document.body ? document.body.innerText : ''
})`

// RendererFetcher fetches pages in a fresh isolated context opened from
// Parent for every request, so enrichment never navigates the feed page.
// It implements fetcher.Fetcher.
type RendererFetcher struct {
	Parent renderer.Renderer
	// Settle is an extra wait after load for client-side rendering.
	Settle time.Duration
}

// Fetch opens an isolated context, loads targetURL and captures the DOM.
// The context is closed before returning, on success or failure.
func (f *RendererFetcher) Fetch(ctx context.Context, targetURL string, opts fetcher.Options) (content fetcher.Content, err error) {
	page, err := f.Parent.OpenIsolated(ctx)
	if err != nil {
		return fetcher.Content{}, fmt.Errorf("failed to open isolated context: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil && err == nil && !errors.Is(cerr, renderer.ErrClosed) {
			err = fmt.Errorf("failed to close isolated context: %w", cerr)
		}
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if err := page.Navigate(ctx, targetURL, timeout); err != nil {
		return fetcher.Content{}, fmt.Errorf("failed to load %s: %w", targetURL, err)
	}

	settle := opts.WaitDuration
	if settle == 0 {
		settle = f.Settle
	}
	if settle > 0 {
		select {
		case <-ctx.Done():
			return fetcher.Content{}, ctx.Err()
		case <-time.After(settle):
		}
	}

	var snap struct {
		URL  string `json:"url"`
		HTML string `json:"html"`
		Text string `json:"text"`
	}
	if err := page.Evaluate(ctx, pageScript, &snap); err != nil {
		return fetcher.Content{}, fmt.Errorf("failed to capture %s: %w", targetURL, err)
	}

	html := snap.HTML
	if opts.MaxBodySize > 0 && int64(len(html)) > opts.MaxBodySize {
		html = html[:opts.MaxBodySize]
	}
	content = fetcher.Content{
		URL:       coalesce(snap.URL, targetURL),
		HTML:      html,
		FetchedAt: time.Now(),
	}
	if err := fetcher.ParseHTML(&content); err != nil {
		return content, fmt.Errorf("failed to parse content: %w", err)
	}
	if snap.Text != "" {
		content.Text = snap.Text
	}
	return content, nil
}

// Close is a no-op: the parent renderer belongs to the caller.
func (f *RendererFetcher) Close() error {
	return nil
}

// Type returns the fetcher type.
func (f *RendererFetcher) Type() string {
	return "browser"
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
