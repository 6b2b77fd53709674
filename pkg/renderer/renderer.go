// Package renderer defines the browser capability the crawler drives.
// Implement Renderer to plug in a different automation backend; the chromedp
// implementation lives in the mapsleads command.
package renderer

import (
	"context"
	"errors"
	"time"
)

// Renderer is a live, scriptable page.
//
// Elements are addressed by CSS selector and document-order index rather
// than by handle, so implementations never leak backend node types.
type Renderer interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)

	// Evaluate runs a JavaScript expression and decodes its JSON result into out.
	// A nil out discards the result.
	Evaluate(ctx context.Context, script string, out any) error

	// WaitUntil polls a JavaScript predicate until it is truthy or timeout expires.
	WaitUntil(ctx context.Context, predicate string, timeout time.Duration) error

	// Click scrolls the index-th element matching selector into view and clicks it.
	Click(ctx context.Context, selector string, index int) error

	// Wheel dispatches a mouse-wheel event over the first element matching selector.
	Wheel(ctx context.Context, selector string, deltaY float64) error

	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)

	// OpenIsolated opens a secondary page that shares nothing with this one's
	// navigation state. Non-essential resources are not loaded in it.
	OpenIsolated(ctx context.Context) (Renderer, error)

	// Close releases the page. It is safe to call more than once.
	Close() error
}

// Launcher acquires a Renderer for one crawl session.
type Launcher interface {
	Launch(ctx context.Context) (Renderer, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Renderer, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context) (Renderer, error) {
	return f(ctx)
}

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, renderer.ErrTimeout).
var (
	// ErrTimeout indicates a bounded wait expired. It is recoverable.
	ErrTimeout = errors.New("renderer wait timed out")
	// ErrClosed indicates the page or its browser is gone. It is fatal to a session.
	ErrClosed = errors.New("renderer closed")
	// ErrNoElement indicates the selector matched nothing at the requested index.
	ErrNoElement = errors.New("no matching element")
)

// IsFatal reports whether err means the renderer can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed)
}
