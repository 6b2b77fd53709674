package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// MockPage is a renderer whose isolated children serve a fixed document.
type MockPage struct {
	HTML        string
	Text        string
	NavigateErr error

	opened []*MockPage
	navs   []string
	closed bool
}

var _ renderer.Renderer = (*MockPage)(nil)

func (p *MockPage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.navs = append(p.navs, url)
	return p.NavigateErr
}

func (p *MockPage) Count(context.Context, string) (int, error) { return 0, nil }

func (p *MockPage) Evaluate(_ context.Context, _ string, out any) error {
	data, err := json.Marshal(map[string]string{"url": p.navs[len(p.navs)-1], "html": p.HTML, "text": p.Text})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *MockPage) WaitUntil(context.Context, string, time.Duration) error { return nil }
func (p *MockPage) Click(context.Context, string, int) error               { return nil }
func (p *MockPage) Wheel(context.Context, string, float64) error           { return nil }
func (p *MockPage) URL(context.Context) (string, error)                    { return "", nil }

func (p *MockPage) OpenIsolated(context.Context) (renderer.Renderer, error) {
	child := &MockPage{HTML: p.HTML, Text: p.Text, NavigateErr: p.NavigateErr}
	p.opened = append(p.opened, child)
	return child, nil
}

func (p *MockPage) Close() error {
	p.closed = true
	return nil
}

func TestRendererFetcher_Fetch(t *testing.T) {
	parent := &MockPage{
		HTML: `<html><head><title>Bar</title></head><body><a href="/contacto">Contacto</a></body></html>`,
		Text: "Contacto\ninfo@bar.es",
	}
	f := &RendererFetcher{Parent: parent}

	content, err := f.Fetch(context.Background(), "https://bar.es/", fetcher.Options{})
	require.NoError(t, err)

	assert.Equal(t, "Bar", content.Title)
	assert.Equal(t, "Contacto\ninfo@bar.es", content.Text, "visible text comes from the live page")
	require.Len(t, content.Links, 1)
	assert.Equal(t, "https://bar.es/contacto", content.Links[0].URL)

	require.Len(t, parent.opened, 1)
	assert.True(t, parent.opened[0].closed, "isolated context must be closed")
	assert.Empty(t, parent.navs, "the parent page must never navigate")
	assert.False(t, parent.closed)
}

func TestRendererFetcher_ClosesOnFailure(t *testing.T) {
	parent := &MockPage{NavigateErr: renderer.ErrTimeout}
	f := &RendererFetcher{Parent: parent}

	_, err := f.Fetch(context.Background(), "https://slow.es", fetcher.Options{Timeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, renderer.ErrTimeout))
	require.Len(t, parent.opened, 1)
	assert.True(t, parent.opened[0].closed)
}

func TestRendererFetcher_TruncatesBody(t *testing.T) {
	parent := &MockPage{HTML: "<html><body>0123456789</body></html>"}
	f := &RendererFetcher{Parent: parent}

	content, err := f.Fetch(context.Background(), "https://bar.es", fetcher.Options{MaxBodySize: 10})
	require.NoError(t, err)
	assert.Len(t, content.HTML, 10)
	assert.Equal(t, "browser", f.Type())
}
