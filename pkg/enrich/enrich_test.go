package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mapsleads/pkg/fetcher"
)

// MockFetcher serves canned pages by URL.
type MockFetcher struct {
	mu    sync.Mutex
	Pages map[string]fetcher.Content
	Errs  map[string]error
	Block chan struct{}
	Calls []string
}

var _ fetcher.Fetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Fetch(ctx context.Context, url string, _ fetcher.Options) (fetcher.Content, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, url)
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return fetcher.Content{}, ctx.Err()
		}
	}
	if err, ok := m.Errs[url]; ok {
		return fetcher.Content{}, err
	}
	page, ok := m.Pages[url]
	if !ok {
		return fetcher.Content{}, errors.New("not found")
	}
	if page.URL == "" {
		page.URL = url
	}
	return page, nil
}

func (m *MockFetcher) Close() error { return nil }
func (m *MockFetcher) Type() string { return "mock" }

func (m *MockFetcher) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

// MockMX answers from a fixed table.
type MockMX struct {
	Domains map[string]bool
	Err     error
}

var _ MXChecker = (*MockMX)(nil)

func (m *MockMX) HasMX(_ context.Context, domain string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.Domains[domain], nil
}

func TestSanitizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mailto:Info@BarPepe.es", "info@barpepe.es"},
		{"MAILTO:hola@bar.es?subject=Hola", "hola@bar.es"},
		{"<reservas@bar.es>.", "reservas@bar.es"},
		{"hola%40bar.es", "hola@bar.es"},
		{"u003einfo@bar.es", "info@bar.es"},
		{"first+tag@bar.es", "first+tag@bar.es"},
		{"not an email", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeEmail(tt.in), "SanitizeEmail(%q)", tt.in)
	}
}

func TestBlacklist_Blocks(t *testing.T) {
	bl := DefaultBlacklist()

	blocked := []string{
		"logo@2x.png",
		"hero@3x.webp",
		"user@example.com",
		"abc123@sentry.io",
		"x@sentry-next.wixpress.com",
		"email@bar.es",
		"your@email.es",
		"noreply@bar.es",
		"support@godaddy.com",
	}
	for _, e := range blocked {
		assert.True(t, bl.Blocks(e), "expected %q to be blocked", e)
	}

	allowed := []string{"info@barpepe.es", "reservas@casa-lucio.com", "myemail.box@bar.es"}
	for _, e := range allowed {
		assert.False(t, bl.Blocks(e), "expected %q to be allowed", e)
	}
}

func TestFindEmails_PriorityAndFiltering(t *testing.T) {
	page := fetcher.Content{
		Links: []fetcher.Link{
			{URL: "https://bar.es/contact"},
			{URL: "mailto:reservas@bar.es"},
		},
		Text: "Escríbenos a info@bar.es o a email@bar.es",
		HTML: `<img src="logo@2x.png"><script>sentry("k@o1.ingest.sentry.io")</script>info@bar.es`,
	}

	got := FindEmails(page, DefaultBlacklist())
	assert.Equal(t, []string{"reservas@bar.es", "info@bar.es"}, got)
}

func TestContactLink(t *testing.T) {
	page := fetcher.Content{
		URL: "https://www.barpepe.es/",
		Links: []fetcher.Link{
			{URL: "https://www.barpepe.es/", Text: "Inicio"},
			{URL: "https://www.barpepe.es/carta", Text: "Carta"},
			{URL: "https://www.barpepe.es/nosotros", Text: "Sobre nosotros"},
			{URL: "https://barpepe.es/contacto", Text: "Contacto"},
			{URL: "https://www.facebook.com/barpepe/contact", Text: "Contact us on Facebook"},
			{URL: "https://otherbar.es/contact", Text: "Contact"},
			{URL: "mailto:hola@barpepe.es", Text: "Contact"},
		},
	}

	link, ok := ContactLink(page)
	require.True(t, ok)
	assert.Equal(t, "https://barpepe.es/contacto", link)

	_, ok = ContactLink(fetcher.Content{URL: "https://bar.es", Links: []fetcher.Link{{URL: "https://bar.es/carta", Text: "Carta"}}})
	assert.False(t, ok)
}

func TestSameSite(t *testing.T) {
	assert.True(t, SameSite("https://www.bar.co.uk/a", "http://shop.bar.co.uk/b"))
	assert.False(t, SameSite("https://bar.co.uk", "https://foo.co.uk"))
	assert.False(t, SameSite("", "https://bar.es"))
}

func TestEligible(t *testing.T) {
	assert.True(t, Eligible("https://barpepe.es"))
	assert.False(t, Eligible(""))
	assert.False(t, Eligible("https://www.instagram.com/barpepe"))
	assert.False(t, Eligible("ftp://barpepe.es"))
	assert.False(t, Eligible("barpepe"))
}

func TestWorker_FindOnHomepage(t *testing.T) {
	f := &MockFetcher{Pages: map[string]fetcher.Content{
		"https://barpepe.es": {Text: "Reservas: reservas@barpepe.es"},
	}}
	w := New(f, DefaultConfig())

	email, err := w.Find(context.Background(), "https://barpepe.es")
	require.NoError(t, err)
	assert.Equal(t, "reservas@barpepe.es", email)
	assert.Len(t, f.calls(), 1)
}

func TestWorker_ContactFallback(t *testing.T) {
	f := &MockFetcher{Pages: map[string]fetcher.Content{
		"https://barpepe.es": {
			Text:  "Bienvenidos",
			Links: []fetcher.Link{{URL: "https://barpepe.es/contacto", Text: "Contacto"}},
		},
		"https://barpepe.es/contacto": {HTML: `<a href="mailto:hola@barpepe.es">hola</a>`, Text: "hola@barpepe.es"},
	}}
	w := New(f, DefaultConfig())

	email, err := w.Find(context.Background(), "https://barpepe.es")
	require.NoError(t, err)
	assert.Equal(t, "hola@barpepe.es", email)
	assert.Equal(t, []string{"https://barpepe.es", "https://barpepe.es/contacto"}, f.calls())
}

func TestWorker_ContactFallbackDisabled(t *testing.T) {
	f := &MockFetcher{Pages: map[string]fetcher.Content{
		"https://barpepe.es": {Links: []fetcher.Link{{URL: "https://barpepe.es/contacto", Text: "Contacto"}}},
	}}
	cfg := DefaultConfig()
	cfg.FollowContact = false
	w := New(f, cfg)

	email, err := w.Find(context.Background(), "https://barpepe.es")
	require.NoError(t, err)
	assert.Empty(t, email)
	assert.Len(t, f.calls(), 1)
}

func TestWorker_FailureLeavesEmailEmpty(t *testing.T) {
	f := &MockFetcher{Errs: map[string]error{"https://down.es": errors.New("connection refused")}}
	w := New(f, DefaultConfig())

	assert.Empty(t, w.Enrich(context.Background(), "https://down.es"))

	_, err := w.Find(context.Background(), "https://www.instagram.com/bar")
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Len(t, f.calls(), 1, "social sites must not be fetched")
}

func TestWorker_BlacklistedOnly(t *testing.T) {
	f := &MockFetcher{Pages: map[string]fetcher.Content{
		"https://bar.es": {HTML: `<img src="icon@2x.png"> user@example.com email@bar.es`},
	}}
	w := New(f, DefaultConfig())

	email, err := w.Find(context.Background(), "https://bar.es")
	require.NoError(t, err)
	assert.Empty(t, email)
}

func TestWorker_TryStartCap(t *testing.T) {
	f := &MockFetcher{
		Block: make(chan struct{}),
		Pages: map[string]fetcher.Content{
			"https://a.es": {Text: "a@a.es"},
			"https://b.es": {Text: "b@b.es"},
		},
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.SlotWait = 0
	w := New(f, cfg)

	first, ok := w.TryStart(context.Background(), "https://a.es")
	require.True(t, ok)

	_, ok = w.TryStart(context.Background(), "https://b.es")
	assert.False(t, ok, "second enrichment must be skipped while the cap is full")

	_, ok = w.TryStart(context.Background(), "https://www.facebook.com/a")
	assert.False(t, ok, "social sites are never enriched")

	close(f.Block)
	assert.Equal(t, "a@a.es", <-first)
	w.Wait()

	second, ok := w.TryStart(context.Background(), "https://b.es")
	require.True(t, ok, "slot must be released after completion")
	assert.Equal(t, "b@b.es", <-second)
}

func TestWorker_TryStartWaitsForSlot(t *testing.T) {
	f := &MockFetcher{
		Block: make(chan struct{}),
		Pages: map[string]fetcher.Content{
			"https://a.es": {Text: "a@a.es"},
			"https://b.es": {Text: "b@b.es"},
		},
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.SlotWait = 5 * time.Second
	w := New(f, cfg)

	first, ok := w.TryStart(context.Background(), "https://a.es")
	require.True(t, ok)

	// Free the slot shortly after the second caller starts waiting.
	time.AfterFunc(20*time.Millisecond, func() { close(f.Block) })

	second, ok := w.TryStart(context.Background(), "https://b.es")
	require.True(t, ok, "second enrichment should get the slot once the first finishes")
	assert.Equal(t, "a@a.es", <-first)
	assert.Equal(t, "b@b.es", <-second)
	w.Wait()
}

func TestWorker_TryStartSlotWaitExpires(t *testing.T) {
	f := &MockFetcher{Block: make(chan struct{}), Pages: map[string]fetcher.Content{"https://a.es": {Text: "a@a.es"}}}
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.SlotWait = 20 * time.Millisecond
	w := New(f, cfg)

	first, ok := w.TryStart(context.Background(), "https://a.es")
	require.True(t, ok)

	start := time.Now()
	_, ok = w.TryStart(context.Background(), "https://b.es")
	assert.False(t, ok, "enrichment is skipped once the wait expires")
	assert.GreaterOrEqual(t, time.Since(start), cfg.SlotWait)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = w.TryStart(ctx, "https://b.es")
	assert.False(t, ok, "a cancelled caller does not wait")

	close(f.Block)
	<-first
	w.Wait()
}

func TestWorker_TimeoutYieldsEmpty(t *testing.T) {
	f := &MockFetcher{Block: make(chan struct{}), Pages: map[string]fetcher.Content{"https://slow.es": {Text: "x@slow.es"}}}
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	w := New(f, cfg)

	ch, ok := w.TryStart(context.Background(), "https://slow.es")
	require.True(t, ok)
	select {
	case email := <-ch:
		assert.Empty(t, email)
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment did not honour its timeout")
	}
}

func TestWorker_Cache(t *testing.T) {
	f := &MockFetcher{Pages: map[string]fetcher.Content{"https://www.bar.es/": {Text: "info@bar.es"}}}
	cache := NewMemoryCache()
	w := New(f, DefaultConfig(), WithCache(cache))

	for i := 0; i < 2; i++ {
		email, err := w.Find(context.Background(), "https://www.bar.es/")
		require.NoError(t, err)
		assert.Equal(t, "info@bar.es", email)
	}
	assert.Len(t, f.calls(), 1, "second lookup should be served from cache")

	v, err := cache.Get(cacheKey("http://bar.es"))
	require.NoError(t, err, "scheme, www and trailing slash should not change the key")
	assert.Equal(t, "info@bar.es", string(v))
}

func TestWorker_MXCheck(t *testing.T) {
	f := &MockFetcher{Pages: map[string]fetcher.Content{
		"https://bar.es": {Text: "old@dead-domain.es new@bar.es"},
	}}

	w := New(f, DefaultConfig(), WithMXChecker(&MockMX{Domains: map[string]bool{"bar.es": true}}))
	email, err := w.Find(context.Background(), "https://bar.es")
	require.NoError(t, err)
	assert.Equal(t, "new@bar.es", email)

	w = New(f, DefaultConfig(), WithMXChecker(&MockMX{Err: errors.New("no network")}))
	email, err = w.Find(context.Background(), "https://bar.es")
	require.NoError(t, err)
	assert.Equal(t, "old@dead-domain.es", email, "lookup errors keep the first address")
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("k", []byte("v"), time.Minute))
	v, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	now = now.Add(2 * time.Minute)
	_, err = c.Get("k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestPoliteness_Robots(t *testing.T) {
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPoliteness(0, "mapsleads", true)
	ctx := context.Background()

	assert.True(t, p.Allowed(ctx, srv.URL+"/contacto"))
	assert.False(t, p.Allowed(ctx, srv.URL+"/private/area"))
	assert.Equal(t, int32(1), robotsHits.Load(), "robots.txt should be fetched once per host")

	assert.True(t, NewPoliteness(0, "", false).Allowed(ctx, srv.URL+"/private"))
}

func TestPoliteness_Wait(t *testing.T) {
	p := NewPoliteness(50*time.Millisecond, "mapsleads", false)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, p.Wait(ctx, "https://bar.es/a"))
	require.NoError(t, p.Wait(ctx, "https://bar.es/b"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, p.Wait(cancelled, "https://bar.es/c"))
}
