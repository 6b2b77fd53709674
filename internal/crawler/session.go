package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/extractor"
	"github.com/jmylchreest/mapsleads/pkg/places"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// State is a step of the session state machine.
type State int

const (
	Idle State = iota
	LoadingFeed
	SelectingCard
	ExtractingDetail
	Deduplicating
	Enriching
	Recording
	Exhausted
	LimitReached
	Aborted
)

var stateNames = [...]string{
	Idle:             "idle",
	LoadingFeed:      "loading_feed",
	SelectingCard:    "selecting_card",
	ExtractingDetail: "extracting_detail",
	Deduplicating:    "deduplicating",
	Enriching:        "enriching",
	Recording:        "recording",
	Exhausted:        "exhausted",
	LimitReached:     "limit_reached",
	Aborted:          "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the session ends in s.
func (s State) Terminal() bool {
	return s == Exhausted || s == LimitReached || s == Aborted
}

// Enricher starts best-effort email discovery for a website. The returned
// channel yields one value. It reports false when the job was not started.
type Enricher interface {
	TryStart(ctx context.Context, website string) (<-chan string, bool)
}

// EnricherFactory builds the session's enricher once its renderer exists,
// so enrichment can open isolated pages from it.
type EnricherFactory func(r renderer.Renderer) Enricher

// Request describes one crawl session.
type Request struct {
	Query    string
	Locality string
	Limit    int
}

// Stats counts what happened during a session.
type Stats struct {
	CardsSeen         int           `json:"cards_seen"`
	PreviewDuplicates int           `json:"preview_duplicates"`
	DetailFailures    int           `json:"detail_failures"`
	Malformed         int           `json:"malformed"`
	PostDuplicates    int           `json:"post_duplicates"`
	Captured          int           `json:"captured"`
	Enriched          int           `json:"enriched"`
	EnrichSkipped     int           `json:"enrich_skipped"`
	Cycles            int           `json:"cycles"`
	Scrolls           int           `json:"scrolls"`
	Duration          time.Duration `json:"duration"`
}

// Result is the outcome of Run. Places is never nil. Err records why a
// session was aborted; it is informational and never needs handling.
type Result struct {
	Places []places.Place
	State  State
	Stats  Stats
	Err    error
}

// Option configures a Controller.
type Option func(*Controller)

// WithEnricher enables email enrichment.
func WithEnricher(f EnricherFactory) Option {
	return func(c *Controller) {
		c.enricher = f
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(State, Stats)) Option {
	return func(c *Controller) {
		c.observe = fn
	}
}

// Controller runs crawl sessions. It is safe to run several sessions
// concurrently; each acquires its own renderer.
type Controller struct {
	launcher renderer.Launcher
	cfg      Config
	preview  *extractor.Extractor
	detail   *extractor.Extractor
	enricher EnricherFactory
	observe  func(State, Stats)
}

// New creates a Controller. Zero config values fall back to DefaultConfig.
func New(launcher renderer.Launcher, cfg Config, opts ...Option) (*Controller, error) {
	if launcher == nil {
		return nil, errors.New("crawler: nil launcher")
	}
	cfg = cfg.withDefaults()

	preview, err := extractor.New(cfg.Preview)
	if err != nil {
		return nil, fmt.Errorf("preview config: %w", err)
	}
	detail, err := extractor.New(cfg.Detail)
	if err != nil {
		return nil, fmt.Errorf("detail config: %w", err)
	}

	c := &Controller{
		launcher: launcher,
		cfg:      cfg,
		preview:  preview,
		detail:   detail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetPlaces returns up to limit unique places for query in locality. It
// never fails: degradation only shows as a shorter slice.
func (c *Controller) GetPlaces(ctx context.Context, query, locality string, limit int) []places.Place {
	return c.Run(ctx, Request{Query: query, Locality: locality, Limit: limit}).Places
}

// Run executes one session. The renderer is released before Run returns.
func (c *Controller) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	s := &session{
		c:       c,
		req:     req,
		visited: NewVisitedSet(),
		places:  []places.Place{},
		pending: make(map[int]<-chan string),
	}

	if req.Limit <= 0 {
		s.state = LimitReached
		return s.result(start)
	}

	log := logger.With("query", req.Query, "locality", req.Locality, "limit", req.Limit)
	log.Info("session starting")

	r, err := c.launcher.Launch(ctx)
	if err != nil {
		s.abort(fmt.Errorf("launching renderer: %w", err))
		return s.result(start)
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Debug("renderer close failed", "error", err)
		}
	}()

	s.r = r
	s.feed = NewFeedDriver(r, c.cfg.Selectors, c.cfg.SettleDelay, c.cfg.ScrollDelta, c.cfg.StuckThreshold)
	s.cards = NewCardIterator(r, c.cfg.Selectors.Card, c.preview)
	if c.enricher != nil {
		s.enrich = c.enricher(r)
	}

	s.run(ctx)
	s.collect()

	res := s.result(start)
	log.Info("session finished",
		"state", res.State,
		"places", len(res.Places),
		"enriched", res.Stats.Enriched,
		"cycles", res.Stats.Cycles,
		"duration", res.Stats.Duration.Round(time.Millisecond))
	return res
}

// session is the state owned by one Run. Only the walking goroutine
// touches it.
type session struct {
	c      *Controller
	r      renderer.Renderer
	req    Request
	feed   *FeedDriver
	cards  *CardIterator
	enrich Enricher

	visited *VisitedSet
	places  []places.Place
	pending map[int]<-chan string

	state     State
	stats     Stats
	err       error
	lastTitle string
	lastURL   string
}

func (s *session) run(ctx context.Context) {
	s.transition(LoadingFeed)
	direct, err := s.open(ctx)
	if err != nil {
		s.abort(err)
		return
	}
	if direct {
		s.single(ctx)
		return
	}

	for {
		captured, done := s.cycle(ctx)
		if done {
			return
		}
		s.stats.Cycles++

		s.transition(LoadingFeed)
		if s.feed.RecordCycle(captured) {
			logger.Info("feed exhausted", "cycles", s.stats.Cycles, "places", len(s.places))
			s.transition(Exhausted)
			return
		}

		moved, err := s.feed.EnsureLoaded(ctx)
		if err != nil {
			if s.fatal(ctx, err) {
				return
			}
			logger.Debug("feed load failed", "error", err)
		}
		if !moved && s.feed.AtEnd(ctx) {
			logger.Info("end of results reached", "places", len(s.places))
			s.transition(Exhausted)
			return
		}
	}
}

// open navigates to the results page and waits for either cards or a
// single place view. It reports true when the query resolved straight to
// one place.
func (s *session) open(ctx context.Context) (bool, error) {
	cfg := s.c.cfg
	target := SearchURL(cfg.BaseURL, s.req.Query, s.req.Locality, cfg.Language)

	if err := s.r.Navigate(ctx, target, cfg.NavigateTimeout); err != nil {
		return false, fmt.Errorf("opening %s: %w", target, err)
	}
	s.lastURL = target
	s.acceptConsent(ctx)

	ready := fmt.Sprintf(`!!(document.querySelector(%s) || document.querySelector(%s))`,
		quote(cfg.Selectors.Card), quote(cfg.Selectors.Title))
	if err := s.r.WaitUntil(ctx, ready, cfg.NavigateTimeout); err != nil {
		if !isRecoverable(err) || ctx.Err() != nil {
			return false, err
		}
		logger.Warn("no results rendered", "url", target, "error", err)
		return false, nil
	}

	cards, err := s.r.Count(ctx, cfg.Selectors.Card)
	if err != nil && !isRecoverable(err) {
		return false, err
	}
	if cards > 0 {
		return false, nil
	}
	titles, err := s.r.Count(ctx, cfg.Selectors.Title)
	if err != nil && !isRecoverable(err) {
		return false, err
	}
	return titles > 0, nil
}

// acceptConsent clicks through a consent dialog if one is shown.
func (s *session) acceptConsent(ctx context.Context) {
	sel := s.c.cfg.Selectors.Consent
	if sel == "" {
		return
	}
	n, err := s.r.Count(ctx, sel)
	if err != nil || n == 0 {
		return
	}
	if err := s.r.Click(ctx, sel, 0); err != nil {
		logger.Debug("consent click failed", "error", err)
		return
	}
	logger.Debug("consent accepted")
	_ = sleep(ctx, s.c.cfg.SettleDelay)
}

// single records the place shown when a query resolves directly to one
// detail view.
func (s *session) single(ctx context.Context) {
	logger.Info("query resolved to a single place")
	s.stats.CardsSeen++
	s.transition(ExtractingDetail)

	rec, ok, err := s.read(ctx)
	if err != nil {
		s.fatal(ctx, err)
		return
	}
	if ok {
		s.capture(ctx, "", rec)
	}
	if s.state.Terminal() {
		return
	}
	s.transition(Exhausted)
}

// cycle consumes every loaded card that has not been seen. It returns the
// number of records captured and whether the session reached a terminal
// state.
func (s *session) cycle(ctx context.Context) (int, bool) {
	captured := 0
	for {
		if err := ctx.Err(); err != nil {
			s.abort(err)
			return captured, true
		}

		s.transition(SelectingCard)
		p, ok, err := s.cards.Next(ctx, s.visited)
		if err != nil {
			if s.fatal(ctx, err) {
				return captured, true
			}
			logger.Debug("reading previews failed", "error", err)
			return captured, false
		}
		if !ok {
			return captured, false
		}
		s.stats.CardsSeen++

		s.transition(ExtractingDetail)
		rec, ok, err := s.detail(ctx, p)
		if err != nil {
			if s.fatal(ctx, err) {
				return captured, true
			}
			continue
		}
		if !ok {
			continue
		}

		if s.capture(ctx, p.Key, rec) {
			captured++
		}
		if s.state == LimitReached {
			return captured, true
		}
	}
}

// detail opens the detail view of p and extracts its record. A false
// result with a nil error means the card was skipped.
func (s *session) detail(ctx context.Context, p Preview) (places.Place, bool, error) {
	if err := sleep(ctx, s.c.cfg.Jitter.Next()); err != nil {
		return places.Place{}, false, err
	}

	if err := s.r.Click(ctx, s.c.cfg.Selectors.Card, p.Index); err != nil {
		if !isRecoverable(err) {
			return places.Place{}, false, err
		}
		s.stats.DetailFailures++
		logger.Debug("card click failed", "index", p.Index, "name", p.Name, "error", err)
		return places.Place{}, false, nil
	}

	if err := s.r.WaitUntil(ctx, s.detailReady(), s.c.cfg.DetailTimeout); err != nil {
		if !isRecoverable(err) {
			return places.Place{}, false, err
		}
		s.stats.DetailFailures++
		logger.Debug("detail view did not render", "index", p.Index, "name", p.Name, "error", err)
		return places.Place{}, false, nil
	}

	return s.read(ctx)
}

// read extracts the record of the currently displayed detail view.
func (s *session) read(ctx context.Context) (places.Place, bool, error) {
	s.lastTitle = s.title(ctx)
	if u, err := s.r.URL(ctx); err == nil {
		s.lastURL = u
	}

	rec, err := s.c.detail.Extract(ctx, extractor.RendererSource{R: s.r})
	switch {
	case errors.Is(err, extractor.ErrMissingName):
		s.stats.Malformed++
		logger.Debug("record without name discarded", "url", s.lastURL)
		return places.Place{}, false, nil
	case err != nil:
		if !isRecoverable(err) {
			return places.Place{}, false, err
		}
		s.stats.DetailFailures++
		logger.Debug("detail extraction failed", "url", s.lastURL, "error", err)
		return places.Place{}, false, nil
	case !rec.Valid():
		s.stats.Malformed++
		return places.Place{}, false, nil
	}

	if rec.GoogleURL == "" {
		rec.GoogleURL = s.lastURL
	}
	if rec.City == "" {
		rec.City = s.req.Locality
	}
	return rec, true, nil
}

// capture deduplicates rec, starts its enrichment and appends it. It
// reports whether the record was new.
func (s *session) capture(ctx context.Context, previewKey string, rec places.Place) bool {
	s.transition(Deduplicating)
	key := rec.Key()
	if s.visited.IsDuplicate(key) {
		s.stats.PostDuplicates++
		logger.Debug("duplicate record discarded", "name", rec.Name, "key", key)
		return false
	}
	s.visited.MarkSeen(previewKey)
	s.visited.MarkSeen(key)

	s.transition(Enriching)
	if s.enrich != nil && rec.Website != "" {
		if ch, ok := s.enrich.TryStart(ctx, rec.Website); ok {
			s.pending[len(s.places)] = ch
		} else {
			s.stats.EnrichSkipped++
		}
	}

	s.transition(Recording)
	s.places = append(s.places, rec)
	s.stats.Captured++
	logger.Info("place captured", "name", rec.Name, "address", rec.Address, "count", len(s.places))

	if len(s.places) >= s.req.Limit {
		s.transition(LimitReached)
	}
	return true
}

// collect assigns finished enrichment results to their records. Each
// channel yields once, bounded by the enricher's own timeout.
func (s *session) collect() {
	if len(s.pending) == 0 {
		return
	}
	logger.Debug("waiting for enrichment", "pending", len(s.pending))
	for i, ch := range s.pending {
		if email := <-ch; email != "" {
			s.places[i].Email = email
			s.stats.Enriched++
		}
	}
	s.pending = nil
}

// detailReady is a predicate that holds once the detail title shows a
// place other than the last one read, or the location changed.
func (s *session) detailReady() string {
	return fmt.Sprintf(`(function(sel, prev, prevURL) {
	const el = document.querySelector(sel);
	if (!el) return false;
	const t = el.textContent.trim();
	return t !== "" && (t !== prev || location.href !== prevURL);
})(%s, %s, %s)`, quote(s.c.cfg.Selectors.Title), quote(s.lastTitle), quote(s.lastURL))
}

func (s *session) title(ctx context.Context) string {
	var t string
	script := fmt.Sprintf(`(function(sel) {
	const el = document.querySelector(sel);
	return el ? el.textContent.trim() : "";
})(%s)`, quote(s.c.cfg.Selectors.Title))
	if err := s.r.Evaluate(ctx, script, &t); err != nil {
		return ""
	}
	return t
}

func (s *session) transition(to State) {
	s.state = to
	if s.c.observe != nil {
		s.c.observe(to, s.stats)
	}
}

// fatal aborts the session when err means the renderer or the caller's
// context is gone.
func (s *session) fatal(ctx context.Context, err error) bool {
	if ctx.Err() == nil && isRecoverable(err) {
		return false
	}
	s.abort(err)
	return true
}

func (s *session) abort(err error) {
	s.err = err
	logger.Warn("session aborted", "error", err, "places", len(s.places))
	s.transition(Aborted)
}

func (s *session) result(start time.Time) Result {
	s.stats.Duration = time.Since(start)
	if s.cards != nil {
		s.stats.PreviewDuplicates = s.cards.Skipped()
	}
	if s.feed != nil {
		s.stats.Scrolls = s.feed.Scrolls()
	}
	return Result{
		Places: s.places,
		State:  s.state,
		Stats:  s.stats,
		Err:    s.err,
	}
}

// isRecoverable reports whether err only fails the current unit of work.
func isRecoverable(err error) bool {
	return !renderer.IsFatal(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
