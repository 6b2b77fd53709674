package enrich

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/mapsleads/internal/logger"
)

// Politeness spaces out requests per host and, optionally, honours
// robots.txt for the enrichment user agent.
type Politeness struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   map[string]*robotstxt.Group

	interval      time.Duration
	agent         string
	respectRobots bool
	client        *http.Client
}

// NewPoliteness creates a per-host limiter allowing one request every
// interval. agent is matched against robots.txt groups.
func NewPoliteness(interval time.Duration, agent string, respectRobots bool) *Politeness {
	if agent == "" {
		agent = "mapsleads"
	}
	return &Politeness{
		limiters:      make(map[string]*rate.Limiter),
		robots:        make(map[string]*robotstxt.Group),
		interval:      interval,
		agent:         agent,
		respectRobots: respectRobots,
		client:        &http.Client{Timeout: 5 * time.Second},
	}
}

// Wait blocks until the host of targetURL may be requested again.
func (p *Politeness) Wait(ctx context.Context, targetURL string) error {
	if p.interval <= 0 {
		return nil
	}
	u, err := url.Parse(targetURL)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Host)

	p.mu.Lock()
	limiter, exists := p.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	return limiter.Wait(ctx)
}

// Allowed reports whether robots.txt permits fetching link. Missing or
// unreadable robots files allow everything.
func (p *Politeness) Allowed(ctx context.Context, link string) bool {
	if !p.respectRobots {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)

	p.mu.Lock()
	group, cached := p.robots[host]
	p.mu.Unlock()

	if !cached {
		group = p.fetchRobots(ctx, u.Scheme, u.Host)
		p.mu.Lock()
		p.robots[host] = group
		p.mu.Unlock()
	}

	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (p *Politeness) fetchRobots(ctx context.Context, scheme, host string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", p.agent)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Debug("robots.txt unavailable", "host", host, "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		logger.Debug("robots.txt unreadable", "host", host, "error", err)
		return nil
	}
	return data.FindGroup(p.agent)
}
