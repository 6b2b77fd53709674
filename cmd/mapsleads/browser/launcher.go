package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/pkg/renderer"
)

// Launcher starts a new browser process for every crawl session.
// It implements renderer.Launcher.
type Launcher struct {
	config    Config
	allocCtx  context.Context
	cancelCtx context.CancelFunc

	mu   sync.Mutex
	live int
}

var _ renderer.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher. No browser is started until Launch.
func NewLauncher(cfg Config) *Launcher {
	cfg = cfg.withDefaults()
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	logger.Debug("browser launcher created",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
		"proxy", cfg.ProxyURL != "")

	return &Launcher{config: cfg, allocCtx: allocCtx, cancelCtx: cancel}
}

// Launch starts a browser and returns its first tab.
func (l *Launcher) Launch(ctx context.Context) (renderer.Renderer, error) {
	tabCtx, cancel := chromedp.NewContext(l.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	var actions []chromedp.Action
	if l.config.Stealth {
		actions = append(actions, injectStealth(l.config.Languages))
	}

	// The first Run starts the browser process and binds it to tabCtx, so it
	// must not run on a derived context with a deadline.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx, actions...)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	l.mu.Lock()
	l.live++
	l.mu.Unlock()

	p := newPage(tabCtx, func() {
		cancel()
		l.mu.Lock()
		l.live--
		l.mu.Unlock()
	}, l.config, false)

	logger.Debug("browser launched")
	return p, nil
}

// Live returns the number of browsers that have not been closed.
func (l *Launcher) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// Close shuts down every browser started by the launcher.
func (l *Launcher) Close() error {
	if l.cancelCtx != nil {
		l.cancelCtx()
	}
	return nil
}
