package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mapsleads/cmd/mapsleads/browser"
	"github.com/jmylchreest/mapsleads/internal/crawler"
	"github.com/jmylchreest/mapsleads/internal/logger"
	"github.com/jmylchreest/mapsleads/internal/sink"
	"github.com/jmylchreest/mapsleads/internal/version"
	"github.com/jmylchreest/mapsleads/pkg/enrich"
	"github.com/jmylchreest/mapsleads/pkg/extractor"
	"github.com/jmylchreest/mapsleads/pkg/fetcher"
	"github.com/jmylchreest/mapsleads/pkg/mapsleads"
)

// addCrawlFlags registers the flags shared by every command that searches.
func addCrawlFlags(flags *pflag.FlagSet) {
	// Browser
	flags.Bool("headless", true, "run the browser without a window")
	flags.Bool("stealth", true, "patch common headless browser fingerprints")
	flags.String("chrome-path", "", "Chrome/Chromium binary (default: search PATH)")
	flags.String("proxy", "", "browser proxy URL, e.g. socks5://127.0.0.1:9050")
	flags.String("lang", "en", "interface language of the search page")

	// Crawl
	flags.String("strategies", "", "YAML or JSON file overriding detail extraction strategies")
	flags.Duration("detail-timeout", crawler.DefaultConfig().DetailTimeout, "wait for a detail view to render")
	flags.Duration("settle", crawler.DefaultConfig().SettleDelay, "wait after each feed scroll")
	flags.Int("stuck-threshold", crawler.DefaultConfig().StuckThreshold, "scrolls without new places before the feed counts as exhausted")
	flags.Duration("jitter-min", 300*time.Millisecond, "minimum pause before opening a detail view")
	flags.Duration("jitter-max", 900*time.Millisecond, "maximum pause before opening a detail view")

	// Enrichment
	flags.String("enrich", string(mapsleads.EnrichBrowser), "email enrichment: browser, static, off")
	flags.Int("max-concurrent-enrich", enrich.DefaultConfig().MaxConcurrent, "simultaneous website lookups")
	flags.Duration("enrich-timeout", enrich.DefaultConfig().Timeout, "time limit for one website lookup")
	flags.Duration("enrich-slot-wait", enrich.DefaultConfig().SlotWait, "wait for a free lookup slot before skipping a website (0 = skip at once)")
	flags.String("max-page-size", "2MB", "truncate fetched websites (e.g. 512KB, 2MB, 0=unlimited)")
	flags.Bool("no-contact-page", false, "do not follow a contact/about link when the home page has no email")
	flags.StringSlice("memcache", nil, "memcached servers for caching lookups (host:port, repeatable)")
	flags.Bool("verify-mx", false, "drop emails whose domain has no MX record")
	flags.Duration("host-interval", mapsleads.DefaultConfig().HostInterval, "minimum gap between requests to one website")
	flags.Bool("ignore-robots", false, "fetch websites even when robots.txt disallows it")

	// Persistence
	flags.StringSlice("sink", nil, "store results in a sink: "+strings.Join(sink.Schemes(), ", ")+" (repeatable)")
}

// browserConfig builds the launcher configuration from flags and config.
func browserConfig() browser.Config {
	cfg := browser.DefaultConfig()
	cfg.Headless = viper.GetBool("headless")
	cfg.Stealth = viper.GetBool("stealth")
	cfg.ChromePath = viper.GetString("chrome-path")
	cfg.ProxyURL = viper.GetString("proxy")
	if lang := viper.GetString("lang"); lang != "" {
		cfg.Languages = []string{lang}
	}
	return cfg
}

// parseByteSize parses a human size; "" and "0" mean no limit.
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

// clientOptions translates flags and config into client options.
func clientOptions() ([]mapsleads.Option, error) {
	crawlCfg := crawler.DefaultConfig()
	crawlCfg.Language = viper.GetString("lang")
	crawlCfg.DetailTimeout = viper.GetDuration("detail-timeout")
	crawlCfg.SettleDelay = viper.GetDuration("settle")
	crawlCfg.StuckThreshold = viper.GetInt("stuck-threshold")
	crawlCfg.Jitter = crawler.RandomJitter{
		Min: viper.GetDuration("jitter-min"),
		Max: viper.GetDuration("jitter-max"),
	}

	if path := viper.GetString("strategies"); path != "" {
		detail, err := extractor.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		crawlCfg.Detail = detail
		logger.Debug("strategies loaded", "path", path, "name", detail.Name, "fields", len(detail.Fields))
	}

	maxPage, err := parseByteSize(viper.GetString("max-page-size"))
	if err != nil {
		return nil, err
	}

	enrichCfg := enrich.DefaultConfig()
	enrichCfg.MaxConcurrent = viper.GetInt("max-concurrent-enrich")
	enrichCfg.Timeout = viper.GetDuration("enrich-timeout")
	enrichCfg.SlotWait = viper.GetDuration("enrich-slot-wait")
	enrichCfg.MaxBodySize = maxPage
	enrichCfg.FollowContact = !viper.GetBool("no-contact-page")

	mode := mapsleads.EnrichMode(viper.GetString("enrich"))

	opts := []mapsleads.Option{
		mapsleads.WithCrawlConfig(crawlCfg),
		mapsleads.WithEnrichMode(mode),
		mapsleads.WithEnrichConfig(enrichCfg),
		mapsleads.WithUserAgent(fetcher.DefaultUserAgent + " " + version.UserAgentSuffix()),
		mapsleads.WithVerifyMX(viper.GetBool("verify-mx")),
		mapsleads.WithPoliteness(viper.GetDuration("host-interval"), !viper.GetBool("ignore-robots")),
	}
	if servers := viper.GetStringSlice("memcache"); len(servers) > 0 {
		opts = append(opts, mapsleads.WithMemcache(servers...))
	}
	return opts, nil
}

// newClient creates a client driving a local browser. The launcher must be
// closed after the client.
func newClient(extra ...mapsleads.Option) (*mapsleads.Client, *browser.Launcher, error) {
	opts, err := clientOptions()
	if err != nil {
		return nil, nil, err
	}

	launcher := browser.NewLauncher(browserConfig())
	opts = append(opts, mapsleads.WithLauncher(launcher))
	opts = append(opts, extra...)

	client, err := mapsleads.New(opts...)
	if err != nil {
		_ = launcher.Close()
		return nil, nil, err
	}
	return client, launcher, nil
}

// openSinks opens every configured sink.
func openSinks(ctx context.Context) (sink.Multi, error) {
	uris := viper.GetStringSlice("sink")
	if len(uris) == 0 {
		return nil, nil
	}
	m, err := sink.Open(ctx, uris...)
	if err != nil {
		return nil, err
	}
	logger.Debug("sinks opened", "count", len(m))
	return m, nil
}
