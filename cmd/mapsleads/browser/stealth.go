package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript hides the most common headless giveaways. %s is the JSON
// array of navigator.languages.
const stealthScript = `
(function() {
    'use strict';

    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
    delete Object.getPrototypeOf(navigator).webdriver;

    // Headless Chrome reports no plugins.
    const names = ['Chrome PDF Plugin', 'Chrome PDF Viewer', 'Native Client'];
    const plugins = Object.create(PluginArray.prototype);
    names.forEach((name, i) => {
        const p = Object.create(Plugin.prototype);
        Object.defineProperty(p, 'name', { value: name, enumerable: true });
        plugins[i] = p;
    });
    Object.defineProperty(plugins, 'length', { value: names.length });
    Object.defineProperty(navigator, 'plugins', { get: () => plugins, configurable: true });

    const languages = %s;
    Object.defineProperty(navigator, 'languages', { get: () => Object.freeze(languages.slice()), configurable: true });

    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: false });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = { connect: function() {}, sendMessage: function() {} };
    }

    const query = Permissions.prototype.query;
    Permissions.prototype.query = function(parameters) {
        if (parameters && parameters.name === 'notifications') {
            return Promise.resolve({ state: Notification.permission });
        }
        return query.call(this, parameters);
    };

    if (!navigator.hardwareConcurrency) {
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 4, configurable: true });
    }
})();
`

// StealthScript renders the fingerprint patch for the given languages.
func StealthScript(languages []string) string {
	langs, err := json.Marshal(languages)
	if err != nil || len(languages) == 0 {
		langs = []byte(`["en-US","en"]`)
	}
	return fmt.Sprintf(stealthScript, langs)
}

// allocatorOptions returns the Chrome flags for cfg.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.Stealth {
		opts = append(opts,
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("excludeSwitches", "enable-automation"),
			chromedp.Flag("disable-infobars", true),
			chromedp.Flag("disable-background-timer-throttling", true),
			chromedp.Flag("disable-backgrounding-occluded-windows", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
		)
	}
	if len(cfg.Languages) > 0 {
		opts = append(opts, chromedp.Flag("lang", cfg.Languages[0]))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	if path := FindChromePath(cfg.ChromePath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// injectStealth registers the patch for every document loaded afterwards.
func injectStealth(languages []string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(StealthScript(languages)).Do(ctx)
		return err
	})
}
