package browser

import (
	"os/exec"

	"github.com/jmylchreest/mapsleads/internal/logger"
)

// Chrome/Chromium binary names and install locations, in preference order.
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath returns the configured binary when it exists, otherwise
// the first Chrome/Chromium found on PATH or in a common location. It
// returns "" when nothing is found and chromedp's own lookup should be used.
func FindChromePath(configured string) string {
	candidates := chromeBinaryNames
	if configured != "" {
		candidates = append([]string{configured}, candidates...)
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary", "name", name, "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, falling back to chromedp lookup")
	return ""
}
