// Package browser implements the renderer capability on top of a local
// Chrome/Chromium driven through chromedp. Every Launch starts a fresh
// browser; isolated pages run in their own browser context with images,
// stylesheets, fonts and media blocked.
package browser

import (
	"time"
)

// Config holds configuration for the chromedp launcher.
type Config struct {
	ChromePath    string        // Empty searches the usual install locations
	Headless      bool          // Run without a window
	Stealth       bool          // Patch common automation fingerprints
	UserAgent     string        // Empty keeps the browser default
	Languages     []string      // navigator.languages and Accept-Language
	ActionTimeout time.Duration // Upper bound for a single page operation
	WindowWidth   int
	WindowHeight  int
	ProxyURL      string // e.g. socks5://127.0.0.1:9050
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		Stealth:       true,
		UserAgent:     defaultUserAgent,
		Languages:     []string{"en-US", "en"},
		ActionTimeout: 10 * time.Second,
		WindowWidth:   1366,
		WindowHeight:  900,
	}
}

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if len(c.Languages) == 0 {
		c.Languages = def.Languages
	}
	return c
}
