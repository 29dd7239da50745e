// Package playwright wraps the persistent Chromium profile used to sign in
// to Google and to harvest fresh cookies.
package playwright

import (
	"github.com/playwright-community/playwright-go"
)

// Options for browser launch
type Options struct {
	Headless    bool
	BrowserType string // chromium, firefox, webkit
	SlowMo      float64
	Args        []string
	AntiDetect  bool
}

// Option is a function that configures Options
type Option func(*Options)

// DefaultOptions returns default browser options
func DefaultOptions() *Options {
	return &Options{
		Headless:    true,
		BrowserType: "chromium",
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
		AntiDetect: true,
	}
}

// WithHeadless sets headless mode
func WithHeadless(headless bool) Option {
	return func(o *Options) {
		o.Headless = headless
	}
}

// WithBrowserType sets browser type (chromium, firefox, webkit)
func WithBrowserType(browserType string) Option {
	return func(o *Options) {
		o.BrowserType = browserType
	}
}

// WithSlowMo sets slow motion delay in milliseconds
func WithSlowMo(ms float64) Option {
	return func(o *Options) {
		o.SlowMo = ms
	}
}

// WithArgs sets browser launch arguments
func WithArgs(args []string) Option {
	return func(o *Options) {
		o.Args = args
	}
}

// WithAntiDetect enables/disables anti-detection scripts
func WithAntiDetect(enabled bool) Option {
	return func(o *Options) {
		o.AntiDetect = enabled
	}
}

// launchOptions maps Options onto the persistent context launch call
func (o *Options) launchOptions() playwright.BrowserTypeLaunchPersistentContextOptions {
	args := make([]string, 0, len(o.Args)+2)
	args = append(args, o.Args...)
	args = append(args,
		"--disable-blink-features=AutomationControlled",
		"--password-store=basic",
	)

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(o.Headless),
		Args:              args,
		IgnoreDefaultArgs: []string{"--enable-automation"},
	}
	if o.SlowMo > 0 {
		opts.SlowMo = playwright.Float(o.SlowMo)
	}
	return opts
}

// waitUntilState parses load, domcontentloaded, networkidle or commit
func waitUntilState(state string) *playwright.WaitUntilState {
	switch state {
	case "load":
		return playwright.WaitUntilStateLoad
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	case "commit":
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}
