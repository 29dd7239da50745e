package playwright

import (
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// Anti-detection script
const antiDetectScript = `
Object.defineProperty(navigator, 'webdriver', {
	get: () => undefined
});
Object.defineProperty(navigator, 'languages', {
	get: () => ['en-US', 'en']
});
`

// PersistentContext wraps a browser context bound to a user data directory,
// so a Google login survives between runs
type PersistentContext struct {
	pw   *playwright.Playwright
	ctx  playwright.BrowserContext
	page playwright.Page
}

// LaunchPersistentContext launches a browser with persistent user data directory
func LaunchPersistentContext(userDataDir string, opts ...Option) (*PersistentContext, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var ctx playwright.BrowserContext
	switch o.BrowserType {
	case "firefox":
		ctx, err = pw.Firefox.LaunchPersistentContext(userDataDir, o.launchOptions())
	case "webkit":
		ctx, err = pw.WebKit.LaunchPersistentContext(userDataDir, o.launchOptions())
	default:
		ctx, err = pw.Chromium.LaunchPersistentContext(userDataDir, o.launchOptions())
	}
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch persistent context: %w", err)
	}

	if o.AntiDetect {
		if err := ctx.AddInitScript(playwright.Script{Content: playwright.String(antiDetectScript)}); err != nil {
			ctx.Close()
			pw.Stop()
			return nil, fmt.Errorf("failed to inject init script: %w", err)
		}
	}

	return &PersistentContext{pw: pw, ctx: ctx}, nil
}

// Close closes the context and playwright
func (p *PersistentContext) Close() {
	if p.ctx != nil {
		p.ctx.Close()
	}
	if p.pw != nil {
		p.pw.Stop()
	}
}

// Page returns the first open page, creating one if needed
func (p *PersistentContext) Page() (playwright.Page, error) {
	if p.page != nil {
		return p.page, nil
	}
	if pages := p.ctx.Pages(); len(pages) > 0 {
		p.page = pages[0]
		return p.page, nil
	}
	page, err := p.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	p.page = page
	return page, nil
}

// Goto navigates the main page. waitUntil is load, domcontentloaded, networkidle or commit.
func (p *PersistentContext) Goto(url, waitUntil string, timeoutMs float64) error {
	page, err := p.Page()
	if err != nil {
		return err
	}
	opts := playwright.PageGotoOptions{WaitUntil: waitUntilState(waitUntil)}
	if timeoutMs > 0 {
		opts.Timeout = playwright.Float(timeoutMs)
	}
	_, err = page.Goto(url, opts)
	return err
}

// URL returns the main page URL
func (p *PersistentContext) URL() string {
	page, err := p.Page()
	if err != nil {
		return ""
	}
	return page.URL()
}

// Content returns the main page HTML
func (p *PersistentContext) Content() (string, error) {
	page, err := p.Page()
	if err != nil {
		return "", err
	}
	return page.Content()
}

// Cookies returns the context cookies, optionally restricted to urls
func (p *PersistentContext) Cookies(urls ...string) ([]playwright.Cookie, error) {
	return p.ctx.Cookies(urls...)
}

// StorageState saves the storage state to a file
func (p *PersistentContext) StorageState(path string) error {
	if path != "" {
		_, err := p.ctx.StorageState(path)
		return err
	}
	_, err := p.ctx.StorageState()
	return err
}

// CookieMap flattens cookies to name→value, keeping those whose domain passes keep.
// The first cookie seen for a name wins.
func CookieMap(cookies []playwright.Cookie, keep func(domain string) bool) map[string]string {
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if keep != nil && !keep(c.Domain) {
			continue
		}
		if _, seen := out[c.Name]; !seen {
			out[c.Name] = c.Value
		}
	}
	return out
}
