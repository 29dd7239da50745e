package notebooklm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/crosszan/nblm/pkg/logger"
	"github.com/crosszan/nblm/pkg/playwright"
	"github.com/crosszan/nblm/repos/notebooklm/rpc"
)

const (
	moduleLogin = "notebooklm.login"

	defaultLoginTimeout = 5 * time.Minute
	loginPollInterval   = 2 * time.Second
	refreshNavTimeoutMs = 60000
)

// LoginOptions configures the interactive browser login
type LoginOptions struct {
	StoragePath string
	ProfileDir  string
	Timeout     time.Duration
	Logger      logger.ILogger
}

func (o *LoginOptions) withDefaults() {
	if o.StoragePath == "" {
		o.StoragePath = GetStoragePath()
	}
	if o.ProfileDir == "" {
		o.ProfileDir = GetBrowserProfileDir()
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultLoginTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
}

// Login performs browser-based Google authentication using a persistent profile
// and saves the resulting storage state
func Login(ctx context.Context, opts LoginOptions) error {
	opts.withDefaults()

	if err := os.MkdirAll(opts.ProfileDir, 0o700); err != nil {
		return fmt.Errorf("failed to create browser profile directory: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Opening browser for Google login...")
	fmt.Fprintf(os.Stderr, "Using persistent profile: %s\n", opts.ProfileDir)

	pctx, err := playwright.LaunchPersistentContext(opts.ProfileDir, playwright.WithHeadless(false))
	if err != nil {
		return fmt.Errorf("failed to create browser: %w", err)
	}
	defer pctx.Close()

	if err := pctx.Goto(rpc.BaseURL, "networkidle", 0); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Complete the Google login in the browser window.")
	fmt.Fprintln(os.Stderr, "The browser closes once the NotebookLM homepage is loaded.")

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	for {
		if loggedIn(pctx) {
			if err := pctx.StorageState(opts.StoragePath); err != nil {
				return fmt.Errorf("failed to save storage state: %w", err)
			}
			if err := os.Chmod(opts.StoragePath, 0o600); err != nil {
				return fmt.Errorf("failed to set file permissions: %w", err)
			}
			opts.Logger.Info(moduleLogin, "login completed", map[string]interface{}{
				"storage_path": opts.StoragePath,
			})
			fmt.Fprintf(os.Stderr, "Credentials saved to %s\n", opts.StoragePath)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("login timed out after %v: %w", opts.Timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// loggedIn reports whether the page is the NotebookLM homepage with a CSRF token
func loggedIn(pctx *playwright.PersistentContext) bool {
	if !isLoggedInURL(pctx.URL()) {
		return false
	}
	html, err := pctx.Content()
	if err != nil {
		return false
	}
	_, err = ExtractCSRFToken(html)
	return err == nil
}

// isLoggedInURL checks if the URL indicates successful login
func isLoggedInURL(u string) bool {
	return strings.Contains(u, "notebooklm.google.com") &&
		!strings.Contains(u, "accounts.google.com")
}

// BrowserRefresher reads fresh cookies from the persistent login profile
// in a headless browser. It implements CookieRefresher.
type BrowserRefresher struct {
	ProfileDir string
	// StoragePath, when set, receives the refreshed storage state
	StoragePath string
	Logger      logger.ILogger
}

// RefreshCookies visits NotebookLM with the saved profile and returns its Google cookies
func (b *BrowserRefresher) RefreshCookies(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profile := b.ProfileDir
	if profile == "" {
		profile = GetBrowserProfileDir()
	}
	log := b.Logger
	if log == nil {
		log = logger.NewNop()
	}

	pctx, err := playwright.LaunchPersistentContext(profile, playwright.WithHeadless(true))
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer pctx.Close()

	if err := pctx.Goto(rpc.BaseURL, "load", refreshNavTimeoutMs); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	if !isLoggedInURL(pctx.URL()) {
		return nil, fmt.Errorf("%w: browser profile is signed out, run login again", rpc.ErrAuthError)
	}

	raw, err := pctx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := playwright.CookieMap(raw, isAllowedCookieDomain)

	if b.StoragePath != "" {
		if err := pctx.StorageState(b.StoragePath); err != nil {
			log.Warn(moduleLogin, "failed to persist refreshed storage state", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			restrictStorageFile(b.StoragePath, log)
		}
	}

	log.Info(moduleLogin, "cookies refreshed from browser profile", map[string]interface{}{
		"count": len(cookies),
	})
	return cookies, nil
}

// LoginWithExistingCookies reuses stored auth when the homepage still accepts it,
// otherwise runs the interactive login
func LoginWithExistingCookies(ctx context.Context, opts LoginOptions, clientOpts ...Option) (*Client, error) {
	opts.withDefaults()

	if _, err := os.Stat(opts.StoragePath); err == nil {
		client, err := NewClientFromStorage(opts.StoragePath, clientOpts...)
		if err == nil {
			if err := client.RefreshTokens(ctx); err == nil {
				return client, nil
			}
		}
		fmt.Fprintln(os.Stderr, "Existing session expired, need to re-login")
	}

	if err := Login(ctx, opts); err != nil {
		return nil, err
	}
	return NewClientFromStorage(opts.StoragePath, clientOpts...)
}

// restrictStorageFile makes a refreshed storage file owner-only, warning on failure
func restrictStorageFile(path string, log logger.ILogger) {
	if err := os.Chmod(path, 0o600); err != nil {
		log.Warn(moduleLogin, "failed to restrict storage state permissions", map[string]interface{}{
			"storage_path": path,
			"error":        err.Error(),
		})
	}
}
