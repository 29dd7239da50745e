package notebooklm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/crosszan/nblm/pkg/env"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

const (
	defaultStorageDir  = ".notebooklm"
	storageFileName    = "storage_state.json"
	browserProfileName = "browser_profile"
	envAuthJSON        = "NOTEBOOKLM_AUTH_JSON"
	envNotebookLMHome  = "NOTEBOOKLM_HOME"
)

// allowedCookieSites are the registrable domains whose cookies authenticate NotebookLM
var allowedCookieSites = map[string]bool{
	"google.com":            true,
	"googleusercontent.com": true,
}

var (
	csrfPattern       = regexp.MustCompile(`"SNlM0e"\s*:\s*"([^"]+)"`)
	sessionPattern    = regexp.MustCompile(`"FdrFJe"\s*:\s*"([^"]+)"`)
	sessionFallback   = regexp.MustCompile(`f\.sid["\s:=]+["']?(-?\d+)`)
	buildLabelPattern = regexp.MustCompile(`"cfb2h"\s*:\s*"([^"]+)"`)
)

// PlaywrightStorageState represents Playwright's storage state format
type PlaywrightStorageState struct {
	Cookies []PlaywrightCookie `json:"cookies"`
	Origins []any              `json:"origins,omitempty"`
}

// PlaywrightCookie represents a cookie in Playwright format
type PlaywrightCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// CredentialStore holds the cookie map and page tokens of one client.
// Safe for concurrent use.
type CredentialStore struct {
	mu     sync.RWMutex
	tokens *vo.AuthTokens
}

// NewCredentialStore copies tokens into a new store
func NewCredentialStore(tokens *vo.AuthTokens) *CredentialStore {
	if tokens == nil {
		tokens = &vo.AuthTokens{}
	}
	t := tokens.Clone()
	if t.Cookies == nil {
		t.Cookies = make(map[string]string)
	}
	return &CredentialStore{tokens: t}
}

// Snapshot returns a copy of the current credentials
func (s *CredentialStore) Snapshot() *vo.AuthTokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Clone()
}

// HasPageTokens reports whether a CSRF token is known
func (s *CredentialStore) HasPageTokens() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.CSRFToken != ""
}

// HasCookies reports whether any cookie is held
func (s *CredentialStore) HasCookies() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens.Cookies) > 0
}

// CookieHeader renders the Cookie header value
func (s *CredentialStore) CookieHeader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.CookieHeader()
}

// SetPageTokens stores values extracted from the homepage.
// An empty build label keeps the previous one.
func (s *CredentialStore) SetPageTokens(csrf, sessionID, buildLabel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.CSRFToken = csrf
	s.tokens.SessionID = sessionID
	if buildLabel != "" {
		s.tokens.BuildLabel = buildLabel
	}
	s.tokens.ExtractedAt = time.Now()
}

// ReplaceCookies swaps the whole cookie map and drops the page tokens,
// which belong to the old session
func (s *CredentialStore) ReplaceCookies(cookies map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.Cookies = make(map[string]string, len(cookies))
	for k, v := range cookies {
		s.tokens.Cookies[k] = v
	}
	s.tokens.CSRFToken = ""
	s.tokens.SessionID = ""
}

// AbsorbCookies merges rotated Set-Cookie values into the store.
// Deleted cookies (MaxAge < 0) are removed. Returns how many names changed.
func (s *CredentialStore) AbsorbCookies(cookies []*http.Cookie) int {
	if len(cookies) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.Domain != "" && !isAllowedCookieDomain(c.Domain) {
			continue
		}
		if c.MaxAge < 0 {
			if _, ok := s.tokens.Cookies[c.Name]; ok {
				delete(s.tokens.Cookies, c.Name)
				changed++
			}
			continue
		}
		if s.tokens.Cookies[c.Name] != c.Value {
			s.tokens.Cookies[c.Name] = c.Value
			changed++
		}
	}
	return changed
}

// LoadAuthTokens loads authentication tokens from storage.
// Priority: explicit path, NOTEBOOKLM_AUTH_JSON, default location.
func LoadAuthTokens(storagePath string) (*vo.AuthTokens, error) {
	var data []byte
	var err error

	if storagePath != "" {
		data, err = os.ReadFile(storagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read storage file: %w", err)
		}
	} else if envJSON := os.Getenv(envAuthJSON); envJSON != "" {
		data = []byte(envJSON)
	} else {
		path := GetStoragePath()
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("no auth found at %s: %w", path, err)
		}
	}

	return ParseStorageState(data)
}

// GetStorageDir returns the storage directory path
func GetStorageDir() string {
	homeDir, _ := os.UserHomeDir()
	return env.GetDefault(envNotebookLMHome, filepath.Join(homeDir, defaultStorageDir))
}

// GetStoragePath returns the full storage file path
func GetStoragePath() string {
	return filepath.Join(GetStorageDir(), storageFileName)
}

// GetBrowserProfileDir returns the persistent Chromium profile used for login
func GetBrowserProfileDir() string {
	return filepath.Join(GetStorageDir(), browserProfileName)
}

// ParseStorageState parses Playwright storage state JSON and keeps Google cookies only
func ParseStorageState(data []byte) (*vo.AuthTokens, error) {
	var state PlaywrightStorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse storage state: %w", err)
	}

	if len(state.Cookies) == 0 {
		return nil, errors.New("no cookies found in storage state")
	}

	cookies := make(map[string]string)
	for _, cookie := range state.Cookies {
		if !isAllowedCookieDomain(cookie.Domain) {
			continue
		}
		// the first entry wins; .google.com is listed before regional copies
		if _, seen := cookies[cookie.Name]; !seen {
			cookies[cookie.Name] = cookie.Value
		}
	}

	if len(cookies) == 0 {
		return nil, errors.New("no valid Google cookies found")
	}

	return &vo.AuthTokens{Cookies: cookies}, nil
}

func isAllowedCookieDomain(domain string) bool {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	if d == "" {
		return false
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		return false
	}
	return allowedCookieSites[site]
}

// ExtractCSRFToken extracts SNlM0e token from HTML
func ExtractCSRFToken(html string) (string, error) {
	matches := csrfPattern.FindStringSubmatch(html)
	if len(matches) < 2 {
		return "", errors.New("CSRF token not found in page")
	}
	return matches[1], nil
}

// ExtractSessionID extracts FdrFJe session ID from HTML, falling back to an f.sid literal
func ExtractSessionID(html string) (string, error) {
	if matches := sessionPattern.FindStringSubmatch(html); len(matches) >= 2 {
		return matches[1], nil
	}
	if matches := sessionFallback.FindStringSubmatch(html); len(matches) >= 2 {
		return matches[1], nil
	}
	return "", errors.New("session ID not found in page")
}

// ExtractBuildLabel extracts the cfb2h build label; empty when absent
func ExtractBuildLabel(html string) string {
	if matches := buildLabelPattern.FindStringSubmatch(html); len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// SaveStorageState writes a Playwright storage state file with 0600 permissions.
// An empty path means the default location.
func SaveStorageState(path string, cookies []PlaywrightCookie) error {
	if path == "" {
		path = GetStoragePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	state := PlaywrightStorageState{Cookies: cookies}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0o600)
}

// ExportStorageState persists the store's current cookies, including rotated ones
func (s *CredentialStore) ExportStorageState(path string) error {
	tokens := s.Snapshot()
	cookies := make([]PlaywrightCookie, 0, len(tokens.Cookies))
	for _, name := range sortedKeys(tokens.Cookies) {
		cookies = append(cookies, PlaywrightCookie{
			Name:   name,
			Value:  tokens.Cookies[name],
			Domain: ".google.com",
			Path:   "/",
			Secure: true,
		})
	}
	return SaveStorageState(path, cookies)
}

// StorageExists checks if the default storage file exists
func StorageExists() bool {
	_, err := os.Stat(GetStoragePath())
	return err == nil
}
