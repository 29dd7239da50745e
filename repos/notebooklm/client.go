package notebooklm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crosszan/nblm/pkg/logger"
	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

const (
	moduleRPC  = "notebooklm.rpc"
	moduleAuth = "notebooklm.auth"

	formContentType = "application/x-www-form-urlencoded;charset=UTF-8"
	previewLimit    = 2000
	errorBodyLimit  = 200
)

// ErrNoCookies is returned before any request when the credential store is empty
var ErrNoCookies = fmt.Errorf("%w: no cookies loaded", rpc.ErrAuthError)

// CookieRefresher acquires a fresh cookie set when the current one is rejected,
// e.g. by driving a logged-in browser profile
type CookieRefresher interface {
	RefreshCookies(ctx context.Context) (map[string]string, error)
}

// Client is the NotebookLM RPC gateway. Safe for concurrent use.
type Client struct {
	cfg        Config
	creds      *CredentialStore
	httpClient *http.Client
	endpoints  rpc.Endpoints
	reqID      *rpc.ReqIDCounter
	refresher  CookieRefresher
	log        logger.ILogger

	// refreshMu serializes homepage token extraction
	refreshMu sync.Mutex

	conversations *ConversationCache

	Notebooks *NotebookService
	Sources   *SourceService
	Uploads   *ResumableUploader
}

// Option configures a Client
type Option func(*Client)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		cfg.normalize()
		c.cfg = cfg
	}
}

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger; the default discards everything
func WithLogger(l logger.ILogger) Option {
	return func(c *Client) { c.log = l }
}

// WithCookieRefresher enables the second stage of auth recovery
func WithCookieRefresher(r CookieRefresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithEndpoints points the client at another host, used by tests
func WithEndpoints(ep rpc.Endpoints) Option {
	return func(c *Client) { c.endpoints = ep }
}

// NewClient creates a new NotebookLM client
func NewClient(auth *vo.AuthTokens, opts ...Option) *Client {
	c := &Client{
		cfg:       DefaultConfig(),
		creds:     NewCredentialStore(auth),
		endpoints: rpc.DefaultEndpoints(),
		reqID:     rpc.NewReqIDCounter(rpc.ReqIDStep),
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   30 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	c.conversations = NewConversationCache(c.cfg.ConversationTTL)

	c.Notebooks = &NotebookService{caller: c}
	c.Sources = &SourceService{caller: c}
	c.Uploads = &ResumableUploader{
		caller:    c,
		creds:     c.creds,
		http:      c.httpClient,
		endpoints: c.endpoints,
		timeout:   c.cfg.UploadTimeout,
		log:       c.log,
	}
	return c
}

// NewClientFromStorage creates a client from stored auth. An empty path
// falls back to the configured storage path, then the default lookup.
func NewClientFromStorage(storagePath string, opts ...Option) (*Client, error) {
	c := NewClient(nil, opts...)
	if storagePath == "" {
		storagePath = c.cfg.StoragePath
	}
	auth, err := LoadAuthTokens(storagePath)
	if err != nil {
		return nil, err
	}
	c.creds.ReplaceCookies(auth.Cookies)
	return c, nil
}

// Credentials returns the credential store backing this client
func (c *Client) Credentials() *CredentialStore {
	return c.creds
}

// Conversations returns the conversation cache of this client
func (c *Client) Conversations() *ConversationCache {
	return c.conversations
}

// RefreshTokens fetches fresh CSRF token, session ID and build label from the homepage
func (c *Client) RefreshTokens(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	return c.withRetry(ctx, "refresh tokens", func() error {
		return c.doRefreshTokens(ctx)
	})
}

// doRefreshTokens performs a single refresh attempt
func (c *Client) doRefreshTokens(ctx context.Context) error {
	if !c.creds.HasCookies() {
		return ErrNoCookies
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Base, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", c.creds.CookieHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &rpc.TransportError{Op: "fetch homepage", Err: err}
	}
	defer resp.Body.Close()

	c.absorbCookies(resp)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &rpc.AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return &rpc.TransportError{Op: "fetch homepage", StatusCode: resp.StatusCode}
	}
	// stale cookies end up on the sign-in page
	if resp.Request != nil && strings.Contains(resp.Request.URL.Host, "accounts.google.com") {
		return &rpc.AuthError{StatusCode: http.StatusUnauthorized}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &rpc.TransportError{Op: "read homepage", Err: err}
	}
	html := string(body)

	csrf, err := ExtractCSRFToken(html)
	if err != nil {
		return fmt.Errorf("%w: %v", rpc.ErrAuthError, err)
	}
	sessionID, err := ExtractSessionID(html)
	if err != nil {
		return fmt.Errorf("%w: %v", rpc.ErrAuthError, err)
	}
	buildLabel := ExtractBuildLabel(html)

	c.creds.SetPageTokens(csrf, sessionID, buildLabel)
	c.log.Info(moduleAuth, "page tokens refreshed", map[string]interface{}{
		"build_label": buildLabel,
		"has_session": sessionID != "",
	})
	return nil
}

// ensureTokens runs the one-time lazy extraction when no CSRF token is known
func (c *Client) ensureTokens(ctx context.Context) error {
	if !c.creds.HasCookies() {
		return ErrNoCookies
	}
	if c.creds.HasPageTokens() {
		return nil
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.creds.HasPageTokens() {
		return nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return fmt.Errorf("failed to refresh tokens: %w", err)
	}
	return nil
}

// withRetry repeats fn on retryable transport failures
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !rpc.IsRetryable(lastErr) || attempt == c.cfg.MaxRetries {
			return lastErr
		}

		delay := c.cfg.RetryDelay * time.Duration(attempt)
		c.log.Warn(moduleRPC, "retrying after transport error", map[string]interface{}{
			"op":      op,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return lastErr
}

// withAuthRecovery re-extracts page tokens after an auth failure and retries once.
// If that fails too and a CookieRefresher is set, cookies are replaced and fn runs once more.
func (c *Client) withAuthRecovery(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !rpc.IsAuthError(err) {
		return err
	}

	c.log.Warn(moduleAuth, "credentials rejected, re-extracting page tokens", map[string]interface{}{"op": op})
	if rerr := c.RefreshTokens(ctx); rerr == nil {
		if err = fn(); !rpc.IsAuthError(err) {
			return err
		}
	}

	if c.refresher == nil {
		return err
	}

	c.log.Warn(moduleAuth, "refreshing cookies", map[string]interface{}{"op": op})
	cookies, rerr := c.refresher.RefreshCookies(ctx)
	if rerr != nil {
		return errors.Join(err, fmt.Errorf("cookie refresh failed: %w", rerr))
	}
	if len(cookies) == 0 {
		return errors.Join(err, errors.New("cookie refresh returned no cookies"))
	}
	c.creds.ReplaceCookies(cookies)
	if rerr := c.RefreshTokens(ctx); rerr != nil {
		return rerr
	}
	return fn()
}

// callContext applies timeout unless the caller already set a deadline
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Call sends one RPC and returns its decoded result. A response without a
// matching result is treated as empty (nil, nil).
func (c *Client) Call(ctx context.Context, method vo.RPCMethod, params []any, sourcePath string) (any, error) {
	return c.rpcCall(ctx, method, params, sourcePath)
}

// rpcCall makes an RPC call to batchexecute with retry and auth recovery
func (c *Client) rpcCall(ctx context.Context, method vo.RPCMethod, params []any, sourcePath string) (any, error) {
	ctx, cancel := callContext(ctx, c.cfg.RPCTimeout)
	defer cancel()

	var result any
	err := c.withAuthRecovery(ctx, method.String(), func() error {
		return c.withRetry(ctx, method.String(), func() error {
			r, err := c.doRPCCall(ctx, method, params, sourcePath)
			result = r
			return err
		})
	})

	if errors.Is(err, rpc.ErrNoResult) {
		c.log.Warn(moduleRPC, "no result in response, treating as empty", map[string]interface{}{
			"rpc_id": method.String(),
			"error":  err.Error(),
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rpcCallOnce is rpcCall without retries or auth recovery
func (c *Client) rpcCallOnce(ctx context.Context, method vo.RPCMethod, params []any, sourcePath string) (any, error) {
	result, err := c.doRPCCall(ctx, method, params, sourcePath)
	if errors.Is(err, rpc.ErrNoResult) {
		return nil, nil
	}
	return result, err
}

// doRPCCall performs a single RPC call attempt
func (c *Client) doRPCCall(ctx context.Context, method vo.RPCMethod, params []any, sourcePath string) (any, error) {
	if err := c.ensureTokens(ctx); err != nil {
		return nil, err
	}

	rpcReq, err := rpc.EncodeRPCRequest(method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	snap := c.creds.Snapshot()
	body, err := rpc.BuildRequestBody(rpcReq, snap.CSRFToken)
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	reqURL := rpc.BuildURL(c.endpoints, method, sourcePath, c.urlParams(snap))
	respBody, err := c.post(ctx, method.String(), reqURL, body)
	if err != nil {
		return nil, err
	}

	return rpc.DecodeResponse(respBody, method)
}

// urlParams advances the request counter and resolves bl for one request
func (c *Client) urlParams(snap *vo.AuthTokens) rpc.URLParams {
	return rpc.URLParams{
		BuildLabel: rpc.ResolveBuildLabel(c.cfg.BuildLabel, snap.BuildLabel),
		Language:   c.cfg.Language,
		SessionID:  snap.SessionID,
		ReqID:      c.reqID.Next(),
	}
}

// post sends one form-encoded POST and returns the response text
func (c *Client) post(ctx context.Context, op, reqURL, body string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Cookie", c.creds.CookieHeader())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &rpc.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.absorbCookies(resp)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &rpc.AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		te := &rpc.TransportError{Op: op, StatusCode: resp.StatusCode}
		if len(preview) > 0 {
			te.Err = errors.New(string(preview))
		}
		return "", te
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &rpc.TransportError{Op: op, Err: err}
	}

	c.log.Debug(moduleRPC, "response received", map[string]interface{}{
		"op":         op,
		"status":     resp.StatusCode,
		"bytes":      len(respBody),
		"elapsed_ms": time.Since(start).Milliseconds(),
		"preview":    rpc.Truncate(string(respBody), previewLimit),
	})
	return string(respBody), nil
}

func (c *Client) absorbCookies(resp *http.Response) {
	if n := c.creds.AbsorbCookies(resp.Cookies()); n > 0 {
		c.log.Debug(moduleAuth, "absorbed rotated cookies", map[string]interface{}{"count": n})
	}
}
