package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"voicecollect/internal/auth"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/resilience"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"
	DefaultTokenURL   = "https://api.dropboxapi.com/oauth2/token"
)

// TokenSource supplies the bearer token for API calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	apiURL     string
	contentURL string
	tokens     TokenSource
	limiter    *resilience.RateLimiter
	client     *http.Client
}

type ClientOption func(*Client)

// WithBaseURLs points the client at a different API and content host
func WithBaseURLs(apiURL, contentURL string) ClientOption {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(apiURL, "/")
		c.contentURL = strings.TrimRight(contentURL, "/")
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithRateLimit caps outgoing calls to n per interval
func WithRateLimit(n int, interval time.Duration) ClientOption {
	return func(c *Client) { c.limiter = resilience.NewRateLimiter(n, interval) }
}

// NewClient creates a Dropbox API client authenticated through tokens
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		apiURL:     DefaultAPIURL,
		contentURL: DefaultContentURL,
		tokens:     tokens,
		limiter:    resilience.NewRateLimiter(20, time.Second/20),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload writes data to path. mode is "add" or "overwrite"; with "add" an
// existing file yields an APIError whose IsConflict is true.
func (c *Client) Upload(ctx context.Context, path string, mode string, data []byte) (*FileMetadata, error) {
	arg, err := headerArg(UploadArg{
		Path:           path,
		Mode:           mode,
		Autorename:     false,
		Mute:           true,
		StrictConflict: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, c.contentURL+"/2/files/upload", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", arg)

	var meta FileMetadata
	if err := c.do(req, "files/upload", &meta); err != nil {
		return nil, err
	}

	logger.Debug("Dropbox upload complete",
		zap.String("path", meta.PathDisplay),
		zap.Int64("size", meta.Size))

	return &meta, nil
}

// ListSharedLinks returns the direct links already created for path
func (c *Client) ListSharedLinks(ctx context.Context, path string) ([]SharedLink, error) {
	var res ListSharedLinksResult
	if err := c.rpc(ctx, "sharing/list_shared_links", ListSharedLinksArg{Path: path, DirectOnly: true}, &res); err != nil {
		return nil, err
	}
	return res.Links, nil
}

// CreateSharedLink creates a public link for path
func (c *Client) CreateSharedLink(ctx context.Context, path string) (*SharedLink, error) {
	arg := CreateSharedLinkArg{
		Path:     path,
		Settings: &SharedLinkSettings{Audience: "public", Access: "viewer"},
	}

	var link SharedLink
	if err := c.rpc(ctx, "sharing/create_shared_link_with_settings", arg, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// ListFolder returns the first page of entries in a folder
func (c *Client) ListFolder(ctx context.Context, path string, limit int) (*ListFolderResult, error) {
	var res ListFolderResult
	if err := c.rpc(ctx, "files/list_folder", ListFolderArg{Path: path, Limit: limit}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListFolderContinue returns the page after cursor
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*ListFolderResult, error) {
	var res ListFolderResult
	if err := c.rpc(ctx, "files/list_folder/continue", ListFolderContinueArg{Cursor: cursor}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) rpc(ctx context.Context, endpoint string, arg, out interface{}) error {
	body, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, c.apiURL+"/2/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, endpoint, out)
}

func (c *Client) newRequest(ctx context.Context, url string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(endpoint, resp, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func parseAPIError(endpoint string, resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Endpoint:   endpoint,
		Summary:    strings.TrimSpace(string(body)),
	}

	var parsed apiErrorBody
	if json.Unmarshal(body, &parsed) == nil && parsed.ErrorSummary != "" {
		apiErr.Summary = parsed.ErrorSummary
		if ex := parsed.Error.SharedLinkAlreadyExists; ex != nil && ex.Metadata != nil && ex.Metadata.URL != "" {
			apiErr.ExistingLink = ex.Metadata
		}
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}

	return apiErr
}

// headerArg encodes v for an HTTP header. Dropbox requires non-ASCII
// characters in Dropbox-API-Arg to be escaped as \uXXXX.
func headerArg(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal api arg: %w", err)
	}

	var b strings.Builder
	for _, r := range string(raw) {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16Surrogates(r)
			fmt.Fprintf(&b, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		fmt.Fprintf(&b, "\\u%04x", r)
	}
	return b.String(), nil
}

func utf16Surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xD800 + (r>>10)&0x3FF, 0xDC00 + r&0x3FF
}

// DirectURL turns a shared link into one that serves the raw file bytes
func DirectURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Del("dl")
	q.Set("raw", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// TokenRefresher exchanges a long-lived refresh token for access tokens
type TokenRefresher struct {
	tokenURL     string
	appKey       string
	appSecret    string
	refreshToken string
	client       *http.Client
	now          func() time.Time
}

func NewTokenRefresher(appKey, appSecret, refreshToken string) *TokenRefresher {
	return &TokenRefresher{
		tokenURL:     DefaultTokenURL,
		appKey:       appKey,
		appSecret:    appSecret,
		refreshToken: refreshToken,
		client:       &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
}

// WithTokenURL overrides the OAuth2 token endpoint
func (r *TokenRefresher) WithTokenURL(tokenURL string) *TokenRefresher {
	r.tokenURL = tokenURL
	return r
}

// Refresh performs a refresh_token grant
func (r *TokenRefresher) Refresh(ctx context.Context) (auth.AccessToken, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {r.refreshToken},
		"client_id":     {r.appKey},
		"client_secret": {r.appSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.AccessToken{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	issuedAt := r.now()
	resp, err := r.client.Do(req)
	if err != nil {
		return auth.AccessToken{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.AccessToken{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		var oe OAuthError
		_ = json.Unmarshal(respBody, &oe)
		return auth.AccessToken{}, fmt.Errorf("token endpoint: status=%d, error=%s: %w", resp.StatusCode, oe.Error, auth.ErrRejected)
	default:
		return auth.AccessToken{}, fmt.Errorf("token endpoint: status=%d", resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return auth.AccessToken{}, fmt.Errorf("failed to unmarshal token response: %w", err)
	}

	return auth.AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: issuedAt.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
