// Package gotrue is a client for the hosted platform's auth REST surface.
// It implements the session.AuthAPI interface: password and OAuth sign-in,
// sign-up with identity metadata, current-session lookup, sign-out, and an
// auth-change feed driven by the client's own state transitions.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/lumakit/go-session"
)

const (
	pathToken     = "/auth/v1/token"
	pathSignup    = "/auth/v1/signup"
	pathUser      = "/auth/v1/user"
	pathLogout    = "/auth/v1/logout"
	pathAuthorize = "/auth/v1/authorize"
)

// Client talks to the platform auth endpoints. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  session.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string

	changes   chan session.AuthChange
	closeOnce sync.Once
}

var _ session.AuthAPI = (*Client)(nil)

// Option customizes client construction.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger session.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokens seeds the client with a previously persisted token pair so a
// page reload restores the session without re-authenticating.
func WithTokens(access, refresh string) Option {
	return func(c *Client) {
		c.accessToken = access
		c.refreshToken = refresh
	}
}

// New builds a client for the platform at baseURL using the public API key.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		changes: make(chan session.AuthChange, 8),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// AuthChanges returns the auth-state feed. The channel closes on Close.
func (c *Client) AuthChanges() <-chan session.AuthChange {
	return c.changes
}

// Close shuts the change feed down.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.changes) })
}

// Tokens returns the current token pair for persistence.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// SetTokens installs a token pair received out of band, typically parsed off
// the OAuth callback fragment, then announces the resulting identity on the
// change feed.
func (c *Client) SetTokens(ctx context.Context, access, refresh string) error {
	c.mu.Lock()
	c.accessToken = access
	c.refreshToken = refresh
	c.mu.Unlock()

	identity, err := c.CurrentIdentity(ctx)
	if err != nil {
		return err
	}

	c.emit(session.AuthChange{Event: session.AuthChangeSignedIn, Identity: identity})
	return nil
}

// CurrentIdentity returns the identity behind the stored access token, or
// session.ErrNoActiveSession when there is none or the platform rejects it.
func (c *Client) CurrentIdentity(ctx context.Context) (*session.Identity, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	if token == "" {
		return nil, session.ErrNoActiveSession
	}

	if exp, err := tokenExpiry(token); err == nil && time.Now().After(exp) {
		return nil, session.ErrNoActiveSession
	}

	var usr platformUser
	if err := c.do(ctx, http.MethodGet, pathUser, nil, token, &usr); err != nil {
		if isUnauthorized(err) {
			return nil, session.ErrNoActiveSession
		}
		return nil, err
	}

	return usr.identity(), nil
}

// SignInWithPassword exchanges credentials for a token pair and returns the
// signed-in identity.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Identity, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, pathToken+"?grant_type=password", body, "", &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.refreshToken = resp.RefreshToken
	c.mu.Unlock()

	identity := resp.User.identity()
	c.emit(session.AuthChange{Event: session.AuthChangeSignedIn, Identity: identity})

	return identity, nil
}

// SignUp registers a new identity with metadata attached. The platform may
// hold the account pending email verification; no tokens are issued here.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}

	var usr platformUser
	if err := c.do(ctx, http.MethodPost, pathSignup, body, "", &usr); err != nil {
		return nil, err
	}

	return usr.identity(), nil
}

// AuthorizeURL builds the provider authorize endpoint URL. No request is
// made; the browser navigates there and the provider redirects back.
func (c *Client) AuthorizeURL(_ context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", errors.New("oauth provider is required", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}

	return c.baseURL + pathAuthorize + "?" + q.Encode(), nil
}

// SignOut revokes the server session and drops the local tokens. Local state
// is cleared even when revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := c.accessToken
	c.accessToken = ""
	c.refreshToken = ""
	c.mu.Unlock()

	defer c.emit(session.AuthChange{Event: session.AuthChangeSignedOut})

	if token == "" {
		return nil
	}

	err := c.do(ctx, http.MethodPost, pathLogout, nil, token, nil)
	if err != nil && !isUnauthorized(err) {
		return err
	}
	return nil
}

// emit delivers a change without blocking; a stalled consumer drops events
// rather than wedging the client.
func (c *Client) emit(change session.AuthChange) {
	select {
	case c.changes <- change:
	default:
		if c.logger != nil {
			c.logger.Warn("auth change dropped, consumer not keeping up: event=%s", change.Event)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to encode request body")
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to build request")
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "auth request failed")
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to read response body")
	}

	if res.StatusCode >= 400 {
		return mapAPIError(res.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to decode response body")
		}
	}

	return nil
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	User         platformUser `json:"user"`
}

type platformUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

func (u platformUser) identity() *session.Identity {
	identity := &session.Identity{
		ID:       u.ID,
		Email:    u.Email,
		Metadata: u.Metadata,
	}
	identity.Name = identity.FullName()
	identity.AvatarURL = identity.Avatar()
	return identity
}

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Description, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return "unknown auth error"
}

func mapAPIError(status int, raw []byte) error {
	var body apiError
	_ = json.Unmarshal(raw, &body)
	msg := body.text()

	switch {
	case status == http.StatusUnauthorized:
		return errors.New(msg, errors.CategoryAuth).
			WithTextCode("platform_unauthorized").
			WithCode(errors.CodeUnauthorized)
	case status == http.StatusForbidden:
		return errors.New(msg, errors.CategoryAuthz).
			WithCode(errors.CodeForbidden)
	case status == http.StatusNotFound:
		return errors.New(msg, errors.CategoryNotFound).
			WithCode(errors.CodeNotFound)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return errors.New(msg, errors.CategoryConflict).
			WithCode(errors.CodeConflict)
	case status == http.StatusTooManyRequests:
		return errors.New(msg, errors.CategoryRateLimit).
			WithCode(errors.CodeBadRequest)
	case status >= 400 && status < 500:
		return errors.New(msg, errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	default:
		return errors.New(fmt.Sprintf("auth service error (%d): %s", status, msg), errors.CategoryInternal).
			WithCode(errors.CodeInternal)
	}
}

func isUnauthorized(err error) bool {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Category == errors.CategoryAuth
	}
	return false
}

// tokenExpiry reads the exp claim without verifying the signature. Local
// expiry is a fast-path hint only; the platform remains authoritative.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry: %w", err)
	}

	return exp.Time, nil
}
