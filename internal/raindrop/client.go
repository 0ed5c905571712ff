// Package raindrop is the LinkStash adapter for the Raindrop.io REST API.
// Every call takes the caller's access token; the adapter never holds
// credentials of its own. Outcomes are normalized into the shared error
// taxonomy: a rejected token is errors.ErrUpstreamUnauthorized, lookups of
// missing records return nil, and everything else that goes wrong is an
// upstream failure.
package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"golang.org/x/oauth2"
)

const (
	// DefaultAPIBaseURL is the Raindrop REST API root.
	DefaultAPIBaseURL = "https://api.raindrop.io/rest/v1"

	// DefaultAuthorizeURL is the Raindrop OAuth authorization endpoint.
	DefaultAuthorizeURL = "https://raindrop.io/oauth/authorize"

	// DefaultTokenURL is the Raindrop OAuth token endpoint.
	DefaultTokenURL = "https://api.raindrop.io/v1/oauth/access_token"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout bounds every upstream call made by the default client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads.
	maxAPIResponseBytes = 1024 * 1024
)

// errNotFound signals a 404 to callers that accept it.
var errNotFound = errors.New("raindrop: not found")

// StatusError describes a non-success upstream response.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Config holds the endpoints and OAuth client registration.
type Config struct {
	APIBaseURL   string
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Client talks to the Raindrop REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	oauth      oauth2.Config
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so bearer tokens never reach a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created. Empty
// endpoint fields fall back to the public Raindrop endpoints.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}

	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends an authenticated request and returns the raw response body.
// A 404 yields errNotFound when allowNotFound is set and an upstream
// failure otherwise.
func (c *Client) do(ctx context.Context, method, endpoint, accessToken string, body any, allowNotFound bool) ([]byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Internal("marshalling request body", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, apperrors.Internal("creating request", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Upstream("raindrop request failed", fmt.Errorf("sending request to %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, apperrors.Upstream("raindrop request failed", fmt.Errorf("reading response from %s: %w", endpoint, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, apperrors.ErrUpstreamUnauthorized)
	case resp.StatusCode == http.StatusNotFound && allowNotFound:
		return nil, errNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperrors.Upstream("raindrop request failed", &StatusError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       sanitizeResponseBody(respBody),
		})
	}

	return respBody, nil
}
