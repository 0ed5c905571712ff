// Package client is a typed HTTP client for the linkstash-server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/tidwall/gjson"
)

const defaultTimeout = 30 * time.Second

// Error codes returned in the server's error envelope.
const (
	CodeUnauthorized   = "unauthorized"
	CodeReauthRequired = "reauth_required"
	CodeNotFound       = "not_found"
	CodeValidation     = "validation_error"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal_error"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsAuthError reports whether err means the saved session is no longer
// usable.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code == CodeUnauthorized || apiErr.Code == CodeReauthRequired
}

// IsNotFound reports whether err is a not-found API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeNotFound
}

// ExchangeResponse is returned by the token exchange.
type ExchangeResponse struct {
	User                             models.UserView `json:"user"`
	BearerToken                      string          `json:"bearerToken,omitempty"`
	BearerTokenExpiresAtEpochSeconds int64           `json:"bearerTokenExpiresAtEpochSeconds"`
}

// Client talks to linkstash-server with a bearer session token.
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu    sync.RWMutex
	token string
}

// NewClient creates an API client for baseURL. If httpClient is nil, a
// client with a 30 second timeout is used.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SetToken sets the session token sent on authenticated requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

// ExchangeToken trades a Raindrop access token for a bearer session.
// The returned bearer token is also installed on the client.
func (c *Client) ExchangeToken(ctx context.Context, raindropToken string) (*ExchangeResponse, error) {
	token := normalizeToken(raindropToken)
	if token == "" {
		return nil, errors.New("raindrop token is required")
	}

	req := map[string]string{"accessToken": token, "sessionMode": "bearer"}

	var resp ExchangeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/raindrop/token", false, req, &resp); err != nil {
		return nil, fmt.Errorf("exchanging token: %w", err)
	}

	if resp.BearerToken == "" {
		return nil, errors.New("exchanging token: response did not include a bearer token")
	}

	c.SetToken(resp.BearerToken)

	return &resp, nil
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (*models.UserView, error) {
	var user models.UserView
	if err := c.do(ctx, http.MethodGet, "/v1/me", true, nil, &user); err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	return &user, nil
}

// Logout revokes the current session on the server.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/v1/auth/logout", true, nil, nil); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	return nil
}

// ListSpaces returns the user's spaces.
func (c *Client) ListSpaces(ctx context.Context) ([]models.Space, error) {
	var resp struct {
		Spaces []models.Space `json:"spaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/spaces", true, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}

	return resp.Spaces, nil
}

// CreateSpace creates a space.
func (c *Client) CreateSpace(ctx context.Context, title string) (*models.Space, error) {
	var space models.Space
	if err := c.do(ctx, http.MethodPost, "/v1/spaces", true, map[string]string{"title": title}, &space); err != nil {
		return nil, fmt.Errorf("creating space: %w", err)
	}

	return &space, nil
}

// RenameSpace renames a space.
func (c *Client) RenameSpace(ctx context.Context, spaceID, title string) (*models.Space, error) {
	var space models.Space
	if err := c.do(ctx, http.MethodPatch, "/v1/spaces/"+url.PathEscape(spaceID), true, map[string]string{"title": title}, &space); err != nil {
		return nil, fmt.Errorf("renaming space: %w", err)
	}

	return &space, nil
}

// DeleteSpace deletes a space.
func (c *Client) DeleteSpace(ctx context.Context, spaceID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/spaces/"+url.PathEscape(spaceID), true, nil, nil); err != nil {
		return fmt.Errorf("deleting space: %w", err)
	}

	return nil
}

// ListLinks returns one page of a space's links.
func (c *Client) ListLinks(ctx context.Context, spaceID, cursor string) (*models.LinkPage, error) {
	endpoint := "/v1/spaces/" + url.PathEscape(spaceID) + "/links"
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}

	var page models.LinkPage
	if err := c.do(ctx, http.MethodGet, endpoint, true, nil, &page); err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}

	return &page, nil
}

// CreateLink saves rawURL into a space.
func (c *Client) CreateLink(ctx context.Context, spaceID, rawURL string) (*models.Link, error) {
	var link models.Link
	if err := c.do(ctx, http.MethodPost, "/v1/spaces/"+url.PathEscape(spaceID)+"/links", true, map[string]string{"url": rawURL}, &link); err != nil {
		return nil, fmt.Errorf("creating link: %w", err)
	}

	return &link, nil
}

// MoveLink moves a link into another space.
func (c *Client) MoveLink(ctx context.Context, linkID, spaceID string) (*models.Link, error) {
	var link models.Link
	if err := c.do(ctx, http.MethodPatch, "/v1/links/"+url.PathEscape(linkID), true, map[string]string{"spaceId": spaceID}, &link); err != nil {
		return nil, fmt.Errorf("moving link: %w", err)
	}

	return &link, nil
}

// DeleteLink deletes a link.
func (c *Client) DeleteLink(ctx context.Context, linkID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/links/"+url.PathEscape(linkID), true, nil, nil); err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}

	return nil
}

// do sends a request and decodes a 2xx JSON response into result.
func (c *Client) do(ctx context.Context, method, endpoint string, authed bool, body, result any) error {
	var rdr io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	if authed {
		token := c.Token()
		if token == "" {
			return &APIError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "not logged in"}
		}

		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// decodeAPIError reads the error envelope, deriving the code from the
// status when the body is not an envelope.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	if gjson.ValidBytes(body) {
		env := gjson.GetBytes(body, "error")
		apiErr.Code = env.Get("code").String()
		apiErr.Message = env.Get("message").String()
	}

	if apiErr.Code == "" {
		apiErr.Code = codeForStatus(status)
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return apiErr
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusBadRequest:
		return CodeValidation
	case status == http.StatusBadGateway:
		return CodeUpstream
	default:
		return CodeInternal
	}
}

// normalizeToken trims whitespace and a case-insensitive "Bearer" scheme.
// A bare scheme normalizes to "".
func normalizeToken(raw string) string {
	token := strings.TrimSpace(raw)

	const scheme = "bearer"
	if len(token) < len(scheme) || !strings.EqualFold(token[:len(scheme)], scheme) {
		return token
	}

	rest := token[len(scheme):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return token
	}

	return strings.TrimSpace(rest)
}
