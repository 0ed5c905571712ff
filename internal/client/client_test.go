package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]string
}

func newTestClient(t *testing.T, status int, respBody string) (*Client, *recorded) {
	t.Helper()

	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")

		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)

	return NewClient(srv.Client(), srv.URL+"/"), rec
}

func TestExchangeToken(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"user":{"id":"u1","displayName":"Alex"},"bearerToken":"sess","bearerTokenExpiresAtEpochSeconds":1700000000}`)

	resp, err := c.ExchangeToken(context.Background(), "  Bearer rd-token ")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v1/auth/raindrop/token", rec.path)
	assert.Equal(t, "rd-token", rec.body["accessToken"])
	assert.Equal(t, "bearer", rec.body["sessionMode"])
	assert.Empty(t, rec.auth)

	assert.Equal(t, "Alex", resp.User.DisplayName)
	assert.Equal(t, "sess", c.Token())
}

func TestExchangeToken_Blank(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{}`)

	_, err := c.ExchangeToken(context.Background(), " bearer  ")
	require.Error(t, err)
	assert.Empty(t, rec.method)
}

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rd-token", "rd-token"},
		{"  rd-token  ", "rd-token"},
		{"Bearer rd-token", "rd-token"},
		{"bearer\trd-token", "rd-token"},
		{"BEARER   rd-token ", "rd-token"},
		{"bearer", ""},
		{" Bearer  ", ""},
		{"bearertoken", "bearertoken"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeToken(tt.in), "input %q", tt.in)
	}
}

func TestExchangeToken_MissingBearer(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"user":{"id":"u1"},"bearerTokenExpiresAtEpochSeconds":1}`)

	_, err := c.ExchangeToken(context.Background(), "rd-token")
	require.Error(t, err)
	assert.Empty(t, c.Token())
}

func TestAuthedRequestSendsBearer(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"spaces":[{"id":"1","title":"Inbox"}]}`)
	c.SetToken("sess")

	spaces, err := c.ListSpaces(context.Background())
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, "Bearer sess", rec.auth)
}

func TestAuthedRequestWithoutToken(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{}`)

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Empty(t, rec.method, "no request is sent without a token")
}

func TestListLinks_Cursor(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"links":[{"id":"9","url":"https://go.dev","spaceId":"1"}],"nextCursor":"2"}`)
	c.SetToken("sess")

	page, err := c.ListLinks(context.Background(), "1", "1")
	require.NoError(t, err)

	assert.Equal(t, "/v1/spaces/1/links", rec.path)
	assert.Equal(t, "cursor=1", rec.query)
	require.Len(t, page.Links, 1)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, "2", *page.NextCursor)
}

func TestMoveLink(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"id":"9","url":"https://go.dev","spaceId":"2"}`)
	c.SetToken("sess")

	link, err := c.MoveLink(context.Background(), "9", "2")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/v1/links/9", rec.path)
	assert.Equal(t, "2", rec.body["spaceId"])
	assert.Equal(t, "2", link.SpaceID)
}

func TestDeleteLink_NoContent(t *testing.T) {
	c, rec := newTestClient(t, http.StatusNoContent, ``)
	c.SetToken("sess")

	require.NoError(t, c.DeleteLink(context.Background(), "9"))
	assert.Equal(t, http.MethodDelete, rec.method)
}

func TestErrorEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.StatusUnauthorized, `{"error":{"code":"reauth_required","message":"raindrop authorization expired"}}`)
	c.SetToken("sess")

	_, err := c.ListSpaces(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, CodeReauthRequired, apiErr.Code)
	assert.Equal(t, "raindrop authorization expired", apiErr.Message)
	assert.True(t, IsAuthError(err))
}

func TestErrorWithoutEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.StatusNotFound, `404 page not found`)
	c.SetToken("sess")

	_, err := c.ListLinks(context.Background(), "1", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeNotFound, apiErr.Code)
	assert.Equal(t, "Not Found", apiErr.Message)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsAuthError(err))
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, CodeUnauthorized, codeForStatus(http.StatusUnauthorized))
	assert.Equal(t, CodeValidation, codeForStatus(http.StatusBadRequest))
	assert.Equal(t, CodeUpstream, codeForStatus(http.StatusBadGateway))
	assert.Equal(t, CodeInternal, codeForStatus(http.StatusTeapot))
}
