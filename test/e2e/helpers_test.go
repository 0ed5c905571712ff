package e2e_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/linkstash/internal/auth"
	"github.com/alexjbarnes/linkstash/internal/bootstrap"
	"github.com/alexjbarnes/linkstash/internal/client"
	"github.com/alexjbarnes/linkstash/internal/clientstate"
	"github.com/alexjbarnes/linkstash/internal/controller"
	"github.com/alexjbarnes/linkstash/internal/linkstash"
	"github.com/alexjbarnes/linkstash/internal/mcpserver"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
	"github.com/alexjbarnes/linkstash/internal/raindrop/raindroptest"
	"github.com/alexjbarnes/linkstash/internal/server"
	"github.com/alexjbarnes/linkstash/internal/state"
	"github.com/alexjbarnes/linkstash/internal/tokens"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const (
	upstreamToken     = "rd-access"
	defaultSpaceTitle = "Inbox"
)

// harness runs linkstash-server over httptest against a fake Raindrop,
// with a CLI-side controller pointed at it.
type harness struct {
	URL    string
	Fake   *raindroptest.Fake
	State  *state.State
	Client *http.Client
	Store  *clientstate.Store
	API    *client.Client
	Ctrl   *controller.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := state.LoadAt(filepath.Join(dir, "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hasher, err := tokens.NewHasher("e2e-hashing-secret-0123")
	require.NoError(t, err)

	cipher, err := tokens.NewCipher("e2e-encryption-key-0123")
	require.NoError(t, err)

	cookies, err := auth.NewCookieCodec("linkstash_session", "e2e-session-secret-0123", false)
	require.NoError(t, err)

	fake := raindroptest.New(raindrop.User{ID: "rd-e2e", DisplayName: "E2E User"})
	fake.AcceptToken(upstreamToken)

	resolver := bootstrap.NewResolver(fake, st, bootstrap.Defaults{
		RootTitle:         "LinkStash",
		DefaultSpaceTitle: defaultSpaceTitle,
	}, logger)

	authSvc := auth.NewService(fake, st, resolver, hasher, cipher, auth.Config{
		SessionTTL:    time.Hour,
		OAuthStateTTL: 10 * time.Minute,
	}, logger)
	links := linkstash.NewService(fake, resolver)

	ts := httptest.NewServer(server.NewHandler(server.MuxConfig{
		Auth:       authSvc,
		Links:      links,
		Cookies:    cookies,
		Logger:     logger,
		MCPHandler: mcpserver.Handler(authSvc, links, "e2e", logger),
	}))
	t.Cleanup(ts.Close)

	store, err := clientstate.Open(filepath.Join(dir, "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	api := client.NewClient(ts.Client(), ts.URL)

	return &harness{
		URL:    ts.URL,
		Fake:   fake,
		State:  st,
		Client: ts.Client(),
		Store:  store,
		API:    api,
		Ctrl:   controller.New(api, store, defaultSpaceTitle, logger),
	}
}

// mcpSession connects an MCP client to /mcp with the given session token.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: token,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	c := mcp.NewClient(&mcp.Implementation{Name: "e2e-test-client", Version: "test"}, nil)

	session, err := c.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "tool result has no content")

	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	t.Fatal("no TextContent found in tool result")

	return ""
}
