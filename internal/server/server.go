// Package server provides HTTP server construction for linkstash-server.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/linkstash/internal/auth"
	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/rs/cors"
)

// AuthService is the subset of auth.Service the routes call.
type AuthService interface {
	auth.PrincipalResolver

	ExchangeToken(ctx context.Context, rawAccessToken string) (*auth.ExchangeResult, error)
	StartAuth(ctx context.Context, redirectURI, codeVerifier string) (string, error)
	ExchangeCode(ctx context.Context, code, state, redirectURI, codeVerifier string) (*auth.ExchangeResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
	WithFreshAccessToken(ctx context.Context, userID string, fn func(accessToken string) error) error
}

// LinkService is the spaces and links service.
type LinkService interface {
	ListSpaces(ctx context.Context, userID, accessToken string) ([]models.Space, error)
	CreateSpace(ctx context.Context, userID, accessToken, title string) (*models.Space, error)
	RenameSpace(ctx context.Context, userID, accessToken, spaceID, title string) (*models.Space, error)
	DeleteSpace(ctx context.Context, userID, accessToken, spaceID string) error
	ListLinks(ctx context.Context, userID, accessToken, spaceID, cursor string) (*models.LinkPage, error)
	CreateLink(ctx context.Context, userID, accessToken, spaceID, url string) (*models.Link, error)
	MoveLink(ctx context.Context, userID, accessToken, linkID, targetSpaceID string) (*models.Link, error)
	DeleteLink(ctx context.Context, userID, accessToken, linkID string) error
}

// MuxConfig holds dependencies for building the HTTP handler.
type MuxConfig struct {
	Auth    AuthService
	Links   LinkService
	Cookies *auth.CookieCodec
	Logger  *slog.Logger

	// MCPHandler is mounted at /mcp behind the session middleware when set.
	MCPHandler http.Handler

	// AllowedOrigins lists the browser origins allowed to send credentialed
	// cross-origin requests.
	AllowedOrigins []string
}

type handlers struct {
	auth    AuthService
	links   LinkService
	cookies *auth.CookieCodec
	logger  *slog.Logger
}

// NewMux builds the HTTP mux with health, auth, spaces, links and optional
// MCP endpoints. Everything except health and the credential exchange
// routes is protected by the session middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	h := &handlers{
		auth:    cfg.Auth,
		links:   cfg.Links,
		cookies: cfg.Cookies,
		logger:  cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("POST /v1/auth/raindrop/token", h.handleTokenExchange)
	mux.HandleFunc("GET /v1/auth/start", h.handleAuthStart)
	mux.HandleFunc("POST /v1/auth/exchange", h.handleCodeExchange)

	authed := auth.Middleware(cfg.Auth, cfg.Cookies, cfg.Logger, h.writeError)
	protect := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(tagUser(fn)))
	}

	protect("POST /v1/auth/logout", h.handleLogout)
	protect("GET /v1/me", h.handleMe)
	protect("GET /v1/spaces", h.handleListSpaces)
	protect("POST /v1/spaces", h.handleCreateSpace)
	protect("PATCH /v1/spaces/{spaceId}", h.handleRenameSpace)
	protect("DELETE /v1/spaces/{spaceId}", h.handleDeleteSpace)
	protect("GET /v1/spaces/{spaceId}/links", h.handleListLinks)
	protect("POST /v1/spaces/{spaceId}/links", h.handleCreateLink)
	protect("PATCH /v1/links/{linkId}", h.handleMoveLink)
	protect("DELETE /v1/links/{linkId}", h.handleDeleteLink)

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", authed(tagUser(cfg.MCPHandler)))
	}

	return mux
}

// NewHandler wraps the mux with request ids, access logging, panic
// recovery and CORS.
func NewHandler(cfg MuxConfig) http.Handler {
	var h http.Handler = NewMux(cfg)

	h = recoverer(cfg.Logger)(h)
	h = accessLog(cfg.Logger)(h)
	h = requestID(h)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader, "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders:   []string{requestIDHeader, "Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	})

	return c.Handler(h)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
