package auth

//go:generate mockgen -source=upstream.go -destination=mock_upstream_test.go -package=auth

import (
	"context"

	"github.com/alexjbarnes/linkstash/internal/raindrop"
)

// Upstream is the identity and token surface of the raindrop client.
type Upstream interface {
	CurrentUser(ctx context.Context, accessToken string) (*raindrop.User, error)
	AuthorizeURL(state, redirectURI, codeVerifier string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*raindrop.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*raindrop.Token, error)
}
