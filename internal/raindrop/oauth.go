package raindrop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"golang.org/x/oauth2"
)

// Token is an upstream token grant. A zero ExpiresAt means the upstream did
// not report an expiry; an empty RefreshToken means none was issued.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// OAuthConfigured reports whether a client registration is available for
// the authorization-code flow.
func (c *Client) OAuthConfigured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	cfg := c.oauth
	cfg.RedirectURL = redirectURI

	return &cfg
}

// oauthContext makes the oauth2 package use this client's transport.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizeURL builds the upstream consent URL. A non-empty codeVerifier
// adds an S256 PKCE challenge.
func (c *Client) AuthorizeURL(state, redirectURI, codeVerifier string) string {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(codeVerifier))
	}

	return c.oauthConfig(redirectURI).AuthCodeURL(state, opts...)
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Token, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := c.oauthConfig(redirectURI).Exchange(c.oauthContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", c.classifyTokenError(err))
	}

	return tokenFrom(tok)
}

// RefreshToken obtains a new access token from a refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.oauthConfig("").TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", c.classifyTokenError(err))
	}

	return tokenFrom(tok)
}

// classifyTokenError maps a rejected grant to ErrUpstreamUnauthorized and
// everything else to an upstream failure.
func (c *Client) classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return apperrors.ErrUpstreamUnauthorized
		}

		return apperrors.Upstream("raindrop token endpoint failed", &StatusError{
			Method:     http.MethodPost,
			Endpoint:   c.oauth.Endpoint.TokenURL,
			StatusCode: re.Response.StatusCode,
			Body:       sanitizeResponseBody(re.Body),
		})
	}

	return apperrors.Upstream("raindrop token endpoint failed", err)
}

func tokenFrom(tok *oauth2.Token) (*Token, error) {
	if tok.AccessToken == "" {
		return nil, apperrors.Upstream("raindrop token response is missing access_token", nil)
	}

	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}

	return out, nil
}
