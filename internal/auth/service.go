// Package auth exchanges upstream credentials for local sessions, keeps the
// upstream credential fresh for every authenticated operation, and
// authenticates HTTP requests by session cookie or bearer token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexjbarnes/linkstash/internal/bootstrap"
	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
	"github.com/alexjbarnes/linkstash/internal/tokens"
	"golang.org/x/sync/singleflight"
)

// Store is the credential store the service persists into.
type Store interface {
	UpsertUserByUpstreamID(upstreamUserID, displayName string, now time.Time) (*models.User, error)
	GetUser(id string) (*models.User, error)
	UpdateUserDisplayName(id, displayName string, now time.Time) (*models.User, error)

	CreateSession(userID, tokenHash string, now, expiresAt time.Time) (*models.Session, error)
	FindActiveSession(tokenHash string, now time.Time) (*models.Session, error)
	RevokeSession(id string, now time.Time) (bool, error)
	RevokeAllSessions(userID string, now time.Time) (int, error)

	UpsertCredential(cred models.UpstreamCredential) error
	GetCredential(userID string) (*models.UpstreamCredential, error)
	DeleteCredential(userID string) error

	CreateOAuthState(st models.OAuthState) error
	ConsumeOAuthState(state, redirectURI, codeVerifierHash string, now time.Time) (bool, error)
}

// Bootstrapper materializes a user's root and default space.
type Bootstrapper interface {
	Ensure(ctx context.Context, userID, accessToken string) (*bootstrap.Result, error)
}

// Config holds the session and OAuth lifetimes.
type Config struct {
	SessionTTL    time.Duration
	OAuthStateTTL time.Duration

	// DefaultRedirectURI is used by StartAuth when the caller passes none.
	DefaultRedirectURI string

	// CodeFlowEnabled turns on StartAuth and ExchangeCode.
	CodeFlowEnabled bool
}

// Principal identifies the session behind an authenticated request.
type Principal struct {
	SessionID string
	UserID    string
}

// IssuedSession is a freshly created session. Token is the only copy of
// the raw value; the store keeps its hash.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
}

// ExchangeResult is returned by both exchange variants.
type ExchangeResult struct {
	User    models.User
	Session IssuedSession
}

// Service implements credential exchange, session resolution and the
// fresh-token retry policy.
type Service struct {
	upstream Upstream
	store    Store
	boot     Bootstrapper
	hasher   *tokens.Hasher
	cipher   *tokens.Cipher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	refreshes singleflight.Group
}

// NewService creates a Service.
func NewService(upstream Upstream, store Store, boot Bootstrapper, hasher *tokens.Hasher, cipher *tokens.Cipher, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		upstream: upstream,
		store:    store,
		boot:     boot,
		hasher:   hasher,
		cipher:   cipher,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ExchangeToken signs a user in with a raw upstream access token.
func (s *Service) ExchangeToken(ctx context.Context, rawAccessToken string) (*ExchangeResult, error) {
	accessToken := normalizeAccessToken(rawAccessToken)
	if accessToken == "" {
		return nil, apperrors.Validation("access token is required")
	}

	return s.establish(ctx, &raindrop.Token{AccessToken: accessToken})
}

// StartAuth records a one-shot state value and returns the upstream
// authorize URL for the authorization-code flow.
func (s *Service) StartAuth(_ context.Context, redirectURI, codeVerifier string) (string, error) {
	if !s.cfg.CodeFlowEnabled {
		return "", apperrors.Validation("raindrop authorization code flow is not configured")
	}

	redirectURI = strings.TrimSpace(redirectURI)
	if redirectURI == "" {
		redirectURI = s.cfg.DefaultRedirectURI
	}

	if redirectURI == "" {
		return "", apperrors.Validation("redirect uri is required")
	}

	now := s.now()
	state := tokens.Random(tokens.StateTokenBytes)

	err := s.store.CreateOAuthState(models.OAuthState{
		State:            state,
		RedirectURI:      redirectURI,
		CodeVerifierHash: s.verifierHash(codeVerifier),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.OAuthStateTTL),
	})
	if err != nil {
		return "", apperrors.Internal("saving oauth state", err)
	}

	return s.upstream.AuthorizeURL(state, redirectURI, strings.TrimSpace(codeVerifier)), nil
}

// ExchangeCode completes the authorization-code flow.
func (s *Service) ExchangeCode(ctx context.Context, code, state, redirectURI, codeVerifier string) (*ExchangeResult, error) {
	if !s.cfg.CodeFlowEnabled {
		return nil, apperrors.Validation("raindrop authorization code flow is not configured")
	}

	switch {
	case strings.TrimSpace(code) == "":
		return nil, apperrors.Validation("oauth code is required")
	case strings.TrimSpace(state) == "":
		return nil, apperrors.Validation("oauth state is required")
	case strings.TrimSpace(redirectURI) == "":
		return nil, apperrors.Validation("oauth redirect uri is required")
	}

	codeVerifier = strings.TrimSpace(codeVerifier)

	ok, err := s.store.ConsumeOAuthState(state, redirectURI, s.verifierHash(codeVerifier), s.now())
	if err != nil {
		return nil, apperrors.Internal("consuming oauth state", err)
	}

	if !ok {
		return nil, apperrors.Validation("oauth state is invalid or expired")
	}

	tok, err := s.upstream.ExchangeCode(ctx, code, redirectURI, codeVerifier)
	if err != nil {
		return nil, fmt.Errorf("exchanging oauth code: %w", err)
	}

	return s.establish(ctx, tok)
}

// establish upserts the user, stores the credential, bootstraps the
// user's collections and issues a session.
func (s *Service) establish(ctx context.Context, tok *raindrop.Token) (*ExchangeResult, error) {
	remote, err := s.upstream.CurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetching raindrop user: %w", err)
	}

	if remote == nil || remote.ID == "" {
		return nil, apperrors.Upstream("raindrop user response missing user id", nil)
	}

	now := s.now()

	user, err := s.store.UpsertUserByUpstreamID(remote.ID, remote.DisplayName, now)
	if err != nil {
		return nil, apperrors.Internal("saving user", err)
	}

	if err := s.persistCredential(user.ID, tok, "", now); err != nil {
		return nil, err
	}

	if _, err := s.boot.Ensure(ctx, user.ID, tok.AccessToken); err != nil {
		return nil, err
	}

	sess, err := s.issueSession(user.ID, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("session issued",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", sess.ExpiresAt),
	)

	return &ExchangeResult{User: *user, Session: *sess}, nil
}

func (s *Service) issueSession(userID string, now time.Time) (*IssuedSession, error) {
	token := tokens.Random(tokens.SessionTokenBytes)
	expiresAt := now.Add(s.cfg.SessionTTL)

	if _, err := s.store.CreateSession(userID, s.hasher.Hash(token), now, expiresAt); err != nil {
		return nil, apperrors.Internal("creating session", err)
	}

	return &IssuedSession{Token: token, ExpiresAt: expiresAt}, nil
}

// persistCredential encrypts and stores tok. fallbackRefresh is kept when
// the upstream did not rotate the refresh token.
func (s *Service) persistCredential(userID string, tok *raindrop.Token, fallbackRefresh string, now time.Time) error {
	access, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return apperrors.Internal("encrypting access token", err)
	}

	cred := models.UpstreamCredential{
		UserID:               userID,
		AccessTokenEncrypted: access,
		Scope:                tok.Scope,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	if refresh != "" {
		cred.RefreshTokenEncrypted, err = s.cipher.Encrypt(refresh)
		if err != nil {
			return apperrors.Internal("encrypting refresh token", err)
		}
	}

	if !tok.ExpiresAt.IsZero() {
		exp := tok.ExpiresAt
		cred.ExpiresAt = &exp
	}

	if err := s.store.UpsertCredential(cred); err != nil {
		return apperrors.Internal("saving credential", err)
	}

	return nil
}

// ResolvePrincipal validates a raw session token. Expired, revoked and
// unknown tokens are indistinguishable to the caller.
func (s *Service) ResolvePrincipal(_ context.Context, rawToken string) (*Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, apperrors.ErrMissingSession
	}

	sess, err := s.store.FindActiveSession(s.hasher.Hash(rawToken), s.now())
	if err != nil {
		return nil, apperrors.Internal("looking up session", err)
	}

	if sess == nil {
		return nil, apperrors.ErrInvalidSession
	}

	return &Principal{SessionID: sess.ID, UserID: sess.UserID}, nil
}

// Logout revokes one session.
func (s *Service) Logout(_ context.Context, sessionID string) error {
	changed, err := s.store.RevokeSession(sessionID, s.now())
	if err != nil {
		return apperrors.Internal("revoking session", err)
	}

	if changed {
		s.logger.Info("session revoked", slog.String("session_id", sessionID))
	}

	return nil
}

// CurrentUser returns the user, refreshing the display name from the
// upstream. Upstream failures fall back to the stored record.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	local, err := s.store.GetUser(userID)
	if err != nil {
		return nil, apperrors.Internal("reading user", err)
	}

	if local == nil {
		return nil, apperrors.Unauthorized("user no longer exists")
	}

	var remote *raindrop.User

	err = s.WithFreshAccessToken(ctx, userID, func(accessToken string) error {
		var err error
		remote, err = s.upstream.CurrentUser(ctx, accessToken)

		return err
	})
	if apperrors.IsKind(err, apperrors.KindUpstream) {
		s.logger.Warn("raindrop user lookup failed, using stored profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return local, nil
	}

	if err != nil {
		return nil, err
	}

	if remote == nil || remote.DisplayName == "" {
		return local, nil
	}

	updated, err := s.store.UpdateUserDisplayName(userID, remote.DisplayName, s.now())
	if err != nil {
		return nil, apperrors.Internal("updating user", err)
	}

	if updated == nil {
		return local, nil
	}

	return updated, nil
}

func (s *Service) verifierHash(codeVerifier string) string {
	codeVerifier = strings.TrimSpace(codeVerifier)
	if codeVerifier == "" {
		return ""
	}

	return s.hasher.Hash(codeVerifier)
}

// normalizeAccessToken trims whitespace and a case-insensitive "Bearer"
// scheme prefix. A bare scheme normalizes to "".
func normalizeAccessToken(raw string) string {
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
