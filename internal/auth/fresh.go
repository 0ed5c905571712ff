package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
)

// RefreshMargin is how close to expiry a stored access token may get
// before it is refreshed ahead of use.
const RefreshMargin = 60 * time.Second

// refreshTimeout bounds one upstream refresh call.
const refreshTimeout = 30 * time.Second

type freshTokens struct {
	access  string
	refresh string
}

// WithFreshAccessToken runs fn with the user's upstream access token.
//
// A token within RefreshMargin of its expiry is refreshed first. When fn
// reports that the upstream rejected the token, the token is refreshed and
// fn retried once, unless a refresh already happened during this call. Any
// refresh failure, a missing credential, or a second rejection purges the
// credential and every session of the user and returns a reauth-required
// error. All other errors from fn are returned unchanged.
func (s *Service) WithFreshAccessToken(ctx context.Context, userID string, fn func(accessToken string) error) error {
	cred, err := s.store.GetCredential(userID)
	if err != nil {
		return apperrors.Internal("reading credential", err)
	}

	if cred == nil {
		return s.ForceReauth(ctx, userID, "raindrop credentials were not found for this user")
	}

	access, err := s.cipher.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		return s.ForceReauth(ctx, userID, "stored raindrop credentials could not be read")
	}

	var refresh string
	if cred.RefreshTokenEncrypted != "" {
		refresh, err = s.cipher.Decrypt(cred.RefreshTokenEncrypted)
		if err != nil {
			return s.ForceReauth(ctx, userID, "stored raindrop credentials could not be read")
		}
	}

	refreshed := false

	if cred.ExpiresAt != nil && !cred.ExpiresAt.After(s.now().Add(RefreshMargin)) {
		if refresh == "" {
			return s.ForceReauth(ctx, userID, "raindrop access token expired and no refresh token is available")
		}

		fresh, err := s.refresh(ctx, userID, refresh)
		if err != nil {
			return err
		}

		access, refresh, refreshed = fresh.access, fresh.refresh, true
	}

	err = fn(access)
	if !errors.Is(err, apperrors.ErrUpstreamUnauthorized) {
		return err
	}

	if refresh == "" {
		return s.ForceReauth(ctx, userID, "raindrop rejected the access token and no refresh token is available")
	}

	if refreshed {
		return s.ForceReauth(ctx, userID, "raindrop rejected a freshly refreshed access token")
	}

	fresh, err := s.refresh(ctx, userID, refresh)
	if err != nil {
		return err
	}

	err = fn(fresh.access)
	if errors.Is(err, apperrors.ErrUpstreamUnauthorized) {
		return s.ForceReauth(ctx, userID, "raindrop rejected a freshly refreshed access token")
	}

	return err
}

// refresh exchanges the refresh token and persists the result before
// returning it. Concurrent refreshes for one user share a single upstream
// call, which runs detached from any one caller's cancellation and is
// bounded by refreshTimeout. A caller whose context ends stops waiting
// without affecting the others.
func (s *Service) refresh(ctx context.Context, userID, refreshToken string) (*freshTokens, error) {
	ch := s.refreshes.DoChan(userID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tok, err := s.upstream.RefreshToken(flightCtx, refreshToken)
		if err != nil {
			s.logger.Warn("raindrop token refresh failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)

			if flightCtx.Err() != nil {
				return nil, apperrors.Upstream("raindrop token refresh timed out", err)
			}

			return nil, s.ForceReauth(flightCtx, userID, "raindrop token refresh failed")
		}

		if err := s.persistCredential(userID, tok, refreshToken, s.now()); err != nil {
			return nil, err
		}

		s.logger.Info("raindrop token refreshed", slog.String("user_id", userID))

		next := tok.RefreshToken
		if next == "" {
			next = refreshToken
		}

		return &freshTokens{access: tok.AccessToken, refresh: next}, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*freshTokens), nil
	}
}

// ForceReauth deletes the user's upstream credential and revokes all of
// the user's sessions. It returns a reauth-required error carrying reason,
// or an internal error when the purge itself failed.
func (s *Service) ForceReauth(_ context.Context, userID, reason string) error {
	if err := s.store.DeleteCredential(userID); err != nil {
		return apperrors.Internal("deleting credential", err)
	}

	revoked, err := s.store.RevokeAllSessions(userID, s.now())
	if err != nil {
		return apperrors.Internal("revoking sessions", err)
	}

	s.logger.Warn("reauthentication required",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int("sessions_revoked", revoked),
	)

	return apperrors.ReauthRequired(reason)
}
