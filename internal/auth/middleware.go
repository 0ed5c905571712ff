package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxSessionID
	ctxRemoteIP
)

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestSessionID returns the authenticated session ID from the context, or "".
func RequestSessionID(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, p.UserID)
	return context.WithValue(ctx, ctxSessionID, p.SessionID)
}

// PrincipalResolver validates raw session tokens.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, rawToken string) (*Principal, error)
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware returns HTTP middleware that authenticates requests by the
// signed session cookie or an Authorization Bearer header, in that order.
// The first candidate that resolves to an active session wins.
func Middleware(resolver PrincipalResolver, cookies *CookieCodec, logger *slog.Logger, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			var candidates []string

			if cookies != nil {
				if token, ok := cookies.Read(r); ok {
					candidates = append(candidates, token)
				}
			}

			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				candidates = append(candidates, token)
			}

			if len(candidates) == 0 {
				logger.Debug("middleware: no session credentials",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				writeErr(w, r, apperrors.ErrMissingSession)

				return
			}

			var principal *Principal

			for _, token := range candidates {
				p, err := resolver.ResolvePrincipal(r.Context(), token)
				if err == nil {
					principal = p
					break
				}

				if !apperrors.IsKind(err, apperrors.KindUnauthorized) {
					writeErr(w, r, err)
					return
				}
			}

			if principal == nil {
				logger.Debug("middleware: invalid session",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				writeErr(w, r, apperrors.ErrInvalidSession)

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("user_id", principal.UserID),
				slog.String("session_id", principal.SessionID),
				slog.String("ip", ip),
			)

			ctx := WithPrincipal(r.Context(), *principal)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(prefix):])

	return token, token != ""
}
