package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexjbarnes/linkstash/internal/tokens"
)

// CookieCodec writes and reads the session cookie. The cookie value is the
// raw session token followed by a keyed signature, so tampered cookies are
// rejected before any store lookup.
type CookieCodec struct {
	name   string
	secure bool
	signer *tokens.Hasher
}

// NewCookieCodec creates a codec signing with secret.
func NewCookieCodec(name, secret string, secure bool) (*CookieCodec, error) {
	if name == "" {
		return nil, fmt.Errorf("cookie name is required")
	}

	signer, err := tokens.NewHasher(secret)
	if err != nil {
		return nil, fmt.Errorf("creating cookie signer: %w", err)
	}

	return &CookieCodec{name: name, secure: secure, signer: signer}, nil
}

// Name returns the cookie name.
func (c *CookieCodec) Name() string { return c.name }

// Encode returns the signed cookie value for token.
func (c *CookieCodec) Encode(token string) string {
	return token + "." + c.signer.Hash(token)
}

// Decode verifies a cookie value and returns the session token inside.
func (c *CookieCodec) Decode(value string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", false
	}

	token, sig := value[:i], value[i+1:]
	if !c.signer.Equal(token, sig) {
		return "", false
	}

	return token, true
}

// Set writes the session cookie.
func (c *CookieCodec) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    c.Encode(token),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the verified session token from r, if any.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	return c.Decode(cookie.Value)
}
