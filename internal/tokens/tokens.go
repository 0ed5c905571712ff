// Package tokens provides the cryptographic primitives behind sessions and
// upstream credential custody: random tokens, a keyed hash for token
// lookup, and an authenticated cipher for tokens at rest.
package tokens

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

const (
	// SessionTokenBytes is the entropy of an issued session token.
	SessionTokenBytes = 32

	// StateTokenBytes is the entropy of an OAuth state value.
	StateTokenBytes = 24

	// cipherVersion prefixes every ciphertext so the format can evolve.
	cipherVersion = "v1."

	// nonceLen is the AES-GCM standard nonce size.
	nonceLen = 12

	// keyLen is the derived key size for both HMAC and AES-256.
	keyLen = 32
)

var (
	// ErrMalformedCiphertext is returned for input that is not a v1 ciphertext.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrDecrypt is returned when authentication of the ciphertext fails.
	ErrDecrypt = errors.New("ciphertext authentication failed")
)

var encoding = base64.RawURLEncoding

// Random returns sizeBytes of cryptographically random data encoded as
// base64url without padding.
func Random(sizeBytes int) string {
	b := make([]byte, sizeBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return encoding.EncodeToString(b)
}

// deriveKey expands an operator-supplied secret into a fixed-size subkey.
// Secrets are NFKC-normalized so visually identical values typed on
// different systems produce the same key.
func deriveKey(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(norm.NFKC.String(secret)), nil, []byte(info))

	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}

// Hasher computes deterministic keyed digests of tokens so raw tokens are
// never stored.
type Hasher struct {
	key []byte
}

// NewHasher creates a Hasher keyed by secret.
func NewHasher(secret string) (*Hasher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("hashing secret is empty")
	}

	key, err := deriveKey(secret, "linkstash token hash")
	if err != nil {
		return nil, fmt.Errorf("deriving hash key: %w", err)
	}

	return &Hasher{key: key}, nil
}

// Hash returns the base64url HMAC-SHA256 of input.
func (h *Hasher) Hash(input string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(input))

	return encoding.EncodeToString(mac.Sum(nil))
}

// Equal reports whether input hashes to digest, in constant time.
func (h *Hasher) Equal(input, digest string) bool {
	return hmac.Equal([]byte(h.Hash(input)), []byte(digest))
}

// Cipher encrypts upstream tokens at rest with AES-256-GCM.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a Cipher keyed by secret.
func NewCipher(secret string) (*Cipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("encryption secret is empty")
	}

	key, err := deriveKey(secret, "linkstash token encryption")
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// Encrypt returns "v1." followed by base64url(nonce || ciphertext || tag).
// A fresh random nonce is used on every call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return cipherVersion + encoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It never returns partial plaintext.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, cipherVersion) {
		return "", fmt.Errorf("%w: unsupported version", ErrMalformedCiphertext)
	}

	raw, err := encoding.DecodeString(strings.TrimPrefix(ciphertext, cipherVersion))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	if len(raw) < nonceLen+c.gcm.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrMalformedCiphertext)
	}

	plain, err := c.gcm.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plain), nil
}
