package tokens

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T, secret string) *Cipher {
	t.Helper()

	c, err := NewCipher(secret)
	require.NoError(t, err)

	return c
}

// --- Random ---

func TestRandom_LengthAndAlphabet(t *testing.T) {
	tok := Random(SessionTokenBytes)
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, SessionTokenBytes)
	assert.NotContains(t, tok, "=")
	assert.NotContains(t, tok, "+")
	assert.NotContains(t, tok, "/")
}

func TestRandom_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok := Random(StateTokenBytes)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate random token")
		seen[tok] = struct{}{}
	}
}

// --- Hasher ---

func TestHasher_Deterministic(t *testing.T) {
	h, err := NewHasher("hash-secret")
	require.NoError(t, err)
	assert.Equal(t, h.Hash("token"), h.Hash("token"))
	assert.NotEqual(t, h.Hash("token"), h.Hash("token2"))
}

func TestHasher_KeyedBySecret(t *testing.T) {
	h1, err := NewHasher("secret-a")
	require.NoError(t, err)
	h2, err := NewHasher("secret-b")
	require.NoError(t, err)
	assert.NotEqual(t, h1.Hash("token"), h2.Hash("token"))
}

func TestHasher_Equal(t *testing.T) {
	h, err := NewHasher("hash-secret")
	require.NoError(t, err)
	digest := h.Hash("token")
	assert.True(t, h.Equal("token", digest))
	assert.False(t, h.Equal("other", digest))
}

func TestNewHasher_EmptySecret(t *testing.T) {
	_, err := NewHasher("  ")
	assert.Error(t, err)
}

// --- Cipher ---

func TestCipher_RoundTrip(t *testing.T) {
	c := testCipher(t, "enc-secret")
	ct, err := c.Encrypt("raindrop-access-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "v1."))
	assert.NotContains(t, ct, "raindrop-access-token")

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "raindrop-access-token", pt)
}

func TestCipher_FreshNoncePerCall(t *testing.T) {
	c := testCipher(t, "enc-secret")
	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_EmptyPlaintext(t *testing.T) {
	c := testCipher(t, "enc-secret")
	ct, err := c.Encrypt("")
	require.NoError(t, err)
	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "", pt)
}

func TestCipher_WrongKeyFails(t *testing.T) {
	ct, err := testCipher(t, "key-one").Encrypt("secret")
	require.NoError(t, err)

	_, err = testCipher(t, "key-two").Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_TamperedFails(t *testing.T) {
	c := testCipher(t, "enc-secret")
	ct, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ct, "v1."))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := "v1." + base64.RawURLEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_RoundTripArbitraryStrings(t *testing.T) {
	c := testCipher(t, "enc-secret")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"ascii", "raindrop-access-token"},
		{"multibyte utf8", "ключ-トークン-🔑-ñ"},
		{"invalid utf8", string([]byte{0xff, 0xfe, 0xc3, 0x28, 0x80})},
		{"nul bytes", "a\x00b\x00\x00c"},
		{"combining marks", "e\u0301 vs \u00e9"},
		{"64 KiB", strings.Repeat("x", 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := c.Encrypt(tt.plaintext)
			require.NoError(t, err)

			pt, err := c.Decrypt(ct)
			require.NoError(t, err)
			assert.Equal(t, []byte(tt.plaintext), []byte(pt), "bytes must be preserved exactly")
		})
	}
}

func TestCipher_EverySingleBitFlipFails(t *testing.T) {
	c := testCipher(t, "enc-secret")
	ct, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ct, "v1."))
	require.NoError(t, err)

	// Covers nonce, ciphertext body and tag.
	for i := range len(raw) * 8 {
		flipped := append([]byte(nil), raw...)
		flipped[i/8] ^= 1 << (i % 8)

		pt, err := c.Decrypt("v1." + base64.RawURLEncoding.EncodeToString(flipped))
		require.ErrorIs(t, err, ErrDecrypt, "bit %d", i)
		require.Empty(t, pt, "bit %d", i)
	}
}

func TestCipher_MalformedInputs(t *testing.T) {
	c := testCipher(t, "enc-secret")
	tests := []struct {
		name  string
		input string
	}{
		{"no prefix", "abc"},
		{"wrong version", "v2.AAAA"},
		{"bad base64", "v1.***"},
		{"too short", "v1." + base64.RawURLEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.input)
			assert.ErrorIs(t, err, ErrMalformedCiphertext)
		})
	}
}

func TestNewCipher_EmptySecret(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
}
