package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"ENVIRONMENT",
		"LOG_LEVEL",
		"LISTEN_ADDR",
		"DB_PATH",
		"SESSION_SECRET",
		"SESSION_COOKIE_NAME",
		"SESSION_COOKIE_SECURE",
		"SESSION_TTL",
		"OAUTH_STATE_TTL",
		"TOKEN_HASHING_SECRET",
		"RAINDROP_TOKEN_ENCRYPTION_KEY",
		"RAINDROP_CLIENT_ID",
		"RAINDROP_CLIENT_SECRET",
		"RAINDROP_REDIRECT_URI",
		"RAINDROP_AUTHORIZE_URL",
		"RAINDROP_TOKEN_URL",
		"RAINDROP_API_BASE_URL",
		"LINKSTASH_ROOT_COLLECTION_TITLE",
		"LINKSTASH_DEFAULT_SPACE_TITLE",
		"CORS_ALLOWED_ORIGINS",
		"ENABLE_MCP",
		"LINKSTASH_SERVER_URL",
		"LINKSTASH_STATE_PATH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setSecrets sets the minimum env vars for the server.
func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session-secret-0123456789")
	t.Setenv("TOKEN_HASHING_SECRET", "hashing-secret-0123456789")
	t.Setenv("RAINDROP_TOKEN_ENCRYPTION_KEY", "encryption-key-0123456789")
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "linkstash_session", cfg.SessionCookieName)
	assert.False(t, cfg.SessionCookieSecure)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.OAuthStateTTL)
	assert.Equal(t, "LinkStash", cfg.RootCollectionTitle)
	assert.Equal(t, "Inbox", cfg.DefaultSpaceTitle)
	assert.Equal(t, "https://api.raindrop.io/rest/v1", cfg.RaindropAPIBaseURL)
	assert.Len(t, cfg.CORSAllowedOrigins, 4)
	assert.False(t, cfg.EnableMCP)
	assert.False(t, cfg.CodeFlowEnabled())
	assert.False(t, cfg.IsProduction())
	assert.Empty(t, cfg.DBPath)
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)

	dir := t.TempDir()
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DB_PATH", filepath.Join(dir, "x.db"))
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SESSION_COOKIE_SECURE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	t.Setenv("RAINDROP_CLIENT_ID", "client")
	t.Setenv("RAINDROP_CLIENT_SECRET", "secret")
	t.Setenv("RAINDROP_REDIRECT_URI", "https://app.example.com/callback")
	t.Setenv("ENABLE_MCP", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, filepath.Join(dir, "x.db"), cfg.DBPath)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.SessionCookieSecure)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.CodeFlowEnabled())
	assert.True(t, cfg.EnableMCP)
}

func TestLoad_RelativeDBPathResolved(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("DB_PATH", "data/server.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.DBPath))
}

func TestLoad_MissingSecrets(t *testing.T) {
	for _, key := range []string{"SESSION_SECRET", "TOKEN_HASHING_SECRET", "RAINDROP_TOKEN_ENCRYPTION_KEY"} {
		t.Run(key, func(t *testing.T) {
			clearConfigEnv(t)
			setSecrets(t)
			os.Unsetenv(key)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key+" is required")
		})
	}
}

func TestLoad_ShortSecret(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("SESSION_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET too short")
}

func TestLoad_ClientIDWithoutSecret(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("RAINDROP_CLIENT_ID", "client")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")
}

func TestLoad_CodeFlowNeedsRedirect(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("RAINDROP_CLIENT_ID", "client")
	t.Setenv("RAINDROP_CLIENT_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAINDROP_REDIRECT_URI is required")
}

func TestLoad_InvalidUpstreamURL(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("RAINDROP_API_BASE_URL", "api.raindrop.io")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAINDROP_API_BASE_URL")
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("SESSION_TTL", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_NonPositiveTTL(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("OAUTH_STATE_TTL", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAUTH_STATE_TTL must be positive")
}

func TestLoad_BlankTitles(t *testing.T) {
	clearConfigEnv(t)
	setSecrets(t)
	t.Setenv("LINKSTASH_DEFAULT_SPACE_TITLE", "   ")

	_, err := Load()
	require.Error(t, err)
}

// --- LoadClient ---

func TestLoadClient_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, "Inbox", cfg.DefaultSpaceTitle)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".linkstash", "client.db"), cfg.StatePath)
}

func TestLoadClient_TrimsTrailingSlash(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LINKSTASH_SERVER_URL", "https://links.example.com/")
	t.Setenv("LINKSTASH_STATE_PATH", filepath.Join(t.TempDir(), "c.db"))

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "https://links.example.com", cfg.ServerURL)
}

func TestLoadClient_InvalidServerURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LINKSTASH_SERVER_URL", "not a url")

	_, err := LoadClient()
	require.Error(t, err)
}

// --- warnInsecureEnvFile ---

func TestWarnInsecureEnvFile_NoFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	warnInsecureEnvFile()
}
