package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for linkstash-server.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:""`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// DBPath is the bbolt file. Defaults to ~/.linkstash/server.db.
	DBPath string `env:"DB_PATH"`

	// Session cookie signing and session lifetime.
	SessionSecret       string        `env:"SESSION_SECRET"`
	SessionCookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:"linkstash_session"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	OAuthStateTTL       time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// Secrets for the session token hash and the at-rest cipher.
	TokenHashingSecret         string `env:"TOKEN_HASHING_SECRET"`
	RaindropTokenEncryptionKey string `env:"RAINDROP_TOKEN_ENCRYPTION_KEY"`

	// Raindrop OAuth app. The authorization-code flow is enabled only when
	// both the client id and secret are set.
	RaindropClientID     string `env:"RAINDROP_CLIENT_ID"`
	RaindropClientSecret string `env:"RAINDROP_CLIENT_SECRET"`
	RaindropRedirectURI  string `env:"RAINDROP_REDIRECT_URI"`
	RaindropAuthorizeURL string `env:"RAINDROP_AUTHORIZE_URL" envDefault:"https://raindrop.io/oauth/authorize"`
	RaindropTokenURL     string `env:"RAINDROP_TOKEN_URL" envDefault:"https://api.raindrop.io/v1/oauth/access_token"`
	RaindropAPIBaseURL   string `env:"RAINDROP_API_BASE_URL" envDefault:"https://api.raindrop.io/rest/v1"`

	RootCollectionTitle string `env:"LINKSTASH_ROOT_COLLECTION_TITLE" envDefault:"LinkStash"`
	DefaultSpaceTitle   string `env:"LINKSTASH_DEFAULT_SPACE_TITLE" envDefault:"Inbox"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173,http://localhost:8080,http://127.0.0.1:8080"`

	EnableMCP bool `env:"ENABLE_MCP" envDefault:"false"`
}

// ClientConfig holds configuration for the linkstash CLI.
type ClientConfig struct {
	Environment       string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"warn"`
	ServerURL         string `env:"LINKSTASH_SERVER_URL" envDefault:"http://localhost:8080"`
	StatePath         string `env:"LINKSTASH_STATE_PATH"`
	DefaultSpaceTitle string `env:"LINKSTASH_DEFAULT_SPACE_TITLE" envDefault:"Inbox"`
}

const (
	// secretMinLen is the minimum length for the three server secrets.
	secretMinLen = 16
)

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing secrets to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads server configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.DBPath != "" {
		absPath, err := filepath.Abs(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("resolving db path to absolute path: %w", err)
		}

		cfg.DBPath = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for _, s := range []struct {
		name  string
		value string
	}{
		{"SESSION_SECRET", c.SessionSecret},
		{"TOKEN_HASHING_SECRET", c.TokenHashingSecret},
		{"RAINDROP_TOKEN_ENCRYPTION_KEY", c.RaindropTokenEncryptionKey},
	} {
		if s.value == "" {
			return fmt.Errorf("%s is required", s.name)
		}

		if len(s.value) < secretMinLen {
			return fmt.Errorf("%s too short (minimum %d characters)", s.name, secretMinLen)
		}
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.OAuthStateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be positive")
	}

	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be blank")
	}

	if (c.RaindropClientID == "") != (c.RaindropClientSecret == "") {
		return fmt.Errorf("RAINDROP_CLIENT_ID and RAINDROP_CLIENT_SECRET must be set together")
	}

	if c.CodeFlowEnabled() && c.RaindropRedirectURI == "" {
		return fmt.Errorf("RAINDROP_REDIRECT_URI is required when the Raindrop OAuth client is configured")
	}

	for name, raw := range map[string]string{
		"RAINDROP_API_BASE_URL":  c.RaindropAPIBaseURL,
		"RAINDROP_AUTHORIZE_URL": c.RaindropAuthorizeURL,
		"RAINDROP_TOKEN_URL":     c.RaindropTokenURL,
	} {
		if err := checkURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if strings.TrimSpace(c.RootCollectionTitle) == "" || strings.TrimSpace(c.DefaultSpaceTitle) == "" {
		return fmt.Errorf("LINKSTASH_ROOT_COLLECTION_TITLE and LINKSTASH_DEFAULT_SPACE_TITLE must not be blank")
	}

	return nil
}

// CodeFlowEnabled reports whether the Raindrop authorization-code flow is
// configured.
func (c *Config) CodeFlowEnabled() bool {
	return c.RaindropClientID != "" && c.RaindropClientSecret != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadClient reads CLI configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := checkURL(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("validating config: LINKSTASH_SERVER_URL: %w", err)
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if cfg.StatePath == "" {
		path, err := DefaultClientStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	return cfg, nil
}

// DefaultClientStatePath returns ~/.linkstash/client.db.
func DefaultClientStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".linkstash", "client.db"), nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: must be absolute http(s)", raw)
	}

	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))

	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}
