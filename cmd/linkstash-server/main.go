package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/linkstash/internal/auth"
	"github.com/alexjbarnes/linkstash/internal/bootstrap"
	"github.com/alexjbarnes/linkstash/internal/config"
	"github.com/alexjbarnes/linkstash/internal/linkstash"
	"github.com/alexjbarnes/linkstash/internal/logging"
	"github.com/alexjbarnes/linkstash/internal/mcpserver"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
	"github.com/alexjbarnes/linkstash/internal/server"
	"github.com/alexjbarnes/linkstash/internal/state"
	"github.com/alexjbarnes/linkstash/internal/tokens"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// oauthStatePurgeInterval is how often expired OAuth states are deleted.
const oauthStatePurgeInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("linkstash-server starting",
		slog.String("version", Version),
		slog.Bool("code_flow", cfg.CodeFlowEnabled()),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	var st *state.State
	if cfg.DBPath != "" {
		st, err = state.LoadAt(cfg.DBPath)
	} else {
		st, err = state.Load()
	}

	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	hasher, err := tokens.NewHasher(cfg.TokenHashingSecret)
	if err != nil {
		return fmt.Errorf("creating token hasher: %w", err)
	}

	cipher, err := tokens.NewCipher(cfg.RaindropTokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("creating token cipher: %w", err)
	}

	cookies, err := auth.NewCookieCodec(cfg.SessionCookieName, cfg.SessionSecret, cfg.SessionCookieSecure)
	if err != nil {
		return fmt.Errorf("creating cookie codec: %w", err)
	}

	upstream := raindrop.NewClient(nil, raindrop.Config{
		APIBaseURL:   cfg.RaindropAPIBaseURL,
		AuthorizeURL: cfg.RaindropAuthorizeURL,
		TokenURL:     cfg.RaindropTokenURL,
		ClientID:     cfg.RaindropClientID,
		ClientSecret: cfg.RaindropClientSecret,
	})

	resolver := bootstrap.NewResolver(upstream, st, bootstrap.Defaults{
		RootTitle:         cfg.RootCollectionTitle,
		DefaultSpaceTitle: cfg.DefaultSpaceTitle,
	}, logger)

	links := linkstash.NewService(upstream, resolver)

	authSvc := auth.NewService(upstream, st, resolver, hasher, cipher, auth.Config{
		SessionTTL:         cfg.SessionTTL,
		OAuthStateTTL:      cfg.OAuthStateTTL,
		DefaultRedirectURI: cfg.RaindropRedirectURI,
		CodeFlowEnabled:    cfg.CodeFlowEnabled(),
	}, logger)

	muxCfg := server.MuxConfig{
		Auth:           authSvc,
		Links:          links,
		Cookies:        cookies,
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if cfg.EnableMCP {
		muxCfg.MCPHandler = mcpserver.Handler(authSvc, links, Version, logger)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.NewHandler(muxCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("listen", cfg.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		purgeOAuthStates(gctx, st, logger)
		return nil
	})

	return g.Wait()
}

// purgeOAuthStates deletes expired OAuth states until ctx is done.
func purgeOAuthStates(ctx context.Context, st *state.State, logger *slog.Logger) {
	ticker := time.NewTicker(oauthStatePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeOAuthStates(time.Now())
			if err != nil {
				logger.Warn("purging oauth states failed", slog.String("error", err.Error()))
				continue
			}

			if n > 0 {
				logger.Debug("purged oauth states", slog.Int("count", n))
			}
		}
	}
}
