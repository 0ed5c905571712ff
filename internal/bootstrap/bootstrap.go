// Package bootstrap resolves, and creates when missing, the upstream
// collections that anchor a user's LinkStash: one top-level root
// collection and one default space directly beneath it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
	"golang.org/x/text/cases"
)

// Upstream is the subset of the raindrop client the resolver needs.
type Upstream interface {
	GetCollection(ctx context.Context, accessToken, id string) (*raindrop.Collection, error)
	ListCollections(ctx context.Context, accessToken string) ([]raindrop.Collection, error)
	ListChildCollections(ctx context.Context, accessToken, parentID string) ([]raindrop.Collection, error)
	CreateCollection(ctx context.Context, accessToken, title, parentID string) (*raindrop.Collection, error)
}

// ConfigStore persists each user's resolved collections.
type ConfigStore interface {
	GetBootstrapConfig(userID string) (*models.BootstrapConfig, error)
	UpsertBootstrapConfig(cfg models.BootstrapConfig) error
}

// Defaults are the process-wide titles used when a user has no persisted
// configuration.
type Defaults struct {
	RootTitle         string
	DefaultSpaceTitle string
}

// Result identifies a user's resolved root and default space.
type Result struct {
	RootCollectionID         string
	DefaultSpaceCollectionID string
	RootTitle                string
	DefaultSpaceTitle        string
}

// Resolver implements the bootstrap algorithm. It holds no per-user state
// and is safe for concurrent use.
type Resolver struct {
	upstream Upstream
	store    ConfigStore
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(upstream Upstream, store ConfigStore, defaults Defaults, logger *slog.Logger) *Resolver {
	return &Resolver{
		upstream: upstream,
		store:    store,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the resolver's time source.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// collection is a resolved upstream collection with a guaranteed id.
type collection struct {
	id    string
	title string
}

// Ensure resolves the user's root and default space, creating whichever is
// missing, and persists the result. It is safe to call on every request.
func (r *Resolver) Ensure(ctx context.Context, userID, accessToken string) (*Result, error) {
	existing, err := r.store.GetBootstrapConfig(userID)
	if err != nil {
		return nil, apperrors.Internal("reading bootstrap config", err)
	}

	rootTitle := r.defaults.RootTitle
	defaultTitle := r.defaults.DefaultSpaceTitle

	var persistedRoot, persistedDefault string

	if existing != nil {
		if strings.TrimSpace(existing.RootTitle) != "" {
			rootTitle = existing.RootTitle
		}

		if strings.TrimSpace(existing.DefaultSpaceTitle) != "" {
			defaultTitle = existing.DefaultSpaceTitle
		}

		persistedRoot = existing.RootCollectionID
		persistedDefault = existing.DefaultSpaceCollectionID
	}

	root, err := r.resolveRoot(ctx, accessToken, persistedRoot, rootTitle)
	if err != nil {
		return nil, err
	}

	def, err := r.resolveDefaultSpace(ctx, accessToken, root.id, persistedDefault, defaultTitle)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RootCollectionID:         root.id,
		DefaultSpaceCollectionID: def.id,
		RootTitle:                rootTitle,
		DefaultSpaceTitle:        defaultTitle,
	}

	if err := r.persist(userID, res); err != nil {
		return nil, err
	}

	if existing == nil || existing.RootCollectionID != root.id || existing.DefaultSpaceCollectionID != def.id {
		r.logger.Info("bootstrap resolved",
			slog.String("user_id", userID),
			slog.String("root_collection_id", root.id),
			slog.String("default_space_collection_id", def.id),
		)
	}

	return res, nil
}

func (r *Resolver) persist(userID string, res *Result) error {
	now := r.now()

	err := r.store.UpsertBootstrapConfig(models.BootstrapConfig{
		UserID:                   userID,
		RootCollectionID:         res.RootCollectionID,
		DefaultSpaceCollectionID: res.DefaultSpaceCollectionID,
		RootTitle:                res.RootTitle,
		DefaultSpaceTitle:        res.DefaultSpaceTitle,
		CreatedAt:                now,
		UpdatedAt:                now,
	})
	if err != nil {
		return apperrors.Internal("saving bootstrap config", err)
	}

	return nil
}

func (r *Resolver) resolveRoot(ctx context.Context, accessToken, persistedID, title string) (*collection, error) {
	if strings.TrimSpace(persistedID) != "" {
		col, err := r.upstream.GetCollection(ctx, accessToken, persistedID)
		if err != nil {
			return nil, fmt.Errorf("checking root collection: %w", err)
		}

		if col != nil && col.ParentID == "" {
			return &collection{id: persistedID, title: titleOr(col.Title, title)}, nil
		}
	}

	all, err := r.upstream.ListCollections(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("searching root collection: %w", err)
	}

	var matches []raindrop.Collection

	for _, col := range all {
		if col.ParentID == "" && strings.TrimSpace(col.Title) == title {
			matches = append(matches, col)
		}
	}

	// Ambiguous matches fall through to creation.
	if len(matches) == 1 {
		return resolved(&matches[0], title, "resolved root collection")
	}

	if len(matches) > 1 {
		r.logger.Warn("multiple root collections share the expected title, creating another",
			slog.String("title", title),
			slog.Int("matches", len(matches)),
		)
	}

	created, err := r.upstream.CreateCollection(ctx, accessToken, title, "")
	if err != nil {
		return nil, fmt.Errorf("creating root collection: %w", err)
	}

	return resolved(created, title, "created root collection")
}

func (r *Resolver) resolveDefaultSpace(ctx context.Context, accessToken, rootID, persistedID, title string) (*collection, error) {
	if strings.TrimSpace(persistedID) != "" {
		col, err := r.upstream.GetCollection(ctx, accessToken, persistedID)
		if err != nil {
			return nil, fmt.Errorf("checking default space: %w", err)
		}

		if col != nil && col.ParentID == rootID {
			return &collection{id: persistedID, title: titleOr(col.Title, title)}, nil
		}
	}

	children, err := r.upstream.ListChildCollections(ctx, accessToken, rootID)
	if err != nil {
		return nil, fmt.Errorf("searching default space: %w", err)
	}

	for i := range children {
		if strings.TrimSpace(children[i].Title) == title {
			return resolved(&children[i], title, "resolved default space")
		}
	}

	created, err := r.upstream.CreateCollection(ctx, accessToken, title, rootID)
	if err != nil {
		return nil, fmt.Errorf("creating default space: %w", err)
	}

	return resolved(created, title, "created default space")
}

// ListSpaces returns the root's direct children as spaces, sorted
// case-insensitively by title. The default space is always included.
func (r *Resolver) ListSpaces(ctx context.Context, userID, accessToken string) ([]models.Space, error) {
	res, err := r.Ensure(ctx, userID, accessToken)
	if err != nil {
		return nil, err
	}

	children, err := r.upstream.ListChildCollections(ctx, accessToken, res.RootCollectionID)
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}

	spaces := make([]models.Space, 0, len(children)+1)
	hasDefault := false

	for _, c := range children {
		title := strings.TrimSpace(c.Title)
		if c.ID == "" || title == "" {
			continue
		}

		if c.ID == res.DefaultSpaceCollectionID {
			hasDefault = true
		}

		spaces = append(spaces, models.Space{ID: c.ID, Title: title})
	}

	if !hasDefault {
		def, err := r.resolveDefaultSpace(ctx, accessToken, res.RootCollectionID, res.DefaultSpaceCollectionID, res.DefaultSpaceTitle)
		if err != nil {
			return nil, err
		}

		res.DefaultSpaceCollectionID = def.id
		if err := r.persist(userID, res); err != nil {
			return nil, err
		}

		spaces = append(spaces, models.Space{ID: def.id, Title: def.title})
	}

	return sortSpaces(dedupe(spaces)), nil
}

// sortSpaces orders spaces by case-folded title. Casers are stateful, so
// one is created per call.
func sortSpaces(spaces []models.Space) []models.Space {
	fold := cases.Fold()
	sort.SliceStable(spaces, func(i, j int) bool {
		return fold.String(spaces[i].Title) < fold.String(spaces[j].Title)
	})

	return spaces
}

func dedupe(spaces []models.Space) []models.Space {
	seen := make(map[string]struct{}, len(spaces))
	out := spaces[:0]

	for _, s := range spaces {
		if _, dup := seen[s.ID]; dup {
			continue
		}

		seen[s.ID] = struct{}{}
		out = append(out, s)
	}

	return out
}

func resolved(c *raindrop.Collection, fallbackTitle, what string) (*collection, error) {
	if c == nil || c.ID == "" {
		return nil, apperrors.Upstream(fmt.Sprintf("raindrop %s without id", what), nil)
	}

	return &collection{id: c.ID, title: titleOr(c.Title, fallbackTitle)}, nil
}

func titleOr(title, fallback string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}

	return fallback
}
