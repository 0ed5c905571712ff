// Package linkstash maps LinkStash spaces and links onto upstream Raindrop
// collections and items. Every operation first resolves the user's
// bootstrap anchors and then checks that the target lies inside the user's
// root subtree before reading or mutating it.
package linkstash

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alexjbarnes/linkstash/internal/bootstrap"
	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
)

// PageSize is the fixed number of links per page.
const PageSize = 50

// Upstream is the subset of the raindrop client the service needs.
type Upstream interface {
	GetCollection(ctx context.Context, accessToken, id string) (*raindrop.Collection, error)
	CreateCollection(ctx context.Context, accessToken, title, parentID string) (*raindrop.Collection, error)
	UpdateCollection(ctx context.Context, accessToken, id, title string) (*raindrop.Collection, error)
	DeleteCollection(ctx context.Context, accessToken, id string) (bool, error)
	ListItems(ctx context.Context, accessToken, collectionID string, page, perPage int) ([]raindrop.Item, error)
	GetItem(ctx context.Context, accessToken, id string) (*raindrop.Item, error)
	CreateItem(ctx context.Context, accessToken, collectionID, link string) (*raindrop.Item, error)
	MoveItem(ctx context.Context, accessToken, id, collectionID string) (*raindrop.Item, error)
	DeleteItem(ctx context.Context, accessToken, id string) (bool, error)
}

// Bootstrapper resolves a user's root and default space.
type Bootstrapper interface {
	Ensure(ctx context.Context, userID, accessToken string) (*bootstrap.Result, error)
	ListSpaces(ctx context.Context, userID, accessToken string) ([]models.Space, error)
}

// Service implements the spaces and links operations.
type Service struct {
	upstream  Upstream
	bootstrap Bootstrapper
}

// NewService creates a Service.
func NewService(upstream Upstream, boot Bootstrapper) *Service {
	return &Service{upstream: upstream, bootstrap: boot}
}

var (
	errSpaceNotFound = apperrors.NotFound("space not found")
	errLinkNotFound  = apperrors.NotFound("link not found")
)

// ListSpaces returns the user's spaces.
func (s *Service) ListSpaces(ctx context.Context, userID, accessToken string) ([]models.Space, error) {
	return s.bootstrap.ListSpaces(ctx, userID, accessToken)
}

// DefaultSpaceID returns the id of the user's default space.
func (s *Service) DefaultSpaceID(ctx context.Context, userID, accessToken string) (string, error) {
	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return "", err
	}

	return res.DefaultSpaceCollectionID, nil
}

// CreateSpace creates a space directly under the user's root.
func (s *Service) CreateSpace(ctx context.Context, userID, accessToken, title string) (*models.Space, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.Validation("space title is required")
	}

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return nil, err
	}

	col, err := s.upstream.CreateCollection(ctx, accessToken, title, res.RootCollectionID)
	if err != nil {
		return nil, err
	}

	return toSpace(col)
}

// RenameSpace changes a space's title.
func (s *Service) RenameSpace(ctx context.Context, userID, accessToken, spaceID, title string) (*models.Space, error) {
	spaceID = strings.TrimSpace(spaceID)

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.Validation("space title is required")
	}

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSpaceBelongsToRoot(ctx, accessToken, res.RootCollectionID, spaceID); err != nil {
		return nil, err
	}

	col, err := s.upstream.UpdateCollection(ctx, accessToken, spaceID, title)
	if err != nil {
		return nil, err
	}

	return toSpace(col)
}

// DeleteSpace deletes a space. Its links go wherever the upstream sends
// the contents of deleted collections.
func (s *Service) DeleteSpace(ctx context.Context, userID, accessToken, spaceID string) error {
	spaceID = strings.TrimSpace(spaceID)

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return err
	}

	if _, err := s.RequireSpaceBelongsToRoot(ctx, accessToken, res.RootCollectionID, spaceID); err != nil {
		return err
	}

	deleted, err := s.upstream.DeleteCollection(ctx, accessToken, spaceID)
	if err != nil {
		return err
	}

	if !deleted {
		return errSpaceNotFound
	}

	return nil
}

// ListLinks returns one page of a space's links, newest first.
func (s *Service) ListLinks(ctx context.Context, userID, accessToken, spaceID, cursor string) (*models.LinkPage, error) {
	spaceID = strings.TrimSpace(spaceID)

	page, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSpaceBelongsToRoot(ctx, accessToken, res.RootCollectionID, spaceID); err != nil {
		return nil, err
	}

	items, err := s.upstream.ListItems(ctx, accessToken, spaceID, page, PageSize)
	if err != nil {
		return nil, err
	}

	out := &models.LinkPage{Links: make([]models.Link, 0, len(items))}

	for i := range items {
		link, err := toLink(&items[i], spaceID)
		if err != nil {
			return nil, err
		}

		out.Links = append(out.Links, *link)
	}

	if len(items) >= PageSize {
		next := strconv.Itoa(page + 1)
		out.NextCursor = &next
	}

	return out, nil
}

// CreateLink saves url into a space.
func (s *Service) CreateLink(ctx context.Context, userID, accessToken, spaceID, url string) (*models.Link, error) {
	spaceID = strings.TrimSpace(spaceID)

	url = strings.TrimSpace(url)
	if url == "" {
		return nil, apperrors.Validation("link url is required")
	}

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSpaceBelongsToRoot(ctx, accessToken, res.RootCollectionID, spaceID); err != nil {
		return nil, err
	}

	item, err := s.upstream.CreateItem(ctx, accessToken, spaceID, url)
	if err != nil {
		return nil, err
	}

	return toLink(item, spaceID)
}

// MoveLink moves a link into another space. Both the link's current
// location and the target must be inside the user's root subtree.
func (s *Service) MoveLink(ctx context.Context, userID, accessToken, linkID, targetSpaceID string) (*models.Link, error) {
	linkID = strings.TrimSpace(linkID)

	targetSpaceID = strings.TrimSpace(targetSpaceID)
	if targetSpaceID == "" {
		return nil, apperrors.Validation("target space id is required")
	}

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSpaceBelongsToRoot(ctx, accessToken, res.RootCollectionID, targetSpaceID); err != nil {
		return nil, err
	}

	if _, err := s.RequireLinkBelongsToRootSubtree(ctx, accessToken, res.RootCollectionID, linkID); err != nil {
		return nil, err
	}

	item, err := s.upstream.MoveItem(ctx, accessToken, linkID, targetSpaceID)
	if err != nil {
		return nil, err
	}

	return toLink(item, targetSpaceID)
}

// DeleteLink deletes a link.
func (s *Service) DeleteLink(ctx context.Context, userID, accessToken, linkID string) error {
	linkID = strings.TrimSpace(linkID)

	res, err := s.bootstrap.Ensure(ctx, userID, accessToken)
	if err != nil {
		return err
	}

	if _, err := s.RequireLinkBelongsToRootSubtree(ctx, accessToken, res.RootCollectionID, linkID); err != nil {
		return err
	}

	deleted, err := s.upstream.DeleteItem(ctx, accessToken, linkID)
	if err != nil {
		return err
	}

	if !deleted {
		return errLinkNotFound
	}

	return nil
}

// RequireSpaceBelongsToRoot returns the collection for spaceID when it is a
// direct child of rootID. Anything else is reported as not found.
func (s *Service) RequireSpaceBelongsToRoot(ctx context.Context, accessToken, rootID, spaceID string) (*raindrop.Collection, error) {
	if spaceID == "" {
		return nil, apperrors.Validation("space id is required")
	}

	col, err := s.upstream.GetCollection(ctx, accessToken, spaceID)
	if err != nil {
		return nil, err
	}

	if col == nil || col.ParentID != rootID {
		return nil, errSpaceNotFound
	}

	return col, nil
}

// RequireLinkBelongsToRootSubtree returns the item for linkID when its
// collection lies anywhere under rootID.
func (s *Service) RequireLinkBelongsToRootSubtree(ctx context.Context, accessToken, rootID, linkID string) (*raindrop.Item, error) {
	if linkID == "" {
		return nil, apperrors.Validation("link id is required")
	}

	item, err := s.upstream.GetItem(ctx, accessToken, linkID)
	if err != nil {
		return nil, err
	}

	if item == nil {
		return nil, errLinkNotFound
	}

	if item.CollectionID == "" {
		return nil, apperrors.Upstream("raindrop item is missing its collection", nil)
	}

	inside, err := s.InRootSubtree(ctx, accessToken, rootID, item.CollectionID)
	if err != nil {
		return nil, err
	}

	if !inside {
		return nil, errLinkNotFound
	}

	return item, nil
}

// InRootSubtree walks collectionID's parent chain looking for rootID. The
// walk stops at a missing collection, a top-level collection, or the first
// repeated id, so it terminates on cyclic upstream data.
func (s *Service) InRootSubtree(ctx context.Context, accessToken, rootID, collectionID string) (bool, error) {
	visited := make(map[string]struct{})
	current := collectionID

	for {
		if current == rootID {
			return true, nil
		}

		if _, seen := visited[current]; seen {
			return false, nil
		}

		visited[current] = struct{}{}

		col, err := s.upstream.GetCollection(ctx, accessToken, current)
		if err != nil {
			return false, fmt.Errorf("walking collection ancestry: %w", err)
		}

		if col == nil || col.ParentID == "" {
			return false, nil
		}

		current = col.ParentID
	}
}

// ParseCursor converts a page cursor into a zero-based page number. An
// empty cursor is the first page.
func ParseCursor(cursor string) (int, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}

	page, err := strconv.Atoi(cursor)
	if err != nil || page < 0 {
		return 0, apperrors.Validation("invalid cursor")
	}

	return page, nil
}

func toSpace(col *raindrop.Collection) (*models.Space, error) {
	if col == nil || col.ID == "" {
		return nil, apperrors.Upstream("raindrop collection is missing id", nil)
	}

	title := strings.TrimSpace(col.Title)
	if title == "" {
		return nil, apperrors.Upstream("raindrop collection is missing title", nil)
	}

	return &models.Space{ID: col.ID, Title: title}, nil
}

// toLink maps an item, using fallbackSpaceID when the payload omitted its
// collection. Missing ids and urls are upstream contract violations.
func toLink(item *raindrop.Item, fallbackSpaceID string) (*models.Link, error) {
	if item == nil || item.ID == "" {
		return nil, apperrors.Upstream("raindrop item is missing id", nil)
	}

	if item.Link == "" {
		return nil, apperrors.Upstream("raindrop item is missing url", nil)
	}

	spaceID := item.CollectionID
	if spaceID == "" {
		spaceID = fallbackSpaceID
	}

	if spaceID == "" {
		return nil, apperrors.Upstream("raindrop item is missing its collection", nil)
	}

	return &models.Link{
		ID:        item.ID,
		URL:       item.Link,
		Title:     item.Title,
		Excerpt:   item.Excerpt,
		CreatedAt: item.Created,
		SpaceID:   spaceID,
	}, nil
}
