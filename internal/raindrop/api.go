package raindrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// collectionRef sends numeric ids as JSON numbers, which is what the
// Raindrop API stores, and anything else verbatim.
func collectionRef(id string) map[string]any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return map[string]any{"$id": json.Number(id)}
	}

	return map[string]any{"$id": id}
}

// CurrentUser returns the account that owns accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	body, err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, false)
	if err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	return decodeUser("/user", body)
}

// GetCollection returns the collection, or nil when it does not exist.
func (c *Client) GetCollection(ctx context.Context, accessToken, id string) (*Collection, error) {
	endpoint := "/collection/" + url.PathEscape(id)

	body, err := c.do(ctx, http.MethodGet, endpoint, accessToken, nil, true)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("fetching collection %s: %w", id, err)
	}

	return decodeCollection(endpoint, body)
}

// ListCollections returns the user's top-level collections.
func (c *Client) ListCollections(ctx context.Context, accessToken string) ([]Collection, error) {
	body, err := c.do(ctx, http.MethodGet, "/collections", accessToken, nil, false)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	return decodeCollections("/collections", body)
}

// ListChildCollections returns the direct children of parentID. The
// upstream only lists all nested collections, so filtering happens here.
func (c *Client) ListChildCollections(ctx context.Context, accessToken, parentID string) ([]Collection, error) {
	body, err := c.do(ctx, http.MethodGet, "/collections/childrens", accessToken, nil, false)
	if err != nil {
		return nil, fmt.Errorf("listing child collections: %w", err)
	}

	all, err := decodeCollections("/collections/childrens", body)
	if err != nil {
		return nil, err
	}

	children := make([]Collection, 0, len(all))

	for _, col := range all {
		if col.ParentID == parentID {
			children = append(children, col)
		}
	}

	return children, nil
}

// CreateCollection creates a collection under parentID, or at the top
// level when parentID is empty.
func (c *Client) CreateCollection(ctx context.Context, accessToken, title, parentID string) (*Collection, error) {
	req := map[string]any{"title": title}
	if parentID != "" {
		req["parent"] = collectionRef(parentID)
	}

	body, err := c.do(ctx, http.MethodPost, "/collection", accessToken, req, false)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	return decodeCollection("/collection", body)
}

// UpdateCollection renames a collection. A missing collection is an
// upstream failure; callers check existence first.
func (c *Client) UpdateCollection(ctx context.Context, accessToken, id, title string) (*Collection, error) {
	endpoint := "/collection/" + url.PathEscape(id)

	body, err := c.do(ctx, http.MethodPut, endpoint, accessToken, map[string]any{"title": title}, false)
	if err != nil {
		return nil, fmt.Errorf("updating collection %s: %w", id, err)
	}

	return decodeCollection(endpoint, body)
}

// DeleteCollection deletes a collection. It reports false when the
// collection did not exist.
func (c *Client) DeleteCollection(ctx context.Context, accessToken, id string) (bool, error) {
	_, err := c.do(ctx, http.MethodDelete, "/collection/"+url.PathEscape(id), accessToken, nil, true)
	if errors.Is(err, errNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("deleting collection %s: %w", id, err)
	}

	return true, nil
}

// ListItems returns one page of a collection's items, newest first.
func (c *Client) ListItems(ctx context.Context, accessToken, collectionID string, page, perPage int) ([]Item, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perpage", strconv.Itoa(perPage))
	q.Set("sort", "-created")

	path := "/raindrops/" + url.PathEscape(collectionID)

	body, err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), accessToken, nil, false)
	if err != nil {
		return nil, fmt.Errorf("listing items of %s: %w", collectionID, err)
	}

	return decodeItems(path, body)
}

// GetItem returns the item, or nil when it does not exist.
func (c *Client) GetItem(ctx context.Context, accessToken, id string) (*Item, error) {
	endpoint := "/raindrop/" + url.PathEscape(id)

	body, err := c.do(ctx, http.MethodGet, endpoint, accessToken, nil, true)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("fetching item %s: %w", id, err)
	}

	return decodeItem(endpoint, body)
}

// CreateItem saves link into collectionID and asks the upstream to parse
// page metadata in the background.
func (c *Client) CreateItem(ctx context.Context, accessToken, collectionID, link string) (*Item, error) {
	req := map[string]any{
		"link":        link,
		"collection":  collectionRef(collectionID),
		"pleaseParse": map[string]any{},
	}

	body, err := c.do(ctx, http.MethodPost, "/raindrop", accessToken, req, false)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	return decodeItem("/raindrop", body)
}

// MoveItem moves an item into collectionID.
func (c *Client) MoveItem(ctx context.Context, accessToken, id, collectionID string) (*Item, error) {
	endpoint := "/raindrop/" + url.PathEscape(id)

	body, err := c.do(ctx, http.MethodPut, endpoint, accessToken, map[string]any{"collection": collectionRef(collectionID)}, false)
	if err != nil {
		return nil, fmt.Errorf("moving item %s: %w", id, err)
	}

	return decodeItem(endpoint, body)
}

// DeleteItem deletes an item. It reports false when the item did not exist.
func (c *Client) DeleteItem(ctx context.Context, accessToken, id string) (bool, error) {
	_, err := c.do(ctx, http.MethodDelete, "/raindrop/"+url.PathEscape(id), accessToken, nil, true)
	if errors.Is(err, errNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("deleting item %s: %w", id, err)
	}

	return true, nil
}
