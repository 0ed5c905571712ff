// Package raindroptest provides an in-memory Raindrop account for tests of
// the packages layered on top of the raindrop adapter.
package raindroptest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/raindrop"
)

// Fake implements the raindrop client surface against in-memory state.
// Tokens not registered with AcceptToken are rejected as unauthorized.
type Fake struct {
	mu sync.Mutex

	nextID      int
	user        raindrop.User
	tokens      map[string]bool
	collections map[string]*raindrop.Collection
	colOrder    []string
	items       map[string]*raindrop.Item
	itemOrder   []string
	calls       map[string]int
	failures    map[string]error

	// Refresh, when set, serves RefreshToken.
	Refresh func(refreshToken string) (*raindrop.Token, error)

	// Exchange, when set, serves ExchangeCode.
	Exchange func(code, redirectURI, codeVerifier string) (*raindrop.Token, error)
}

// New returns an empty account owned by user.
func New(user raindrop.User) *Fake {
	return &Fake{
		nextID:      100,
		user:        user,
		tokens:      make(map[string]bool),
		collections: make(map[string]*raindrop.Collection),
		items:       make(map[string]*raindrop.Item),
		calls:       make(map[string]int),
		failures:    make(map[string]error),
	}
}

// AcceptToken registers token as valid.
func (f *Fake) AcceptToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = true
}

// RevokeToken makes token invalid.
func (f *Fake) RevokeToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

// FailOn makes every call to method return err until cleared with nil.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.failures, method)
		return
	}

	f.failures[method] = err
}

// Calls returns how many times method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		n += c
	}

	return n
}

// AddCollection inserts a collection directly and returns its id.
func (f *Fake) AddCollection(title, parentID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addCollection(title, parentID)
}

// SetParent rewires a collection's parent, allowing cycles for tests.
func (f *Fake) SetParent(id, parentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.collections[id]; ok {
		c.ParentID = parentID
	}
}

// AddItem inserts an item directly and returns its id.
func (f *Fake) AddItem(collectionID, link string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addItem(collectionID, link)
}

// Collection returns a copy of a stored collection.
func (f *Fake) Collection(id string) (raindrop.Collection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.collections[id]
	if !ok {
		return raindrop.Collection{}, false
	}

	return *c, true
}

// Item returns a copy of a stored item.
func (f *Fake) Item(id string) (raindrop.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.items[id]
	if !ok {
		return raindrop.Item{}, false
	}

	return *it, true
}

func (f *Fake) newID() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *Fake) addCollection(title, parentID string) string {
	id := f.newID()
	f.collections[id] = &raindrop.Collection{ID: id, Title: title, ParentID: parentID}
	f.colOrder = append(f.colOrder, id)

	return id
}

func (f *Fake) addItem(collectionID, link string) string {
	id := f.newID()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(f.itemOrder)) * time.Minute)
	f.items[id] = &raindrop.Item{
		ID:           id,
		Link:         link,
		Created:      created.Format(time.RFC3339),
		CollectionID: collectionID,
	}
	f.itemOrder = append(f.itemOrder, id)

	return id
}

// enter records the call and checks injected failures and the token.
// The caller must hold f.mu.
func (f *Fake) enter(method, token string) error {
	f.calls[method]++

	if err, ok := f.failures[method]; ok {
		return err
	}

	if !f.tokens[token] {
		return fmt.Errorf("%s: %w", method, apperrors.ErrUpstreamUnauthorized)
	}

	return nil
}

func (f *Fake) CurrentUser(_ context.Context, token string) (*raindrop.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("CurrentUser", token); err != nil {
		return nil, err
	}

	u := f.user

	return &u, nil
}

func (f *Fake) GetCollection(_ context.Context, token, id string) (*raindrop.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("GetCollection", token); err != nil {
		return nil, err
	}

	c, ok := f.collections[id]
	if !ok {
		return nil, nil
	}

	out := *c

	return &out, nil
}

func (f *Fake) ListCollections(_ context.Context, token string) ([]raindrop.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("ListCollections", token); err != nil {
		return nil, err
	}

	var out []raindrop.Collection

	for _, id := range f.colOrder {
		if c, ok := f.collections[id]; ok && c.ParentID == "" {
			out = append(out, *c)
		}
	}

	return out, nil
}

func (f *Fake) ListChildCollections(_ context.Context, token, parentID string) ([]raindrop.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("ListChildCollections", token); err != nil {
		return nil, err
	}

	var out []raindrop.Collection

	for _, id := range f.colOrder {
		if c, ok := f.collections[id]; ok && c.ParentID == parentID && parentID != "" {
			out = append(out, *c)
		}
	}

	return out, nil
}

func (f *Fake) CreateCollection(_ context.Context, token, title, parentID string) (*raindrop.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("CreateCollection", token); err != nil {
		return nil, err
	}

	out := *f.collections[f.addCollection(title, parentID)]

	return &out, nil
}

func (f *Fake) UpdateCollection(_ context.Context, token, id, title string) (*raindrop.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("UpdateCollection", token); err != nil {
		return nil, err
	}

	c, ok := f.collections[id]
	if !ok {
		return nil, apperrors.Upstream("raindrop request failed", &raindrop.StatusError{StatusCode: 404})
	}

	c.Title = title
	out := *c

	return &out, nil
}

func (f *Fake) DeleteCollection(_ context.Context, token, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("DeleteCollection", token); err != nil {
		return false, err
	}

	if _, ok := f.collections[id]; !ok {
		return false, nil
	}

	delete(f.collections, id)

	return true, nil
}

func (f *Fake) ListItems(_ context.Context, token, collectionID string, page, perPage int) ([]raindrop.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("ListItems", token); err != nil {
		return nil, err
	}

	var all []raindrop.Item

	for _, id := range f.itemOrder {
		if it, ok := f.items[id]; ok && it.CollectionID == collectionID {
			all = append(all, *it)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Created > all[j].Created })

	start := page * perPage
	if start >= len(all) {
		return []raindrop.Item{}, nil
	}

	end := start + perPage
	if end > len(all) {
		end = len(all)
	}

	return all[start:end], nil
}

func (f *Fake) GetItem(_ context.Context, token, id string) (*raindrop.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("GetItem", token); err != nil {
		return nil, err
	}

	it, ok := f.items[id]
	if !ok {
		return nil, nil
	}

	out := *it

	return &out, nil
}

func (f *Fake) CreateItem(_ context.Context, token, collectionID, link string) (*raindrop.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("CreateItem", token); err != nil {
		return nil, err
	}

	out := *f.items[f.addItem(collectionID, link)]

	return &out, nil
}

func (f *Fake) MoveItem(_ context.Context, token, id, collectionID string) (*raindrop.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("MoveItem", token); err != nil {
		return nil, err
	}

	it, ok := f.items[id]
	if !ok {
		return nil, apperrors.Upstream("raindrop request failed", &raindrop.StatusError{StatusCode: 404})
	}

	it.CollectionID = collectionID
	out := *it

	return &out, nil
}

func (f *Fake) DeleteItem(_ context.Context, token, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("DeleteItem", token); err != nil {
		return false, err
	}

	if _, ok := f.items[id]; !ok {
		return false, nil
	}

	delete(f.items, id)

	return true, nil
}

func (f *Fake) AuthorizeURL(state, redirectURI, codeVerifier string) string {
	return "https://raindrop.test/oauth/authorize?state=" + state + "&redirect_uri=" + redirectURI
}

func (f *Fake) ExchangeCode(_ context.Context, code, redirectURI, codeVerifier string) (*raindrop.Token, error) {
	f.mu.Lock()
	f.calls["ExchangeCode"]++
	exchange := f.Exchange
	f.mu.Unlock()

	if exchange == nil {
		return nil, apperrors.ErrUpstreamUnauthorized
	}

	return exchange(code, redirectURI, codeVerifier)
}

func (f *Fake) RefreshToken(_ context.Context, refreshToken string) (*raindrop.Token, error) {
	f.mu.Lock()
	f.calls["RefreshToken"]++
	refresh := f.Refresh
	f.mu.Unlock()

	if refresh == nil {
		return nil, apperrors.ErrUpstreamUnauthorized
	}

	return refresh(refreshToken)
}
