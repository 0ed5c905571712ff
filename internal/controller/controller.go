// Package controller holds the client UI state and the user intents that
// change it. Every intent runs to completion and returns the settled
// snapshot; failures are reported through the snapshot's status message.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/linkstash/internal/client"
	"github.com/alexjbarnes/linkstash/internal/clientstate"
	"github.com/alexjbarnes/linkstash/internal/models"
)

// InitialStatus is the status message of a fresh controller.
const InitialStatus = "Paste Raindrop token to sync and browse links"

var errNotAuthenticated = errors.New("not authenticated")

// API is the server API the controller drives.
type API interface {
	SetToken(token string)
	ExchangeToken(ctx context.Context, raindropToken string) (*client.ExchangeResponse, error)
	Me(ctx context.Context) (*models.UserView, error)
	Logout(ctx context.Context) error
	ListSpaces(ctx context.Context) ([]models.Space, error)
	ListLinks(ctx context.Context, spaceID, cursor string) (*models.LinkPage, error)
	CreateLink(ctx context.Context, spaceID, rawURL string) (*models.Link, error)
	MoveLink(ctx context.Context, linkID, spaceID string) (*models.Link, error)
	DeleteLink(ctx context.Context, linkID string) error
}

// Store persists the session token and the pending queue.
type Store interface {
	SessionToken() (string, error)
	SaveSessionToken(token string) error
	ClearSessionToken() error
	Enqueue(url string, now time.Time) (bool, error)
	Pending(limit int) ([]clientstate.PendingLink, error)
	Remove(id uint64) error
	Count() (int, error)
}

// Snapshot is an immutable view of the UI state.
type Snapshot struct {
	IsAuthenticated   bool             `yaml:"is_authenticated"`
	IsLoading         bool             `yaml:"is_loading"`
	User              *models.UserView `yaml:"user,omitempty"`
	Spaces            []models.Space   `yaml:"spaces"`
	SelectedSpaceID   string           `yaml:"selected_space_id,omitempty"`
	Links             []models.Link    `yaml:"links"`
	NextCursor        string           `yaml:"next_cursor,omitempty"`
	PendingQueueCount int              `yaml:"pending_queue_count"`
	StatusMessage     string           `yaml:"status_message"`

	// Err is the failure behind the status message of the last intent.
	Err error `yaml:"-"`
}

func (s Snapshot) clone() Snapshot {
	s.Spaces = slices.Clone(s.Spaces)
	s.Links = slices.Clone(s.Links)

	if s.User != nil {
		u := *s.User
		s.User = &u
	}

	return s
}

// Controller coordinates the API, the local store and the UI state.
type Controller struct {
	api               API
	store             Store
	defaultSpaceTitle string
	logger            *slog.Logger
	now               func() time.Time

	// actions serializes intents; mu guards state.
	actions sync.Mutex
	mu      sync.RWMutex
	state   Snapshot
}

// New creates a Controller.
func New(api API, store Store, defaultSpaceTitle string, logger *slog.Logger) *Controller {
	return &Controller{
		api:               api,
		store:             store,
		defaultSpaceTitle: defaultSpaceTitle,
		logger:            logger,
		now:               time.Now,
		state:             Snapshot{StatusMessage: InitialStatus},
	}
}

// Snapshot returns the current state. It may be called while an intent
// is running.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state.clone()
}

func (c *Controller) update(fn func(s *Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

// settle returns the snapshot at the end of an intent.
func (c *Controller) settle(err error) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.IsLoading = false
	c.state.Err = err

	return c.state.clone()
}

// Initialize restores a saved session and loads everything when one exists.
func (c *Controller) Initialize(ctx context.Context) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	token, err := c.store.SessionToken()
	if err != nil {
		return c.fail(fmt.Errorf("reading saved session: %w", err))
	}

	c.api.SetToken(token)
	c.refreshPendingCount()

	if token == "" {
		return c.settle(nil)
	}

	return c.busy(ctx, func() error {
		return c.refreshAll(ctx, "Session restored")
	})
}

// UseToken exchanges a Raindrop token for a session and loads everything.
func (c *Controller) UseToken(ctx context.Context, raindropToken string) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	if strings.TrimSpace(raindropToken) == "" {
		c.update(func(s *Snapshot) { s.StatusMessage = "Raindrop token is required" })
		return c.settle(errors.New("raindrop token is required"))
	}

	return c.busy(ctx, func() error {
		resp, err := c.api.ExchangeToken(ctx, raindropToken)
		if err != nil {
			return err
		}

		if err := c.store.SaveSessionToken(resp.BearerToken); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}

		return c.refreshAll(ctx, "Logged in with token")
	})
}

// ShareURL queues rawURL and syncs the queue when authenticated.
func (c *Controller) ShareURL(ctx context.Context, rawURL string) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	u := strings.TrimSpace(rawURL)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		c.update(func(s *Snapshot) { s.StatusMessage = "Shared text does not contain an http(s) URL" })
		return c.settle(errors.New("not an http(s) URL"))
	}

	if _, err := c.store.Enqueue(u, c.now()); err != nil {
		return c.fail(err)
	}

	c.refreshPendingCount()
	c.update(func(s *Snapshot) { s.StatusMessage = "Queued shared URL" })

	if !c.Snapshot().IsAuthenticated {
		return c.settle(nil)
	}

	return c.busy(ctx, func() error {
		return c.syncPending(ctx)
	})
}

// Refresh reloads the user, spaces and links and flushes the queue.
func (c *Controller) Refresh(ctx context.Context) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	if !c.Snapshot().IsAuthenticated {
		c.update(func(s *Snapshot) { s.StatusMessage = "Authenticate with token first" })
		return c.settle(errNotAuthenticated)
	}

	return c.busy(ctx, func() error {
		return c.refreshAll(ctx, "Refreshed")
	})
}

// SyncPending sends queued links to the default space.
func (c *Controller) SyncPending(ctx context.Context) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	if !c.Snapshot().IsAuthenticated {
		return c.settle(nil)
	}

	return c.busy(ctx, func() error {
		return c.syncPending(ctx)
	})
}

// SelectSpace loads the first page of a space's links.
func (c *Controller) SelectSpace(ctx context.Context, spaceID string) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	return c.busy(ctx, func() error {
		page, err := c.api.ListLinks(ctx, spaceID, "")
		if err != nil {
			return err
		}

		c.update(func(s *Snapshot) {
			s.SelectedSpaceID = spaceID
			s.Links = page.Links
			s.NextCursor = cursorOf(page)
			s.StatusMessage = "Loaded links"
		})

		return nil
	})
}

// LoadMore appends the next page of the selected space. It does nothing
// when no space is selected or there are no more pages.
func (c *Controller) LoadMore(ctx context.Context) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	cur := c.Snapshot()
	if cur.SelectedSpaceID == "" || cur.NextCursor == "" {
		return c.settle(nil)
	}

	return c.busy(ctx, func() error {
		page, err := c.api.ListLinks(ctx, cur.SelectedSpaceID, cur.NextCursor)
		if err != nil {
			return err
		}

		c.update(func(s *Snapshot) {
			s.Links = append(s.Links, page.Links...)
			s.NextCursor = cursorOf(page)
			s.StatusMessage = "Loaded more links"
		})

		return nil
	})
}

// MoveLink moves a link and reloads the selected space.
func (c *Controller) MoveLink(ctx context.Context, linkID, targetSpaceID string) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	return c.busy(ctx, func() error {
		if _, err := c.api.MoveLink(ctx, linkID, targetSpaceID); err != nil {
			return err
		}

		return c.reloadSelected(ctx, "Moved link")
	})
}

// DeleteLink deletes a link and reloads the selected space.
func (c *Controller) DeleteLink(ctx context.Context, linkID string) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	return c.busy(ctx, func() error {
		if err := c.api.DeleteLink(ctx, linkID); err != nil {
			return err
		}

		return c.reloadSelected(ctx, "Deleted link")
	})
}

// Logout revokes the server session when possible and forgets the saved
// token. Queued links are kept.
func (c *Controller) Logout(ctx context.Context) Snapshot {
	c.actions.Lock()
	defer c.actions.Unlock()

	if c.Snapshot().IsAuthenticated {
		if err := c.api.Logout(ctx); err != nil {
			c.logger.Debug("server logout failed", slog.String("error", err.Error()))
		}
	}

	if err := c.clearSession(); err != nil {
		return c.fail(err)
	}

	c.reset("Logged out")

	return c.settle(nil)
}

// busy runs action with the loading flag set and maps its failure onto
// the state.
func (c *Controller) busy(ctx context.Context, action func() error) Snapshot {
	c.update(func(s *Snapshot) { s.IsLoading = true })

	err := action()
	if err == nil {
		return c.settle(nil)
	}

	if client.IsAuthError(err) {
		c.logger.Info("session no longer valid", slog.String("error", err.Error()))

		if clearErr := c.clearSession(); clearErr != nil {
			c.logger.Warn("clearing saved session failed", slog.String("error", clearErr.Error()))
		}

		c.reset("Session expired. Paste token again.")

		return c.settle(err)
	}

	if ctx.Err() != nil {
		err = ctx.Err()
	}

	return c.fail(err)
}

// fail records err's message as the status.
func (c *Controller) fail(err error) Snapshot {
	msg := err.Error()

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}

	c.update(func(s *Snapshot) { s.StatusMessage = msg })

	return c.settle(err)
}

func (c *Controller) clearSession() error {
	c.api.SetToken("")

	if err := c.store.ClearSessionToken(); err != nil {
		return fmt.Errorf("clearing saved session: %w", err)
	}

	return nil
}

// reset returns to the unauthenticated state, keeping the pending count.
func (c *Controller) reset(status string) {
	count, err := c.store.Count()
	if err != nil {
		c.logger.Warn("counting pending links failed", slog.String("error", err.Error()))
	}

	c.update(func(s *Snapshot) {
		*s = Snapshot{PendingQueueCount: count, StatusMessage: status}
	})
}

func (c *Controller) refreshPendingCount() {
	count, err := c.store.Count()
	if err != nil {
		c.logger.Warn("counting pending links failed", slog.String("error", err.Error()))
		return
	}

	c.update(func(s *Snapshot) { s.PendingQueueCount = count })
}

func (c *Controller) refreshAll(ctx context.Context, status string) error {
	user, err := c.api.Me(ctx)
	if err != nil {
		return err
	}

	spaces, err := c.api.ListSpaces(ctx)
	if err != nil {
		return err
	}

	selected := c.resolveSelected(spaces, c.Snapshot().SelectedSpaceID)

	selected, page, err := c.listOrDrop(ctx, selected)
	if err != nil {
		return err
	}

	synced := c.flushPending(ctx, spaces)

	if synced > 0 && selected != "" {
		selected, page, err = c.listOrDrop(ctx, selected)
		if err != nil {
			return err
		}
	}

	count, err := c.store.Count()
	if err != nil {
		return fmt.Errorf("counting pending links: %w", err)
	}

	if synced > 0 {
		status = fmt.Sprintf("%s. Synced %d queued link(s).", status, synced)
	}

	c.update(func(s *Snapshot) {
		s.IsAuthenticated = true
		s.User = user
		s.Spaces = spaces
		s.SelectedSpaceID = selected
		s.Links = page.Links
		s.NextCursor = cursorOf(page)
		s.PendingQueueCount = count
		s.StatusMessage = status
	})

	return nil
}

func (c *Controller) syncPending(ctx context.Context) error {
	spaces := c.Snapshot().Spaces
	if len(spaces) == 0 {
		var err error

		spaces, err = c.api.ListSpaces(ctx)
		if err != nil {
			return err
		}
	}

	synced := c.flushPending(ctx, spaces)

	count, err := c.store.Count()
	if err != nil {
		return fmt.Errorf("counting pending links: %w", err)
	}

	page := &models.LinkPage{}

	if selected := c.Snapshot().SelectedSpaceID; selected != "" {
		page, err = c.api.ListLinks(ctx, selected, "")
		if err != nil {
			return err
		}
	}

	status := "No queued links were synced"
	if synced > 0 {
		status = fmt.Sprintf("Synced %d queued link(s)", synced)
	}

	c.update(func(s *Snapshot) {
		s.PendingQueueCount = count
		s.Links = page.Links
		s.NextCursor = cursorOf(page)
		s.StatusMessage = status
	})

	return nil
}

// flushPending sends queued links oldest first to the default space and
// stops at the first failure, leaving the rest queued.
func (c *Controller) flushPending(ctx context.Context, spaces []models.Space) int {
	target := c.defaultSpaceID(spaces)
	if target == "" {
		return 0
	}

	pending, err := c.store.Pending(clientstate.DefaultPendingLimit)
	if err != nil {
		c.logger.Warn("reading pending links failed", slog.String("error", err.Error()))
		return 0
	}

	sent := 0

	for _, p := range pending {
		if _, err := c.api.CreateLink(ctx, target, p.URL); err != nil {
			c.logger.Debug("pending link not sent, will retry",
				slog.String("url", p.URL),
				slog.String("error", err.Error()),
			)

			break
		}

		if err := c.store.Remove(p.ID); err != nil {
			c.logger.Warn("removing sent link from queue failed", slog.String("error", err.Error()))
			break
		}

		sent++
	}

	return sent
}

func (c *Controller) reloadSelected(ctx context.Context, status string) error {
	selected := c.Snapshot().SelectedSpaceID
	if selected == "" {
		c.update(func(s *Snapshot) { s.StatusMessage = status })
		return nil
	}

	page, err := c.api.ListLinks(ctx, selected, "")
	if err != nil {
		return err
	}

	c.update(func(s *Snapshot) {
		s.Links = page.Links
		s.NextCursor = cursorOf(page)
		s.StatusMessage = status
	})

	return nil
}

// listOrDrop lists the first page of spaceID. A space that no longer
// exists is deselected instead of failing.
func (c *Controller) listOrDrop(ctx context.Context, spaceID string) (string, *models.LinkPage, error) {
	if spaceID == "" {
		return "", &models.LinkPage{}, nil
	}

	page, err := c.api.ListLinks(ctx, spaceID, "")
	if client.IsNotFound(err) {
		return "", &models.LinkPage{}, nil
	}

	if err != nil {
		return "", nil, err
	}

	return spaceID, page, nil
}

// resolveSelected keeps preferred when it still exists, else picks the
// default space.
func (c *Controller) resolveSelected(spaces []models.Space, preferred string) string {
	if preferred != "" && slices.ContainsFunc(spaces, func(s models.Space) bool { return s.ID == preferred }) {
		return preferred
	}

	return c.defaultSpaceID(spaces)
}

// defaultSpaceID matches the configured title case-insensitively, falling
// back to the first space.
func (c *Controller) defaultSpaceID(spaces []models.Space) string {
	for _, s := range spaces {
		if strings.EqualFold(s.Title, c.defaultSpaceTitle) {
			return s.ID
		}
	}

	if len(spaces) > 0 {
		return spaces[0].ID
	}

	return ""
}

func cursorOf(page *models.LinkPage) string {
	if page == nil || page.NextCursor == nil {
		return ""
	}

	return *page.NextCursor
}
