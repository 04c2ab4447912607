// Package todo orchestrates the list and item workflow of the client: it
// fetches the user's lists, creates lists and items, and marks items done,
// keeping the derived view state consistent with what the server returned.
package todo

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"esther/internal/models"
)

// Resources is the subset of the API the controller needs.
type Resources interface {
	Lists(ctx context.Context, userID int64) ([]models.List, error)
	CreateList(ctx context.Context, userID int64, form models.ListForm) (*models.List, error)
	Items(ctx context.Context, userID int64, slug string) ([]models.Item, error)
	CreateItem(ctx context.Context, userID int64, slug string, form models.ItemForm) (*models.Item, error)
	UpdateItem(ctx context.Context, userID int64, slug string, id int64, patch models.ItemPatch) (*models.Item, error)
}

var (
	ErrUnknownList = errors.New("todo: unknown list")
	ErrUnknownItem = errors.New("todo: unknown item")
)

// List is a fetched list together with its client-side state.
type List struct {
	models.List
	Items []models.Item
	// HasItemsToDo is true iff at least one item is not done.
	HasItemsToDo bool
	// NewItem is the pending item form for this list.
	NewItem models.ItemForm
}

// State is a point-in-time copy of the controller state for rendering.
type State struct {
	UserID             int64
	IsAnonymousUser    bool
	Lists              []List
	ActiveSlug         string
	ShowCreateListForm bool
	NewList            models.ListForm
	Err                error
}

// Active returns the active list, if any.
func (s State) Active() (List, bool) {
	for _, l := range s.Lists {
		if l.Slug == s.ActiveSlug && s.ActiveSlug != "" {
			return l, true
		}
	}
	return List{}, false
}

// Controller is safe for concurrent use. Network calls are made without
// holding the state lock, so responses may complete in any order; each
// response only touches the list or item it was issued for.
type Controller struct {
	res Resources
	log *log.Logger

	mu                 sync.Mutex
	userID             int64
	anonymous          bool
	lists              []*List
	active             *List
	showCreateListForm bool
	newList            models.ListForm
	err                error
}

// ResolveUser turns the host-provided user id into the id used for API
// calls. Without one, every visitor shares the anonymous user.
func ResolveUser(raw string) (id int64, anonymous bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.AnonymousUserID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return models.AnonymousUserID, true
	}
	return id, false
}

func NewController(res Resources, hostUserID string, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	id, anonymous := ResolveUser(hostUserID)
	if anonymous && strings.TrimSpace(hostUserID) != "" {
		logger.Warn("ignoring malformed host user id", "raw", hostUserID)
	}
	return &Controller{res: res, log: logger, userID: id, anonymous: anonymous}
}

func (c *Controller) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Controller) IsAnonymousUser() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anonymous
}

// FetchLists replaces the list collection with the server's.
func (c *Controller) FetchLists(ctx context.Context) error {
	userID := c.UserID()
	fetched, err := c.res.Lists(ctx, userID)
	if err != nil {
		return c.fail("fetch lists", err)
	}

	lists := make([]*List, 0, len(fetched))
	for _, l := range fetched {
		lists = append(lists, &List{List: l})
	}

	c.mu.Lock()
	c.lists = lists
	c.active = nil
	c.err = nil
	c.mu.Unlock()
	c.log.Debug("lists fetched", "user", userID, "count", len(lists))
	return nil
}

// CreateList submits the pending list form. On success the form is hidden
// and cleared and the whole collection is fetched again.
func (c *Controller) CreateList(ctx context.Context) error {
	c.mu.Lock()
	userID, form := c.userID, c.newList
	c.mu.Unlock()

	created, err := c.res.CreateList(ctx, userID, form)
	if err != nil {
		return c.fail("create list", err)
	}
	c.log.Info("list created", "slug", created.Slug)

	c.mu.Lock()
	c.showCreateListForm = false
	c.newList = models.ListForm{}
	c.mu.Unlock()
	return c.FetchLists(ctx)
}

// LoadItems makes the list active and replaces its items with the server's.
func (c *Controller) LoadItems(ctx context.Context, slug string) error {
	c.mu.Lock()
	list := c.find(slug)
	if list == nil {
		c.mu.Unlock()
		return c.fail("load items", ErrUnknownList)
	}
	c.active = list
	userID := c.userID
	c.mu.Unlock()

	items, err := c.res.Items(ctx, userID, slug)
	if err != nil {
		return c.fail("load items", err)
	}

	c.mu.Lock()
	list.Items = items
	list.HasItemsToDo = models.HasItemsToDo(items)
	c.err = nil
	c.mu.Unlock()
	return nil
}

// CreateItem submits the list's pending item form, then reloads all of the
// list's items and clears the form unless it was edited in the meantime.
func (c *Controller) CreateItem(ctx context.Context, slug string) error {
	c.mu.Lock()
	list := c.find(slug)
	if list == nil {
		c.mu.Unlock()
		return c.fail("create item", ErrUnknownList)
	}
	userID, form := c.userID, list.NewItem
	c.mu.Unlock()

	if _, err := c.res.CreateItem(ctx, userID, slug, form); err != nil {
		return c.fail("create item", err)
	}
	if err := c.LoadItems(ctx, slug); err != nil {
		return err
	}

	c.mu.Lock()
	if list.NewItem == form {
		list.NewItem = models.ItemForm{}
	}
	c.mu.Unlock()
	return nil
}

// MarkDone sends a partial update carrying only is_done. The server's
// answer is copied onto the local item and the list's HasItemsToDo is
// recomputed. If the list or item disappeared in the meantime the answer
// is dropped.
func (c *Controller) MarkDone(ctx context.Context, slug string, itemID int64, done bool) error {
	c.mu.Lock()
	list := c.find(slug)
	if list == nil {
		c.mu.Unlock()
		return c.fail("mark done", ErrUnknownList)
	}
	if findItem(list, itemID) == nil {
		c.mu.Unlock()
		return c.fail("mark done", ErrUnknownItem)
	}
	userID := c.userID
	c.mu.Unlock()

	updated, err := c.res.UpdateItem(ctx, userID, slug, itemID, models.ItemPatch{IsDone: &done})
	if err != nil {
		return c.fail("mark done", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.find(slug) != list {
		c.log.Debug("dropping stale update", "slug", slug, "item", itemID)
		return nil
	}
	item := findItem(list, itemID)
	if item == nil {
		c.log.Debug("dropping stale update", "slug", slug, "item", itemID)
		return nil
	}
	item.IsDone = updated.IsDone
	list.HasItemsToDo = models.HasItemsToDo(list.Items)
	c.err = nil
	return nil
}

func (c *Controller) ToggleCreateListForm() {
	c.mu.Lock()
	c.showCreateListForm = !c.showCreateListForm
	c.mu.Unlock()
}

func (c *Controller) SetNewList(form models.ListForm) {
	c.mu.Lock()
	c.newList = form
	c.mu.Unlock()
}

func (c *Controller) SetNewItem(slug string, form models.ItemForm) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.find(slug)
	if list == nil {
		return ErrUnknownList
	}
	list.NewItem = form
	return nil
}

// Err returns the error of the last failed operation, cleared by the next
// successful fetch or mutation.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		UserID:             c.userID,
		IsAnonymousUser:    c.anonymous,
		ShowCreateListForm: c.showCreateListForm,
		NewList:            c.newList,
		Err:                c.err,
		Lists:              make([]List, 0, len(c.lists)),
	}
	if c.active != nil {
		s.ActiveSlug = c.active.Slug
	}
	for _, l := range c.lists {
		cp := *l
		cp.Items = append([]models.Item(nil), l.Items...)
		s.Lists = append(s.Lists, cp)
	}
	return s
}

func (c *Controller) fail(op string, err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.log.Error(op+" failed", "err", err)
	return err
}

// find must be called with c.mu held.
func (c *Controller) find(slug string) *List {
	for _, l := range c.lists {
		if l.Slug == slug {
			return l
		}
	}
	return nil
}

func findItem(l *List, id int64) *models.Item {
	for i := range l.Items {
		if l.Items[i].ID == id {
			return &l.Items[i]
		}
	}
	return nil
}
