// Package client is a typed HTTP client for the todo API. Every method
// blocks until the response is decoded or ctx is done; there is no retry
// or caching.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"esther/internal/models"
	"esther/internal/registry"
)

const (
	DefaultAPIRoot = "/todo/api"
	HostPagePath   = "/todo"

	// APIRegistryName is the host page entry that overrides the API root.
	APIRegistryName = "todo-api"

	formContentType = "application/x-www-form-urlencoded"
)

type Client struct {
	base    *url.URL
	apiRoot *url.URL
	http    *http.Client
	token   string
	log     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.New(io.Discard),
	}
	c.apiRoot = c.resolve(DefaultAPIRoot)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bootstrap fetches the host page, registers the URLs it advertises into
// reg and returns what the page says about the current visitor. When the
// page registers an API root, subsequent calls use it. Call Bootstrap
// before sharing the client between goroutines.
func (c *Client) Bootstrap(ctx context.Context, reg *registry.Registry) (registry.Page, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.resolve(HostPagePath), nil)
	if err != nil {
		return registry.Page{}, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := c.http.Do(req)
	if err != nil {
		return registry.Page{}, fmt.Errorf("fetch host page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return registry.Page{}, decodeError(resp)
	}
	page, err := registry.Scan(resp.Body, reg)
	if err != nil {
		return registry.Page{}, err
	}
	if api, ok := reg.Get(APIRegistryName); ok {
		c.apiRoot = c.resolve(api)
	}
	c.log.Debug("bootstrapped", "api", c.apiRoot.String(), "urls", reg.Size(), "user", page.UserID)
	return page, nil
}

type LoginResult struct {
	ID    int64  `json:"id"`
	Token string `json:"token"`
}

func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	var out LoginResult
	if _, err := c.do(ctx, http.MethodPost, c.api("login"), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Lists(ctx context.Context, userID int64) ([]models.List, error) {
	var out []models.List
	if _, err := c.do(ctx, http.MethodGet, c.listsURL(userID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateList(ctx context.Context, userID int64, form models.ListForm) (*models.List, error) {
	var out models.List
	if err := c.create(ctx, c.listsURL(userID), form.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context, userID int64, slug string) (*models.List, error) {
	var out models.List
	if _, err := c.do(ctx, http.MethodGet, c.listURL(userID, slug), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateList(ctx context.Context, userID int64, slug string, patch models.ListPatch) (*models.List, error) {
	var out models.List
	if _, err := c.do(ctx, http.MethodPatch, c.listURL(userID, slug), patch.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Items(ctx context.Context, userID int64, slug string) ([]models.Item, error) {
	var out []models.Item
	if _, err := c.do(ctx, http.MethodGet, c.itemsURL(userID, slug), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateItem(ctx context.Context, userID int64, slug string, form models.ItemForm) (*models.Item, error) {
	var out models.Item
	if err := c.create(ctx, c.itemsURL(userID, slug), form.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Item(ctx context.Context, userID int64, slug string, id int64) (*models.Item, error) {
	var out models.Item
	if _, err := c.do(ctx, http.MethodGet, c.itemURL(userID, slug, id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateItem(ctx context.Context, userID int64, slug string, id int64, patch models.ItemPatch) (*models.Item, error) {
	var out models.Item
	if _, err := c.do(ctx, http.MethodPatch, c.itemURL(userID, slug, id), patch.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// create POSTs form and decodes the created resource. Servers that answer
// 201 without a body are followed to their Location.
func (c *Client) create(ctx context.Context, u *url.URL, form url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodPost, u, form, out)
	if err != nil {
		return err
	}
	if resp.bodyLen > 0 || resp.location == "" {
		return nil
	}
	loc, err := url.Parse(resp.location)
	if err != nil {
		return fmt.Errorf("parse location: %w", err)
	}
	_, err = c.do(ctx, http.MethodGet, u.ResolveReference(loc), nil, out)
	return err
}

type response struct {
	status   int
	location string
	bodyLen  int
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, form url.Values, out any) (*response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := c.newRequest(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", formContentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("request", "method", method, "path", u.Path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	r := &response{status: resp.StatusCode, location: resp.Header.Get("Location"), bodyLen: len(bytes.TrimSpace(data))}
	if out != nil && r.bodyLen > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, u.Path, err)
		}
	}
	return r, nil
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) resolve(ref string) *url.URL {
	u, err := url.Parse(ref)
	if err != nil {
		return c.base
	}
	return c.base.ResolveReference(u)
}

func (c *Client) api(segments ...string) *url.URL {
	u := *c.apiRoot
	parts := []string{strings.TrimRight(u.Path, "/")}
	raw := []string{strings.TrimRight(u.EscapedPath(), "/")}
	for _, s := range segments {
		parts = append(parts, s)
		raw = append(raw, url.PathEscape(s))
	}
	u.Path = strings.Join(parts, "/")
	u.RawPath = strings.Join(raw, "/")
	return &u
}

func (c *Client) listsURL(userID int64) *url.URL {
	return c.api(strconv.FormatInt(userID, 10), "lists")
}

func (c *Client) listURL(userID int64, slug string) *url.URL {
	return c.api(strconv.FormatInt(userID, 10), "lists", slug)
}

func (c *Client) itemsURL(userID int64, slug string) *url.URL {
	return c.api(strconv.FormatInt(userID, 10), "lists", slug, "items")
}

func (c *Client) itemURL(userID int64, slug string, id int64) *url.URL {
	return c.api(strconv.FormatInt(userID, 10), "lists", slug, "items", strconv.FormatInt(id, 10))
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
	// Fields holds per-field validation messages (422 responses).
	Fields map[string][]string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && len(e.Fields) > 0 {
		var parts []string
		for field, msgs := range e.Fields {
			parts = append(parts, field+": "+strings.Join(msgs, "; "))
		}
		msg = strings.Join(parts, ", ")
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("todo api: %d %s", e.Status, msg)
}

// IsStatus reports whether err is an API error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var raw map[string]json.RawMessage
	if json.Unmarshal(data, &raw) != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	for key, val := range raw {
		if key == "message" {
			_ = json.Unmarshal(val, &apiErr.Message)
			continue
		}
		var msgs []string
		if json.Unmarshal(val, &msgs) == nil {
			if apiErr.Fields == nil {
				apiErr.Fields = map[string][]string{}
			}
			apiErr.Fields[key] = msgs
		}
	}
	return apiErr
}
