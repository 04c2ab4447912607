package models

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AnonymousUserID is the shared identity used when no user is known.
const AnonymousUserID int64 = 1

type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	ShortName string `json:"short_name"`
	FullName  string `json:"full_name,omitempty"`
	Password  string `json:"-"`
	IsActive  bool   `json:"is_active"`
}

type List struct {
	ID          int64     `json:"id" yaml:"id"`
	UserID      int64     `json:"user_id" yaml:"user_id"`
	Slug        string    `json:"slug" yaml:"slug"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	IsPublic    bool      `json:"is_public" yaml:"is_public"`
	Created     Timestamp `json:"created" yaml:"created"`
}

// Item is a single todo entry. Slug names the parent list.
type Item struct {
	ID          int64      `json:"id" yaml:"id"`
	Slug        string     `json:"slug" yaml:"slug"`
	Description string     `json:"description" yaml:"description"`
	Details     string     `json:"details" yaml:"details"`
	Due         *Timestamp `json:"due" yaml:"due,omitempty"`
	IsDone      bool       `json:"is_done" yaml:"is_done"`
}

// Timestamp is a time that travels as an HTTP date in JSON,
// e.g. "Sat, 09 Mar 2013 10:15:39 GMT". The zero value encodes as null.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(FormatDue(t.Time))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDue(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// YAML keeps the native timestamp form.
func (t Timestamp) MarshalYAML() (any, error) {
	return t.Time, nil
}

func (t *Timestamp) UnmarshalYAML(n *yaml.Node) error {
	return n.Decode(&t.Time)
}

// ListForm is the payload of a list creation request.
type ListForm struct {
	Title       string
	Description string
	IsPublic    *bool
}

func (f ListForm) Values() url.Values {
	v := url.Values{}
	v.Set("title", f.Title)
	if f.Description != "" {
		v.Set("description", f.Description)
	}
	if f.IsPublic != nil {
		v.Set("is_public", strconv.FormatBool(*f.IsPublic))
	}
	return v
}

// ListPatch carries only the fields to change.
type ListPatch struct {
	Title       *string
	Description *string
	IsPublic    *bool
}

func (p ListPatch) Values() url.Values {
	v := url.Values{}
	if p.Title != nil {
		v.Set("title", *p.Title)
	}
	if p.Description != nil {
		v.Set("description", *p.Description)
	}
	if p.IsPublic != nil {
		v.Set("is_public", strconv.FormatBool(*p.IsPublic))
	}
	return v
}

// ItemForm is the payload of an item creation request.
type ItemForm struct {
	Description string
	Details     string
	Due         *time.Time
}

func (f ItemForm) Values() url.Values {
	v := url.Values{}
	v.Set("description", f.Description)
	if f.Details != "" {
		v.Set("details", f.Details)
	}
	if f.Due != nil {
		v.Set("due", FormatDue(*f.Due))
	}
	return v
}

// ItemPatch carries only the fields to change.
type ItemPatch struct {
	Description *string
	Details     *string
	Due         *time.Time
	IsDone      *bool
}

func (p ItemPatch) Values() url.Values {
	v := url.Values{}
	if p.Description != nil {
		v.Set("description", *p.Description)
	}
	if p.Details != nil {
		v.Set("details", *p.Details)
	}
	if p.Due != nil {
		v.Set("due", FormatDue(*p.Due))
	}
	if p.IsDone != nil {
		v.Set("is_done", strconv.FormatBool(*p.IsDone))
	}
	return v
}

// FormatDue renders a due date the way the API accepts it,
// e.g. "Sat, 09 Mar 2013 10:15:39 GMT".
func FormatDue(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseDue is the inverse of FormatDue.
func ParseDue(s string) (time.Time, error) {
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// HasItemsToDo reports whether at least one item is still open.
func HasItemsToDo(items []Item) bool {
	for _, it := range items {
		if !it.IsDone {
			return true
		}
	}
	return false
}
