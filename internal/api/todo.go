package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"esther/internal/auth"
	"esther/internal/models"
	"esther/internal/slug"
	"esther/internal/storage"
)

const (
	maxTitleLen       = 128
	maxDescriptionLen = 1024
	maxItemTextLen    = 255
	maxDetailsLen     = 1024
)

// access is the outcome of resolving the list a request addresses.
type access struct {
	ownerID int64
	list    *models.List
	isOwner bool
}

// resolveOwner parses {userID} and reports whether the caller acts as that
// user. Unknown owners are 404.
func (s *Server) resolveOwner(w http.ResponseWriter, r *http.Request) (int64, bool, bool) {
	ownerID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		notFound(w)
		return 0, false, false
	}
	if _, err := s.store.UserByID(r.Context(), ownerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(w)
		} else {
			s.serverError(w, r, err)
		}
		return 0, false, false
	}
	actor, ok := s.actingUser(r.Context())
	return ownerID, ok && actor == ownerID, true
}

// resolveList loads {slug} for {userID}. Private lists are invisible to
// anyone but their owner, so they answer 404 rather than 403.
func (s *Server) resolveList(w http.ResponseWriter, r *http.Request) (*access, bool) {
	ownerID, isOwner, ok := s.resolveOwner(w, r)
	if !ok {
		return nil, false
	}
	list, err := s.store.ListBySlug(r.Context(), ownerID, mux.Vars(r)["slug"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(w)
		} else {
			s.serverError(w, r, err)
		}
		return nil, false
	}
	if !list.IsPublic && !isOwner {
		notFound(w)
		return nil, false
	}
	return &access{ownerID: ownerID, list: list, isOwner: isOwner}, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, ok := readForm(w, r, "email", "password")
	if !ok {
		return
	}
	user, err := s.store.UserByEmail(r.Context(), strings.TrimSpace(form.Get("email")))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.serverError(w, r, err)
		return
	}
	if user == nil || !user.IsActive || !auth.CheckPassword(user.Password, form.Get("password")) {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials.")
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Info("user logged in", "user", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": user.ID, "token": token})
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	ownerID, isOwner, ok := s.resolveOwner(w, r)
	if !ok {
		return
	}
	lists, err := s.store.Lists(r.Context(), ownerID, isOwner)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	ownerID, isOwner, ok := s.resolveOwner(w, r)
	if !ok {
		return
	}
	if !isOwner {
		forbidden(w)
		return
	}
	form, ok := readForm(w, r, "title", "description", "is_public")
	if !ok {
		return
	}

	l := models.List{UserID: ownerID, IsPublic: true, Created: models.NewTimestamp(s.now())}
	errs := fieldErrors{}
	if _, present := form["title"]; !present || strings.TrimSpace(form.Get("title")) == "" {
		errs.add("title", msgRequired)
	}
	applyListForm(&l, form, errs)
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	created, err := s.store.CreateList(r.Context(), l)
	if errors.Is(err, storage.ErrDuplicate) {
		writeJSON(w, http.StatusUnprocessableEntity, fieldErrors{"title": {"Invalid title: a list with this title already exists."}})
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Info("list created", "owner", ownerID, "slug", created.Slug)
	w.Header().Set("Location", absoluteURL(r, listPath(ownerID, created.Slug)))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDetail(w http.ResponseWriter, r *http.Request) {
	a, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.list)
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	a, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	if !a.isOwner {
		forbidden(w)
		return
	}
	form, ok := readForm(w, r, "title", "description", "is_public")
	if !ok {
		return
	}
	if len(form) == 0 {
		writeMessage(w, http.StatusBadRequest, msgEmptyBody)
		return
	}

	l := *a.list
	errs := fieldErrors{}
	if _, present := form["title"]; present && strings.TrimSpace(form.Get("title")) == "" {
		errs.add("title", msgRequired)
	}
	applyListForm(&l, form, errs)
	// the slug is part of the list's URL and stays put on rename
	l.Slug = a.list.Slug
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	updated, err := s.store.UpdateList(r.Context(), l)
	if errors.Is(err, storage.ErrDuplicate) {
		writeJSON(w, http.StatusUnprocessableEntity, fieldErrors{"title": {"Invalid title: a list with this title already exists."}})
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	a, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	items, err := s.store.Items(r.Context(), *a.list)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	a, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	if !a.isOwner {
		forbidden(w)
		return
	}
	form, ok := readForm(w, r, "description", "details", "due", "is_done")
	if !ok {
		return
	}

	var it models.Item
	errs := fieldErrors{}
	if strings.TrimSpace(form.Get("description")) == "" {
		errs.add("description", msgRequired)
	}
	applyItemForm(&it, form, errs)
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	created, err := s.store.CreateItem(r.Context(), *a.list, it)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Location", absoluteURL(r, itemPath(a.ownerID, a.list.Slug, created.ID)))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	a, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	it, ok := s.resolveItem(w, r, a)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	a, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	it, ok := s.resolveItem(w, r, a)
	if !ok {
		return
	}
	if !a.isOwner {
		forbidden(w)
		return
	}
	form, ok := readForm(w, r, "description", "details", "due", "is_done")
	if !ok {
		return
	}
	if len(form) == 0 {
		writeMessage(w, http.StatusBadRequest, msgEmptyBody)
		return
	}

	errs := fieldErrors{}
	if _, present := form["description"]; present && strings.TrimSpace(form.Get("description")) == "" {
		errs.add("description", msgRequired)
	}
	applyItemForm(it, form, errs)
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errs)
		return
	}

	updated, err := s.store.UpdateItem(r.Context(), *a.list, *it)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Debug("item updated", "slug", a.list.Slug, "item", updated.ID, "done", updated.IsDone)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) resolveItem(w http.ResponseWriter, r *http.Request, a *access) (*models.Item, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["itemID"], 10, 64)
	if err != nil {
		notFound(w)
		return nil, false
	}
	it, err := s.store.Item(r.Context(), *a.list, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(w)
		} else {
			s.serverError(w, r, err)
		}
		return nil, false
	}
	return it, true
}

// applyListForm copies the submitted list fields onto l, recording
// validation failures in errs.
func applyListForm(l *models.List, form url.Values, errs fieldErrors) {
	if _, ok := form["title"]; ok {
		title := strings.TrimSpace(form.Get("title"))
		switch {
		case title == "":
		case utf8.RuneCountInString(title) > maxTitleLen:
			errs.add("title", "Field cannot be longer than %d characters.", maxTitleLen)
		case slug.FromTitle(title) == "":
			errs.add("title", "Invalid title: it must contain letters or digits.")
		default:
			l.Title = title
			l.Slug = slug.FromTitle(title)
		}
	}
	if _, ok := form["description"]; ok {
		desc := strings.TrimSpace(form.Get("description"))
		if utf8.RuneCountInString(desc) > maxDescriptionLen {
			errs.add("description", "Field cannot be longer than %d characters.", maxDescriptionLen)
		} else {
			l.Description = desc
		}
	}
	if _, ok := form["is_public"]; ok {
		public, err := strconv.ParseBool(form.Get("is_public"))
		if err != nil {
			errs.add("is_public", "Not a valid boolean.")
		} else {
			l.IsPublic = public
		}
	}
}

func applyItemForm(it *models.Item, form url.Values, errs fieldErrors) {
	if _, ok := form["description"]; ok {
		desc := strings.TrimSpace(form.Get("description"))
		if utf8.RuneCountInString(desc) > maxItemTextLen {
			errs.add("description", "Field cannot be longer than %d characters.", maxItemTextLen)
		} else if desc != "" {
			it.Description = desc
		}
	}
	if _, ok := form["details"]; ok {
		details := strings.TrimSpace(form.Get("details"))
		if utf8.RuneCountInString(details) > maxDetailsLen {
			errs.add("details", "Field cannot be longer than %d characters.", maxDetailsLen)
		} else {
			it.Details = details
		}
	}
	if _, ok := form["due"]; ok {
		raw := strings.TrimSpace(form.Get("due"))
		if raw == "" {
			it.Due = nil
		} else if due, err := models.ParseDue(raw); err != nil {
			errs.add("due", "Not a valid datetime value.")
		} else {
			ts := models.NewTimestamp(due)
			it.Due = &ts
		}
	}
	if _, ok := form["is_done"]; ok {
		done, err := strconv.ParseBool(form.Get("is_done"))
		if err != nil {
			errs.add("is_done", "Not a valid boolean.")
		} else {
			it.IsDone = done
		}
	}
}

func listPath(ownerID int64, listSlug string) string {
	return "/todo/api/" + strconv.FormatInt(ownerID, 10) + "/lists/" + listSlug
}

func itemPath(ownerID int64, listSlug string, itemID int64) string {
	return listPath(ownerID, listSlug) + "/items/" + strconv.FormatInt(itemID, 10)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	id, _ := r.Context().Value(requestIDKey).(string)
	s.log.Error("request failed", "path", r.URL.Path, "request_id", id, "err", err)
	writeMessage(w, http.StatusInternalServerError, "Internal server error.")
}
