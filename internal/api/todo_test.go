package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esther/internal/auth"
	"esther/internal/models"
	"esther/internal/storage"
)

type fixture struct {
	t      *testing.T
	store  *storage.Store
	tokens *auth.Issuer
	router http.Handler
}

func newFixture(t *testing.T, allowAnonymous bool) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "todo.db"), log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	srv := NewServer(store, tokens, Options{AllowAnonymous: allowAnonymous})
	return &fixture{t: t, store: store, tokens: tokens, router: srv.Router()}
}

func (f *fixture) createUser(email, password string) (*models.User, string) {
	f.t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(f.t, err)
	u, err := f.store.CreateUser(context.Background(), models.User{Email: email, ShortName: "user", Password: hash})
	require.NoError(f.t, err)
	token, err := f.tokens.Issue(u.ID)
	require.NoError(f.t, err)
	return u, token
}

func (f *fixture) createList(ownerID int64, title string, public bool) *models.List {
	f.t.Helper()
	l, err := f.store.CreateList(context.Background(), models.List{
		UserID: ownerID, Title: title, Slug: strings.ToLower(strings.ReplaceAll(title, " ", "-")), IsPublic: public,
	})
	require.NoError(f.t, err)
	return l
}

func (f *fixture) do(method, target, token string, form url.Values) *httptest.ResponseRecorder {
	f.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGetListsFiltersPrivateForStrangers(t *testing.T) {
	f := newFixture(t, false)
	owner, ownerToken := f.createUser("ryan@example.com", "pw")
	_, otherToken := f.createUser("danny@example.com", "pw")
	f.createList(owner.ID, "Upcoming Travel Plans", true)
	f.createList(owner.ID, "Private Things", false)

	path := "/todo/api/" + itoa(owner.ID) + "/lists"

	rec := f.do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, decode[[]models.List](t, rec), 1)

	assert.Len(t, decode[[]models.List](t, f.do(http.MethodGet, path, ownerToken, nil)), 2)
	assert.Len(t, decode[[]models.List](t, f.do(http.MethodGet, path, otherToken, nil)), 1)
}

func TestGetListsUnknownOwner(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/todo/api/999/lists", "", nil).Code)
}

func TestPostListCreatesWithLocation(t *testing.T) {
	f := newFixture(t, false)
	owner, token := f.createUser("ryan@example.com", "pw")
	path := "/todo/api/" + itoa(owner.ID) + "/lists"

	rec := f.do(http.MethodPost, path, token, url.Values{"title": {"Some sort of title"}, "description": {"This is a new list."}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[models.List](t, rec)
	assert.Equal(t, "some-sort-of-title", created.Slug)
	assert.True(t, created.IsPublic)
	assert.Equal(t, "http://example.com"+path+"/some-sort-of-title", rec.Header().Get("Location"))
}

func TestPostListAsAnotherUserFails(t *testing.T) {
	f := newFixture(t, false)
	owner, _ := f.createUser("ryan@example.com", "pw")
	_, otherToken := f.createUser("jim@example.com", "pw")
	path := "/todo/api/" + itoa(owner.ID) + "/lists"
	form := url.Values{"title": {"Mine"}}

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, path, "", form).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, path, otherToken, form).Code)
}

func TestPostListDuplicateTitleOrSlugFails(t *testing.T) {
	f := newFixture(t, false)
	owner, token := f.createUser("ryan@example.com", "pw")
	path := "/todo/api/" + itoa(owner.ID) + "/lists"

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, path, token, url.Values{"title": {"Groceries"}}).Code)

	for _, title := range []string{"Groceries", "GROCERIES", "groceries!"} {
		rec := f.do(http.MethodPost, path, token, url.Values{"title": {title}})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, title)
		errs := decode[map[string][]string](t, rec)
		assert.True(t, strings.HasPrefix(errs["title"][0], "Invalid title"), errs)
	}
}

func TestAnonymousUserSharesListsOfUserOne(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(http.MethodPost, "/todo/api/1/lists", "", url.Values{"title": {"Shared"}, "is_public": {"false"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	lists := decode[[]models.List](t, f.do(http.MethodGet, "/todo/api/1/lists", "", nil))
	require.Len(t, lists, 1)
	assert.False(t, lists[0].IsPublic)
}

func TestPatchList(t *testing.T) {
	f := newFixture(t, false)
	owner, token := f.createUser("ryan@example.com", "pw")
	l := f.createList(owner.ID, "Chores", true)
	path := "/todo/api/" + itoa(owner.ID) + "/lists/" + l.Slug

	rec := f.do(http.MethodPatch, path, token, url.Values{"title": {"Another version of the title"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.List](t, rec)
	assert.Equal(t, "Another version of the title", updated.Title)
	assert.Equal(t, l.Slug, updated.Slug)
	assert.True(t, updated.IsPublic)

	rec = f.do(http.MethodPatch, path, token, url.Values{"title": {strings.Repeat("x", 129)}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPatch, path, token, url.Values{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgEmptyBody, decode[map[string]string](t, rec)["message"])

	rec = f.do(http.MethodPatch, path, token, url.Values{"window": {"cleaner"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgInvalidParameters, decode[map[string]string](t, rec)["message"])
}

func TestPatchPrivateListDoesNotLeakExistence(t *testing.T) {
	f := newFixture(t, false)
	owner, _ := f.createUser("ryan@example.com", "pw")
	private := f.createList(owner.ID, "Hidden", false)
	public := f.createList(owner.ID, "Visible", true)
	base := "/todo/api/" + itoa(owner.ID) + "/lists/"
	form := url.Values{"title": {"x"}}

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, base+private.Slug, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPatch, base+private.Slug, "", form).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPatch, base+public.Slug, "", form).Code)
}

func TestItemsLifecycle(t *testing.T) {
	f := newFixture(t, false)
	owner, token := f.createUser("ryan@example.com", "pw")
	l := f.createList(owner.ID, "Errands", true)
	itemsPath := "/todo/api/" + itoa(owner.ID) + "/lists/" + l.Slug + "/items"

	rec := f.do(http.MethodPost, itemsPath, token, url.Values{
		"description": {"Buy four pieces of shrimp."},
		"details":     {"Bottom shelf, aisle 12."},
		"due":         {"Sat, 09 Mar 2013 10:15:39 GMT"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"due":"Sat, 09 Mar 2013 10:15:39 GMT"`)
	created := decode[models.Item](t, rec)
	require.NotNil(t, created.Due)
	assert.Equal(t, time.Date(2013, 3, 9, 10, 15, 39, 0, time.UTC), created.Due.UTC())
	assert.Equal(t, l.Slug, created.Slug)
	assert.Equal(t, "http://example.com"+itemsPath+"/"+itoa(created.ID), rec.Header().Get("Location"))

	rec = f.do(http.MethodPost, itemsPath, token, url.Values{"details": {"no description"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, msgRequired, decode[map[string][]string](t, rec)["description"][0])

	itemPath := itemsPath + "/" + itoa(created.ID)
	rec = f.do(http.MethodPatch, itemPath, token, url.Values{"is_done": {"true"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Item](t, rec)
	assert.True(t, updated.IsDone)
	assert.Equal(t, "Buy four pieces of shrimp.", updated.Description)

	rec = f.do(http.MethodPatch, itemPath, token, url.Values{"due": {strings.Repeat("x", 256)}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPatch, itemPath, "", url.Values{"is_done": {"false"}}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, itemsPath+"/999", "", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		f.do(http.MethodGet, "/todo/api/"+itoa(owner.ID)+"/lists/some-invalid-slug/items/"+itoa(created.ID), "", nil).Code)

	items := decode[[]models.Item](t, f.do(http.MethodGet, itemsPath, "", nil))
	require.Len(t, items, 1)
	assert.True(t, items[0].IsDone)
}

func TestItemsOfPrivateListAreHidden(t *testing.T) {
	f := newFixture(t, false)
	owner, token := f.createUser("ryan@example.com", "pw")
	l := f.createList(owner.ID, "Hidden", false)
	itemsPath := "/todo/api/" + itoa(owner.ID) + "/lists/" + l.Slug + "/items"

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, itemsPath, "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, itemsPath, token, nil).Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, false)
	u, _ := f.createUser("ryan@example.com", "correct horse")

	rec := f.do(http.MethodPost, "/todo/api/login", "", url.Values{"email": {"ryan@example.com"}, "password": {"correct horse"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	id, err := f.tokens.Parse(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	rec = f.do(http.MethodPost, "/todo/api/login", "", url.Values{"email": {"ryan@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvalidTokenIsRejected(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(http.MethodGet, "/todo/api/1/lists", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIndexAdvertisesURLsAndUser(t *testing.T) {
	f := newFixture(t, true)
	u, token := f.createUser("ryan@example.com", "pw")

	rec := f.do(http.MethodGet, "/todo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `itemprop="todo-api" href="/todo/api"`)
	assert.NotContains(t, rec.Body.String(), "data-user-id")

	rec = f.do(http.MethodGet, "/todo", token, nil)
	assert.Contains(t, rec.Body.String(), `data-user-id="`+itoa(u.ID)+`"`)
}

func TestRequestIDAndCORSHeaders(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	rec = f.do(http.MethodOptions, "/todo/api/1/lists", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestTimestampsAreHTTPDates(t *testing.T) {
	f := newFixture(t, false)
	srv := NewServer(f.store, f.tokens, Options{})
	srv.now = func() time.Time { return time.Date(2013, 3, 9, 10, 15, 39, 0, time.UTC) }
	f.router = srv.Router()

	owner, token := f.createUser("ryan@example.com", "pw")
	path := "/todo/api/" + itoa(owner.ID) + "/lists"
	rec := f.do(http.MethodPost, path, token, url.Values{"title": {"Dated"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"created":"Sat, 09 Mar 2013 10:15:39 GMT"`)

	rec = f.do(http.MethodPost, path+"/dated/items", token, url.Values{"description": {"no due"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"due":null`)

	lists := decode[[]models.List](t, f.do(http.MethodGet, path, token, nil))
	require.Len(t, lists, 1)
	assert.Equal(t, time.Date(2013, 3, 9, 10, 15, 39, 0, time.UTC), lists[0].Created.Time)
}
