// Package api serves the todo REST endpoints and the host page the client
// bootstraps from.
package api

import (
	"context"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"esther/internal/models"
)

// Store is the persistence the handlers need.
type Store interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	Lists(ctx context.Context, ownerID int64, includePrivate bool) ([]models.List, error)
	ListBySlug(ctx context.Context, ownerID int64, slug string) (*models.List, error)
	CreateList(ctx context.Context, l models.List) (*models.List, error)
	UpdateList(ctx context.Context, l models.List) (*models.List, error)
	Items(ctx context.Context, list models.List) ([]models.Item, error)
	Item(ctx context.Context, list models.List, id int64) (*models.Item, error)
	CreateItem(ctx context.Context, list models.List, it models.Item) (*models.Item, error)
	UpdateItem(ctx context.Context, list models.List, it models.Item) (*models.Item, error)
}

// Tokens issues and validates bearer tokens.
type Tokens interface {
	Issue(userID int64) (string, error)
	Parse(raw string) (int64, error)
}

type Options struct {
	// AllowAnonymous lets requests without a token act as the shared
	// anonymous user.
	AllowAnonymous bool
	Logger         *log.Logger
}

type Server struct {
	store          Store
	tokens         Tokens
	log            *log.Logger
	allowAnonymous bool
	page           *template.Template
	now            func() time.Time
}

func NewServer(store Store, tokens Tokens, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{
		store:          store,
		tokens:         tokens,
		log:            logger,
		allowAnonymous: opts.AllowAnonymous,
		page:           template.Must(template.New("index").Parse(indexHTML)),
		now:            time.Now,
	}
}

// Router wires every route and middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, s.accessLogMiddleware, corsMiddleware, s.authMiddleware)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/todo", s.handleIndex).Methods(http.MethodGet)

	api := r.PathPrefix("/todo/api").Subrouter()
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/{userID:[0-9]+}/lists", s.handleLists).Methods(http.MethodGet)
	api.HandleFunc("/{userID:[0-9]+}/lists", s.handleCreateList).Methods(http.MethodPost)
	api.HandleFunc("/{userID:[0-9]+}/lists/{slug}", s.handleListDetail).Methods(http.MethodGet)
	api.HandleFunc("/{userID:[0-9]+}/lists/{slug}", s.handleUpdateList).Methods(http.MethodPatch)
	api.HandleFunc("/{userID:[0-9]+}/lists/{slug}/items", s.handleItems).Methods(http.MethodGet)
	api.HandleFunc("/{userID:[0-9]+}/lists/{slug}/items", s.handleCreateItem).Methods(http.MethodPost)
	api.HandleFunc("/{userID:[0-9]+}/lists/{slug}/items/{itemID:[0-9]+}", s.handleItemDetail).Methods(http.MethodGet)
	api.HandleFunc("/{userID:[0-9]+}/lists/{slug}/items/{itemID:[0-9]+}", s.handleUpdateItem).Methods(http.MethodPatch)

	// Preflight requests are answered by the CORS middleware.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	return r
}

type indexLink struct {
	Name string
	URL  string
}

type indexModel struct {
	UserID string
	Links  []indexLink
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	model := indexModel{
		Links: []indexLink{
			{Name: "home", URL: "/"},
			{Name: "todo-api", URL: "/todo/api"},
			{Name: "login", URL: "/todo/api/login"},
		},
	}
	if id, ok := authenticatedUser(r.Context()); ok {
		model.UserID = strconv.FormatInt(id, 10)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, model); err != nil {
		s.log.Error("render index", "err", err)
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>TODO</title>
{{- range .Links}}
<link data-register-url itemprop="{{.Name}}" href="{{.URL}}">
{{- end}}
</head>
<body>
<div role="main" data-ng-app="todoApp"{{if .UserID}} data-user-id="{{.UserID}}"{{end}}>
<h1>TODO</h1>
</div>
</body>
</html>
`
